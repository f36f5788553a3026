package extract

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEncoding is used when Options.Encoding is empty.
const DefaultEncoding = "utf-8"

// decodedSource is the text stream handed to the CSV parser.
type decodedSource struct {
	io.Reader

	// Canonical encoding name, e.g. "utf-8" or "windows-1252".
	encoding string

	// strict is true when invalid input surfaces as an *InvalidByteError
	// from the stream itself. Other decoders substitute U+FFFD, which the
	// reader then checks for per field.
	strict bool
}

// newDecodedSource resolves name and wraps r with the matching decoder.
// Names follow the WHATWG encoding labels (latin1, cp1252, utf-16le, ...).
func newDecodedSource(r io.Reader, name string) (*decodedSource, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "" || label == "utf-8" || label == "utf8" {
		return &decodedSource{
			Reader:   NewStrictUTF8Reader(NewBOMSkippingReader(r)),
			encoding: DefaultEncoding,
			strict:   true,
		}, nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = label
	}
	if canonical == DefaultEncoding {
		return &decodedSource{
			Reader:   NewStrictUTF8Reader(NewBOMSkippingReader(r)),
			encoding: DefaultEncoding,
			strict:   true,
		}, nil
	}

	// BOMOverride honours a UTF-8 or UTF-16 BOM over the declared encoding.
	return &decodedSource{
		Reader:   transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())),
		encoding: canonical,
	}, nil
}
