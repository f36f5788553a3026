package extract

// streaming.go provides the byte-level readers placed between the source
// file and the CSV parser:
//
//   - BOMSkippingReader: removes a UTF-8 BOM (0xEF 0xBB 0xBF) written by Windows tools
//   - StrictUTF8Reader: passes valid UTF-8 through and fails at the first invalid byte
//
// They stream with O(buffer) memory so large files are never loaded twice.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// InvalidByteError reports the first byte sequence that is not valid in the
// declared encoding. Offset counts bytes of the source after any BOM.
type InvalidByteError struct {
	Encoding string
	Offset   int64
}

func (e *InvalidByteError) Error() string {
	return fmt.Sprintf("invalid %s byte sequence at offset %d", e.Encoding, e.Offset)
}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReader(r)}
}

// Read implements io.Reader. The first call discards a leading BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(len(utf8BOM))
		if err != nil && err != io.EOF {
			return 0, err
		}
		if bytes.Equal(head, utf8BOM) {
			if _, err := r.br.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return r.br.Read(p)
}

// StrictUTF8Reader passes UTF-8 through unchanged and returns an
// *InvalidByteError at the first invalid sequence. Bytes before the bad
// sequence are delivered first; the error is returned once they are
// consumed and on every call after that.
type StrictUTF8Reader struct {
	reader io.Reader
	raw    []byte
	buf    []byte // validated bytes not yet returned

	// Leftover bytes from the previous fill that may start a multi-byte rune
	pending []byte

	offset int64
	err    error
}

// NewStrictUTF8Reader creates a validating reader.
func NewStrictUTF8Reader(r io.Reader) *StrictUTF8Reader {
	return &StrictUTF8Reader{
		reader:  r,
		raw:     make([]byte, 4096),
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader.
func (s *StrictUTF8Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		s.fill()
		if len(s.buf) == 0 {
			return 0, s.err
		}
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// fill reads the next block and validates it up to the first invalid or
// incomplete sequence.
func (s *StrictUTF8Reader) fill() {
	n := copy(s.raw, s.pending)
	s.pending = s.pending[:0]

	m, err := s.reader.Read(s.raw[n:])
	n += m
	data := s.raw[:n]

	i := 0
	for i < len(data) {
		if data[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r != utf8.RuneError || size > 1 {
			i += size
			continue
		}
		// A rune split across reads completes on the next fill.
		if err == nil && !utf8.FullRune(data[i:]) {
			s.pending = append(s.pending, data[i:]...)
			break
		}
		s.err = &InvalidByteError{Encoding: "utf-8", Offset: s.offset + int64(i)}
		break
	}

	s.buf = data[:i]
	s.offset += int64(i)
	if s.err == nil && err != nil {
		s.err = err
	}
}
