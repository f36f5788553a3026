package extract

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewBOMSkippingReader(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestStrictUTF8Reader(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		oneByte    bool
		expected   string
		wantOffset int64 // -1 for no error
	}{
		{
			name:       "valid ASCII",
			input:      []byte("hello,world"),
			expected:   "hello,world",
			wantOffset: -1,
		},
		{
			name:       "valid multibyte",
			input:      []byte("café,naïve"),
			expected:   "café,naïve",
			wantOffset: -1,
		},
		{
			name:       "multibyte split across reads",
			input:      []byte("héllo €"),
			oneByte:    true,
			expected:   "héllo €",
			wantOffset: -1,
		},
		{
			name:       "invalid byte",
			input:      []byte{'h', 'e', 0x80, 'l', 'o'},
			expected:   "he",
			wantOffset: 2,
		},
		{
			name:       "invalid byte with one-byte reads",
			input:      []byte{'a', 'b', 'c', 0xFF},
			oneByte:    true,
			expected:   "abc",
			wantOffset: 3,
		},
		{
			name:       "truncated rune at EOF",
			input:      []byte{'a', 0xC3},
			expected:   "a",
			wantOffset: 1,
		},
		{
			name:       "empty input",
			input:      []byte{},
			expected:   "",
			wantOffset: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var src io.Reader = bytes.NewReader(tt.input)
			if tt.oneByte {
				src = iotest.OneByteReader(src)
			}
			result, err := io.ReadAll(NewStrictUTF8Reader(src))
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}

			if tt.wantOffset < 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var invalid *InvalidByteError
			if !errors.As(err, &invalid) {
				t.Fatalf("error = %v, want *InvalidByteError", err)
			}
			if invalid.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", invalid.Offset, tt.wantOffset)
			}
		})
	}
}

func TestStrictUTF8Reader_LargeInput(t *testing.T) {
	input := strings.Repeat("ünïcödé,", 2000)
	result, err := io.ReadAll(NewStrictUTF8Reader(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != input {
		t.Errorf("output differs from input (len %d vs %d)", len(result), len(input))
	}
}

func TestNewDecodedSource(t *testing.T) {
	tests := []struct {
		name         string
		encoding     string
		input        []byte
		wantText     string
		wantEncoding string
		wantErr      bool
	}{
		{name: "default", encoding: "", input: []byte("a,b"), wantText: "a,b", wantEncoding: "utf-8"},
		{name: "utf8 alias", encoding: "UTF8", input: []byte("\xEF\xBB\xBFa"), wantText: "a", wantEncoding: "utf-8"},
		{name: "windows-1252", encoding: "windows-1252", input: []byte("caf\xe9"), wantText: "café", wantEncoding: "windows-1252"},
		{name: "latin1 label", encoding: "latin1", input: []byte("na\xefve"), wantText: "naïve", wantEncoding: "windows-1252"},
		{name: "unknown", encoding: "klingon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := newDecodedSource(bytes.NewReader(tt.input), tt.encoding)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newDecodedSource() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if src.encoding != tt.wantEncoding {
				t.Errorf("encoding = %q, want %q", src.encoding, tt.wantEncoding)
			}
			got, err := io.ReadAll(src)
			if err != nil {
				t.Fatalf("read error: %v", err)
			}
			if string(got) != tt.wantText {
				t.Errorf("text = %q, want %q", got, tt.wantText)
			}
		})
	}
}
