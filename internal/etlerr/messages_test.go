package etlerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "not found kind", err: New(NotFound, "file not found: a.csv"), wantCode: "EXT001"},
		{name: "encoding kind", err: New(EncodingError, "encoding error (utf-8)"), wantCode: "EXT004"},
		{name: "type mismatch kind", err: New(TypeMismatch, "expected table, got nil"), wantCode: "TRN001"},
		{
			name:     "pattern wins over kind",
			err:      Wrap(WriteError, errors.New("ERROR: duplicate key value violates unique constraint"), "copy chunk 1"),
			wantCode: "LOD004",
		},
		{name: "write kind fallback", err: New(WriteError, "copy chunk 2"), wantCode: "LOD003"},
		{name: "wrapped connection", err: fmt.Errorf("load: %w", New(ConnectionError, "ping")), wantCode: "LOD002"},
		{name: "run in progress pattern", err: errors.New("run already in progress"), wantCode: "RUN002"},
		{name: "unknown run pattern", err: fmt.Errorf("lookup: %w", errors.New("run not found")), wantCode: "RUN004"},
		{name: "case insensitive", err: errors.New("ACCESS DENIED for user"), wantCode: "LOD006"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError().Code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(New(Empty, "file is empty"))
	want := "Source file is empty (Code: EXT002). Provide a file with a header row"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true")
	}
	if !IsUserFacing(New(ParseError, "bad")) {
		t.Error("IsUserFacing(ParseError) = false")
	}
	if IsUserFacing(errors.New("mystery")) {
		t.Error("IsUserFacing(unclassified) = true")
	}
}
