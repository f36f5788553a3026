// Package tabular provides the in-memory columnar table passed between
// pipeline stages.
//
// A Table is an ordered list of named columns of equal length. Each column
// carries a type tag and holds its values as []any, where nil is null and a
// non-nil value always has the Go type matching the tag:
//
//	String    string
//	Integer   int64
//	Float     float64
//	Boolean   bool
//	Timestamp time.Time
//	Null      (only nil)
package tabular

import (
	"fmt"
	"strings"
	"time"
)

// Type is the scalar type tag of a column.
type Type int

const (
	Null Type = iota
	String
	Integer
	Float
	Boolean
	Timestamp
)

var typeNames = [...]string{
	Null:      "null",
	String:    "string",
	Integer:   "integer",
	Float:     "float",
	Boolean:   "boolean",
	Timestamp: "timestamp",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType parses a type name. Common aliases (int, bool, date, text) are
// accepted.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "null":
		return Null, nil
	case "string", "str", "text":
		return String, nil
	case "integer", "int", "int64", "bigint":
		return Integer, nil
	case "float", "float64", "double", "numeric":
		return Float, nil
	case "boolean", "bool":
		return Boolean, nil
	case "timestamp", "datetime", "date", "time":
		return Timestamp, nil
	default:
		return Null, fmt.Errorf("unknown column type %q", s)
	}
}

// IsNumeric reports whether the type holds numbers.
func (t Type) IsNumeric() bool {
	return t == Integer || t == Float
}

// matches reports whether v is a legal non-null value for the type.
func (t Type) matches(v any) bool {
	switch t {
	case String:
		_, ok := v.(string)
		return ok
	case Integer:
		_, ok := v.(int64)
		return ok
	case Float:
		_, ok := v.(float64)
		return ok
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Timestamp:
		_, ok := v.(time.Time)
		return ok
	default:
		return false
	}
}

// widen returns the narrowest type able to hold values of both a and b.
func widen(a, b Type) Type {
	switch {
	case a == b:
		return a
	case a == Null:
		return b
	case b == Null:
		return a
	case a.IsNumeric() && b.IsNumeric():
		return Float
	default:
		return String
	}
}
