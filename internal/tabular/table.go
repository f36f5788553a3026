package tabular

import (
	"errors"
	"fmt"
	"math"
)

// Column is a named, typed sequence of values. A nil element is null.
type Column struct {
	Name   string
	Type   Type
	Values []any
}

// NewColumn creates a column. values is used without copying.
func NewColumn(name string, typ Type, values []any) *Column {
	if values == nil {
		values = []any{}
	}
	return &Column{Name: name, Type: typ, Values: values}
}

// Len returns the number of values.
func (c *Column) Len() int {
	return len(c.Values)
}

// NullCount returns the number of null values.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

func (c *Column) clone() *Column {
	values := make([]any, len(c.Values))
	copy(values, c.Values)
	return &Column{Name: c.Name, Type: c.Type, Values: values}
}

// Convert retypes the column. It fails closed: if any non-null value cannot
// be represented as target, the column is left unchanged and the error names
// the first offending row. Float NaN values become null.
func (c *Column) Convert(target Type) error {
	if c.Type == target {
		return nil
	}
	out := make([]any, len(c.Values))
	for i, v := range c.Values {
		if v == nil {
			continue
		}
		cv, err := convertValue(v, c.Type, target)
		if err != nil {
			return fmt.Errorf("column %q row %d: %w", c.Name, i, err)
		}
		if f, ok := cv.(float64); ok && math.IsNaN(f) {
			continue
		}
		out[i] = cv
	}
	c.Values = out
	c.Type = target
	return nil
}

// ConvertFunc retypes a String column using parse for every non-null value.
// Like Convert, it changes nothing unless every value parses.
func (c *Column) ConvertFunc(target Type, parse func(string) (any, error)) error {
	if c.Type != String {
		return fmt.Errorf("column %q: ConvertFunc requires a string column, have %s", c.Name, c.Type)
	}
	out := make([]any, len(c.Values))
	for i, v := range c.Values {
		if v == nil {
			continue
		}
		cv, err := parse(v.(string))
		if err != nil {
			return fmt.Errorf("column %q row %d: %w", c.Name, i, err)
		}
		if !target.matches(cv) {
			return fmt.Errorf("column %q row %d: parser returned %T for %s", c.Name, i, cv, target)
		}
		out[i] = cv
	}
	c.Values = out
	c.Type = target
	return nil
}

func convertValue(v any, from, to Type) (any, error) {
	if to == String {
		return FormatValue(v), nil
	}
	switch from {
	case String:
		return ParseValue(v.(string), to)
	case Integer:
		i := v.(int64)
		switch to {
		case Float:
			return float64(i), nil
		case Boolean:
			if i == 0 || i == 1 {
				return i == 1, nil
			}
		}
	case Float:
		f := v.(float64)
		if to == Integer && f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), nil
		}
	case Boolean:
		b := v.(bool)
		switch to {
		case Integer:
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		case Float:
			if b {
				return 1.0, nil
			}
			return 0.0, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %s value %v to %s", from, v, to)
}

// Table is an ordered set of equal-length columns.
type Table struct {
	Columns []*Column
}

// New creates a table from columns.
func New(columns ...*Column) *Table {
	return &Table{Columns: columns}
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// NumCols returns the column count.
func (t *Table) NumCols() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	if i := t.Index(name); i >= 0 {
		return t.Columns[i]
	}
	return nil
}

// Row returns the values of row i across all columns.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.Columns))
	for j, c := range t.Columns {
		row[j] = c.Values[i]
	}
	return row
}

// Validate checks the table invariants: equal column lengths, unique
// names and values that match their column's type tag.
func (t *Table) Validate() error {
	if t == nil {
		return errors.New("nil table")
	}
	seen := make(map[string]bool, len(t.Columns))
	rows := t.NumRows()
	for i, c := range t.Columns {
		if c == nil {
			return fmt.Errorf("column %d is nil", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column name %q", c.Name)
		}
		seen[c.Name] = true
		if len(c.Values) != rows {
			return fmt.Errorf("column %q has %d rows, want %d", c.Name, len(c.Values), rows)
		}
		for r, v := range c.Values {
			if v != nil && !c.Type.matches(v) {
				return fmt.Errorf("column %q row %d: %T is not a %s value", c.Name, r, v, c.Type)
			}
		}
	}
	return nil
}

// Keep returns a new table holding only the given rows, in the given order.
func (t *Table) Keep(rows []int) *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for j, c := range t.Columns {
		values := make([]any, len(rows))
		for k, r := range rows {
			values[k] = c.Values[r]
		}
		out.Columns[j] = &Column{Name: c.Name, Type: c.Type, Values: values}
	}
	return out
}

// Clone returns a copy whose columns and value slices can be modified
// without affecting t.
func (t *Table) Clone() *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		out.Columns[i] = c.clone()
	}
	return out
}

// Concat appends the rows of b to those of a and returns a new table. Both
// tables must have the same column names in the same order. Column types
// widen: integer and float become float, null adopts the other type and
// any other mix becomes string.
func Concat(a, b *Table) (*Table, error) {
	if a == nil || a.NumCols() == 0 {
		return b.Clone(), nil
	}
	if b == nil || b.NumCols() == 0 {
		return a.Clone(), nil
	}
	if a.NumCols() != b.NumCols() {
		return nil, fmt.Errorf("concat: %d columns vs %d", a.NumCols(), b.NumCols())
	}

	out := &Table{Columns: make([]*Column, a.NumCols())}
	for i := range a.Columns {
		ca, cb := a.Columns[i].clone(), b.Columns[i].clone()
		if ca.Name != cb.Name {
			return nil, fmt.Errorf("concat: column %d is %q vs %q", i, ca.Name, cb.Name)
		}
		typ := widen(ca.Type, cb.Type)
		if err := ca.Convert(typ); err != nil {
			return nil, fmt.Errorf("concat: %w", err)
		}
		if err := cb.Convert(typ); err != nil {
			return nil, fmt.Errorf("concat: %w", err)
		}
		ca.Values = append(ca.Values, cb.Values...)
		out.Columns[i] = ca
	}
	return out, nil
}

// Append concatenates other onto t, replacing t's columns with the widened
// result. See Concat.
func (t *Table) Append(other *Table) error {
	out, err := Concat(t, other)
	if err != nil {
		return err
	}
	t.Columns = out.Columns
	return nil
}
