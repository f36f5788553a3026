package tabular

import (
	"strings"
	"testing"
)

func sampleTable() *Table {
	return New(
		NewColumn("id", Integer, []any{int64(1), int64(2), int64(3)}),
		NewColumn("name", String, []any{"Alice", nil, "Charlie"}),
	)
}

func TestTable_Shape(t *testing.T) {
	tbl := sampleTable()
	if got := tbl.NumRows(); got != 3 {
		t.Errorf("NumRows() = %d, want 3", got)
	}
	if got := tbl.NumCols(); got != 2 {
		t.Errorf("NumCols() = %d, want 2", got)
	}
	if got := strings.Join(tbl.Names(), ","); got != "id,name" {
		t.Errorf("Names() = %q, want %q", got, "id,name")
	}
	if tbl.Column("name").NullCount() != 1 {
		t.Errorf("NullCount() = %d, want 1", tbl.Column("name").NullCount())
	}
	if tbl.Column("missing") != nil {
		t.Error("Column(missing) should be nil")
	}
	var nilTable *Table
	if nilTable.NumRows() != 0 || nilTable.NumCols() != 0 {
		t.Error("nil table should have zero shape")
	}
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		table   *Table
		wantErr string
	}{
		{name: "valid", table: sampleTable()},
		{name: "nil", table: nil, wantErr: "nil table"},
		{
			name: "ragged",
			table: New(
				NewColumn("a", Integer, []any{int64(1)}),
				NewColumn("b", Integer, []any{int64(1), int64(2)}),
			),
			wantErr: "has 2 rows",
		},
		{
			name: "duplicate names",
			table: New(
				NewColumn("a", String, []any{"x"}),
				NewColumn("a", String, []any{"y"}),
			),
			wantErr: "duplicate column name",
		},
		{
			name:    "wrong value type",
			table:   New(NewColumn("a", Integer, []any{"1"})),
			wantErr: "is not a integer value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestColumn_ConvertFailsClosed(t *testing.T) {
	col := NewColumn("amount", String, []any{"1", nil, "x", "3"})

	err := col.Convert(Integer)
	if err == nil {
		t.Fatal("Convert() expected error for non-numeric value")
	}
	if !strings.Contains(err.Error(), "row 2") {
		t.Errorf("error should name row 2: %v", err)
	}
	if col.Type != String {
		t.Errorf("Type = %s, want string (unchanged)", col.Type)
	}
	if col.Values[0] != "1" {
		t.Errorf("Values[0] = %v, want unchanged \"1\"", col.Values[0])
	}
}

func TestColumn_Convert(t *testing.T) {
	tests := []struct {
		name    string
		col     *Column
		target  Type
		want    []any
		wantErr bool
	}{
		{
			name:   "string to integer",
			col:    NewColumn("c", String, []any{"1", nil, "-2"}),
			target: Integer,
			want:   []any{int64(1), nil, int64(-2)},
		},
		{
			name:   "nan text reads as null",
			col:    NewColumn("c", String, []any{"2.5", "NAN", "Nan", "1"}),
			target: Float,
			want:   []any{2.5, nil, nil, 1.0},
		},
		{
			name:   "integer to float",
			col:    NewColumn("c", Integer, []any{int64(2)}),
			target: Float,
			want:   []any{2.0},
		},
		{
			name:   "integral float to integer",
			col:    NewColumn("c", Float, []any{4.0}),
			target: Integer,
			want:   []any{int64(4)},
		},
		{
			name:    "fractional float to integer",
			col:     NewColumn("c", Float, []any{4.5}),
			target:  Integer,
			wantErr: true,
		},
		{
			name:   "anything to string",
			col:    NewColumn("c", Boolean, []any{true, nil}),
			target: String,
			want:   []any{"true", nil},
		},
		{
			name:   "null column retags",
			col:    NewColumn("c", Null, []any{nil, nil}),
			target: Float,
			want:   []any{nil, nil},
		},
		{
			name:    "non-null to null",
			col:     NewColumn("c", String, []any{"x"}),
			target:  Null,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.col.Convert(tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Convert() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.col.Type != tt.target {
				t.Errorf("Type = %s, want %s", tt.col.Type, tt.target)
			}
			for i := range tt.want {
				if tt.col.Values[i] != tt.want[i] {
					t.Errorf("Values[%d] = %v (%T), want %v (%T)", i, tt.col.Values[i], tt.col.Values[i], tt.want[i], tt.want[i])
				}
			}
		})
	}
}

func TestColumn_ConvertFunc(t *testing.T) {
	col := NewColumn("price", String, []any{"$1,000", nil, "(5)"})
	err := col.ConvertFunc(Float, func(s string) (any, error) { return ParseNumeric(s) })
	if err != nil {
		t.Fatalf("ConvertFunc() error = %v", err)
	}
	if col.Values[0] != 1000.0 || col.Values[1] != nil || col.Values[2] != -5.0 {
		t.Errorf("Values = %v, want [1000 <nil> -5]", col.Values)
	}

	intCol := NewColumn("n", Integer, []any{int64(1)})
	if err := intCol.ConvertFunc(Float, func(s string) (any, error) { return ParseNumeric(s) }); err == nil {
		t.Error("ConvertFunc() on integer column expected error")
	}
}

func TestTable_KeepAndClone(t *testing.T) {
	tbl := sampleTable()
	kept := tbl.Keep([]int{2, 0})
	if kept.NumRows() != 2 {
		t.Fatalf("Keep() rows = %d, want 2", kept.NumRows())
	}
	if kept.Columns[1].Values[0] != "Charlie" || kept.Columns[1].Values[1] != "Alice" {
		t.Errorf("Keep() values = %v, want [Charlie Alice]", kept.Columns[1].Values)
	}

	clone := tbl.Clone()
	clone.Columns[0].Values[0] = int64(99)
	clone.Columns[0].Name = "changed"
	if tbl.Columns[0].Values[0] != int64(1) || tbl.Columns[0].Name != "id" {
		t.Error("Clone() shares state with the original")
	}
}

func TestConcat(t *testing.T) {
	a := New(
		NewColumn("n", Integer, []any{int64(1)}),
		NewColumn("s", Null, []any{nil}),
	)
	b := New(
		NewColumn("n", Float, []any{2.5}),
		NewColumn("s", String, []any{"x"}),
	)

	got, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if got.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", got.NumRows())
	}
	if got.Columns[0].Type != Float || got.Columns[0].Values[0] != 1.0 {
		t.Errorf("column n = %s %v, want float [1 2.5]", got.Columns[0].Type, got.Columns[0].Values)
	}
	if got.Columns[1].Type != String {
		t.Errorf("column s type = %s, want string", got.Columns[1].Type)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	if _, err := Concat(a, New(NewColumn("other", Integer, []any{int64(1)}), NewColumn("s", Null, []any{nil}))); err == nil {
		t.Error("Concat() with mismatched names expected error")
	}

	empty, err := Concat(nil, a)
	if err != nil || empty.NumRows() != 1 {
		t.Errorf("Concat(nil, a) = %v rows, err %v", empty.NumRows(), err)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"int", Integer, false},
		{"Float", Float, false},
		{"date", Timestamp, false},
		{"text", String, false},
		{"bool", Boolean, false},
		{"blob", Null, true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseType(%q) = %v, %v; want %v, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
