package output

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

func sampleTable() *tabular.Table {
	return tabular.New(
		tabular.NewColumn("id", tabular.Integer, []any{int64(1), int64(2), int64(3)}),
		tabular.NewColumn("customer_name", tabular.String, []any{"Alice", nil, "Charlie, Jr."}),
		tabular.NewColumn("sales_amount", tabular.Float, []any{100.5, 200.0, nil}),
		tabular.NewColumn("active", tabular.Boolean, []any{true, false, nil}),
		tabular.NewColumn("signed_up", tabular.Timestamp, []any{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), nil, nil}),
		tabular.NewColumn("notes", tabular.Null, []any{nil, nil, nil}),
	)
}

func TestCSVSink_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.csv")
	n, err := (&CSVSink{}).Write(context.Background(), sampleTable(), path)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != info.Size() {
		t.Errorf("Write() = %d bytes, file has %d", n, info.Size())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	want := [][]string{
		{"id", "customer_name", "sales_amount", "active", "signed_up", "notes"},
		{"1", "Alice", "100.5", "true", "2024-01-15T00:00:00Z", ""},
		{"2", "", "200", "false", "", ""},
		{"3", "Charlie, Jr.", "", "", "", ""},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if records[i][j] != want[i][j] {
				t.Errorf("record[%d][%d] = %q, want %q", i, j, records[i][j], want[i][j])
			}
		}
	}
}

func TestCSVSink_EmptyTableWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	tbl := tabular.New(tabular.NewColumn("a", tabular.Null, nil))
	if _, err := (&CSVSink{}).Write(context.Background(), tbl, path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a\n" {
		t.Errorf("file = %q, want %q", data, "a\n")
	}
}

func TestParquetSink_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.parquet")
	if _, err := (&ParquetSink{}).Write(context.Background(), sampleTable(), path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		t.Fatalf("OpenParquetFile() error = %v", err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := reader.ReadTable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Release()

	if tbl.NumRows() != 3 {
		t.Errorf("NumRows() = %d, want 3", tbl.NumRows())
	}
	schema := tbl.Schema()
	wantTypes := []arrow.Type{arrow.INT64, arrow.STRING, arrow.FLOAT64, arrow.BOOL, arrow.TIMESTAMP, arrow.STRING}
	if schema.NumFields() != len(wantTypes) {
		t.Fatalf("NumFields() = %d, want %d", schema.NumFields(), len(wantTypes))
	}
	for i, want := range wantTypes {
		if got := schema.Field(i).Type.ID(); got != want {
			t.Errorf("field %s type = %v, want %v", schema.Field(i).Name, got, want)
		}
	}
	if got := schema.Field(1).Name; got != "customer_name" {
		t.Errorf("field 1 name = %q, want customer_name", got)
	}
}

func TestSink_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "x.csv")
	_, err := (&CSVSink{}).Write(ctx, sampleTable(), path)
	if got := etlerr.KindOf(err); got != etlerr.Cancelled {
		t.Errorf("KindOf(err) = %q, want cancelled", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("output file should not exist")
	}
}

func TestSink_OutputError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, sink := range []Sink{&CSVSink{}, &ParquetSink{}} {
		_, err := sink.Write(context.Background(), sampleTable(), filepath.Join(blocker, "out"))
		if got := etlerr.KindOf(err); got != etlerr.OutputError {
			t.Errorf("%T KindOf(err) = %q, want output_error", sink, got)
		}
		_, err = sink.Write(context.Background(), nil, filepath.Join(dir, "nil"))
		if got := etlerr.KindOf(err); got != etlerr.OutputError {
			t.Errorf("%T nil table KindOf(err) = %q, want output_error", sink, got)
		}
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		input  string
		format Format
		want   string
	}{
		{"data/raw/sales.csv", FormatCSV, "sales.csv"},
		{"data/raw/sales.csv", FormatParquet, "sales.parquet"},
		{"orders.TXT", FormatParquet, "orders.parquet"},
	}
	for _, tt := range tests {
		if got := OutputName(tt.input, tt.format); got != tt.want {
			t.Errorf("OutputName(%q, %s) = %q, want %q", tt.input, tt.format, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{"parquet", FormatParquet, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
