package output

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// rowGroupSize bounds the rows per record batch and parquet row group.
const rowGroupSize = 64 * 1024

// ParquetSink writes Snappy-compressed Parquet with the Arrow schema
// stored in the file metadata. All-null columns are written as nullable
// strings.
type ParquetSink struct{}

// arrowType maps a column type tag to its Arrow type.
func arrowType(t tabular.Type) arrow.DataType {
	switch t {
	case tabular.Integer:
		return arrow.PrimitiveTypes.Int64
	case tabular.Float:
		return arrow.PrimitiveTypes.Float64
	case tabular.Boolean:
		return arrow.FixedWidthTypes.Boolean
	case tabular.Timestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// arrowSchema builds the Arrow schema for t. Every field is nullable.
func arrowSchema(t *tabular.Table) *arrow.Schema {
	fields := make([]arrow.Field, t.NumCols())
	for i, c := range t.Columns {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// Write implements Sink.
func (s *ParquetSink) Write(ctx context.Context, t *tabular.Table, path string) (int64, error) {
	if t == nil {
		return 0, etlerr.New(etlerr.OutputError, "expected a table, got nil")
	}
	schema := arrowSchema(t)

	return writeAtomic(ctx, path, func(w io.Writer) error {
		props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
		arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

		writer, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
		if err != nil {
			return fmt.Errorf("create parquet writer: %w", err)
		}

		mem := memory.NewGoAllocator()
		builder := array.NewRecordBuilder(mem, schema)
		defer builder.Release()

		for start := 0; start < t.NumRows(); start += rowGroupSize {
			if err := ctx.Err(); err != nil {
				writer.Close()
				return err
			}
			end := min(start+rowGroupSize, t.NumRows())
			for j, c := range t.Columns {
				if err := appendValues(builder.Field(j), c, start, end); err != nil {
					writer.Close()
					return err
				}
			}
			rec := builder.NewRecord()
			err := writer.Write(rec)
			rec.Release()
			if err != nil {
				writer.Close()
				return fmt.Errorf("write rows %d-%d: %w", start, end, err)
			}
		}

		if err := writer.Close(); err != nil {
			return fmt.Errorf("close parquet writer: %w", err)
		}
		return nil
	})
}

// appendValues appends rows [start, end) of c to b.
func appendValues(b array.Builder, c *tabular.Column, start, end int) error {
	for r := start; r < end; r++ {
		v := c.Values[r]
		if v == nil {
			b.AppendNull()
			continue
		}
		switch b := b.(type) {
		case *array.Int64Builder:
			b.Append(v.(int64))
		case *array.Float64Builder:
			b.Append(v.(float64))
		case *array.BooleanBuilder:
			b.Append(v.(bool))
		case *array.TimestampBuilder:
			b.Append(arrow.Timestamp(v.(time.Time).UnixMicro()))
		case *array.StringBuilder:
			b.Append(tabular.FormatValue(v))
		default:
			return fmt.Errorf("column %q: unsupported builder %T", c.Name, b)
		}
	}
	return nil
}
