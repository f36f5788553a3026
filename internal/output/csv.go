package output

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// CSVSink writes comma-separated text with a header row. Nulls are empty
// cells, timestamps RFC 3339 and floats their shortest decimal form.
type CSVSink struct{}

// Write implements Sink.
func (s *CSVSink) Write(ctx context.Context, t *tabular.Table, path string) (int64, error) {
	if t == nil {
		return 0, etlerr.New(etlerr.OutputError, "expected a table, got nil")
	}
	return writeAtomic(ctx, path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		cw := csv.NewWriter(bw)

		if err := cw.Write(t.Names()); err != nil {
			return fmt.Errorf("write header: %w", err)
		}

		record := make([]string, t.NumCols())
		for r := 0; r < t.NumRows(); r++ {
			if r%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			for j, c := range t.Columns {
				record[j] = tabular.FormatValue(c.Values[r])
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write row %d: %w", r+1, err)
			}
		}

		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		return bw.Flush()
	})
}
