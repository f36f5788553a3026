package transform

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/flatetl/internal/tabular"
)

const (
	keySep  = "\x1f"
	keyNull = "\x00"
)

// removeDuplicates keeps the first occurrence of each distinct row over the
// subset columns (all columns when subset is empty) and returns the new
// table and the number of rows removed.
func removeDuplicates(t *tabular.Table, subset []string) (*tabular.Table, int, error) {
	cols := t.Columns
	if len(subset) > 0 {
		cols = make([]*tabular.Column, 0, len(subset))
		for _, name := range subset {
			c := t.Column(name)
			if c == nil {
				return nil, 0, fmt.Errorf("dedupe column %q not found", name)
			}
			cols = append(cols, c)
		}
	}

	rows := t.NumRows()
	seen := make(map[string]struct{}, rows)
	keep := make([]int, 0, rows)
	var b strings.Builder
	for r := 0; r < rows; r++ {
		b.Reset()
		for _, c := range cols {
			writeKey(&b, c.Values[r])
			b.WriteString(keySep)
		}
		key := b.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, r)
	}

	if len(keep) == rows {
		return t, 0, nil
	}
	return t.Keep(keep), rows - len(keep), nil
}

// writeKey encodes a value so that values of different Go types never
// share a key.
func writeKey(b *strings.Builder, v any) {
	if v == nil {
		b.WriteString(keyNull)
		return
	}
	switch v.(type) {
	case string:
		b.WriteByte('s')
	case int64:
		b.WriteByte('i')
	case float64:
		b.WriteByte('f')
	case bool:
		b.WriteByte('b')
	default:
		b.WriteByte('t')
	}
	b.WriteString(tabular.FormatValue(v))
}
