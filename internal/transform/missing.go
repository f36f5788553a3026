package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// MissingStrategy selects how null values are handled.
type MissingStrategy string

const (
	// DropAll removes rows in which every column is null.
	DropAll MissingStrategy = "drop_all"
	// DropAny removes rows with at least one null.
	DropAny MissingStrategy = "drop_any"
	// FillMean replaces nulls in numeric columns with the column mean.
	FillMean MissingStrategy = "fill_mean"
	// MissingNone leaves nulls alone.
	MissingNone MissingStrategy = "none"
)

// ParseMissingStrategy validates a strategy name. Empty means none.
func ParseMissingStrategy(s string) (MissingStrategy, error) {
	switch m := MissingStrategy(strings.ToLower(strings.TrimSpace(s))); m {
	case DropAll, DropAny, FillMean, MissingNone:
		return m, nil
	case "":
		return MissingNone, nil
	default:
		return "", fmt.Errorf("unknown missing value strategy %q (want drop_all, drop_any, fill_mean or none)", s)
	}
}

// dropRows removes rows according to strategy and returns the new table and
// the number of rows removed. Row order is preserved.
func dropRows(t *tabular.Table, strategy MissingStrategy) (*tabular.Table, int) {
	rows := t.NumRows()
	keep := make([]int, 0, rows)
	for r := 0; r < rows; r++ {
		nulls := 0
		for _, c := range t.Columns {
			if c.Values[r] == nil {
				nulls++
			}
		}
		switch {
		case strategy == DropAll && t.NumCols() > 0 && nulls == t.NumCols():
		case strategy == DropAny && nulls > 0:
		default:
			keep = append(keep, r)
		}
	}
	if len(keep) == rows {
		return t, 0
	}
	return t.Keep(keep), rows - len(keep)
}

// fillMean fills nulls in Integer and Float columns with the mean of the
// column's non-null values and returns the number of cells filled. An
// Integer column whose mean is not a whole number becomes Float first.
// Columns without non-null values are left unchanged.
func fillMean(t *tabular.Table) (int, error) {
	filled := 0
	for _, c := range t.Columns {
		if !c.Type.IsNumeric() {
			continue
		}
		nulls := c.NullCount()
		if nulls == 0 || nulls == c.Len() {
			continue
		}

		var sum float64
		for _, v := range c.Values {
			switch x := v.(type) {
			case int64:
				sum += float64(x)
			case float64:
				sum += x
			}
		}
		mean := sum / float64(c.Len()-nulls)

		var fill any = mean
		if c.Type == tabular.Integer {
			if mean == math.Trunc(mean) {
				fill = int64(mean)
			} else if err := c.Convert(tabular.Float); err != nil {
				return filled, err
			}
		}
		for i, v := range c.Values {
			if v == nil {
				c.Values[i] = fill
				filled++
			}
		}
	}
	return filled, nil
}
