package transform

import "github.com/JonMunkholm/flatetl/internal/tabular"

// coerceNumeric converts each String column to Integer when every non-null
// value is a whole number, otherwise to Float when every non-null value is
// numeric. Currency symbols, thousands separators and accounting negatives
// are accepted. Columns that do not convert in full are left as text.
// Returns the number of columns converted.
func coerceNumeric(t *tabular.Table) int {
	conversions := 0
	for _, c := range t.Columns {
		if c.Type != tabular.String || c.NullCount() == c.Len() {
			continue
		}
		if err := c.ConvertFunc(tabular.Integer, parseInteger); err == nil {
			conversions++
			continue
		}
		if err := c.ConvertFunc(tabular.Float, parseFloat); err == nil {
			conversions++
		}
	}
	return conversions
}

func parseInteger(s string) (any, error) {
	return tabular.ParseNumericInteger(s)
}

func parseFloat(s string) (any, error) {
	return tabular.ParseNumeric(s)
}
