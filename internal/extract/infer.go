package extract

import (
	"fmt"
	"strconv"

	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// DefaultNullValues are the cell texts read as null. Any spelling of NaN
// that survives as a float is nulled on conversion as well.
var DefaultNullValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

func nullSet(values []string) map[string]struct{} {
	if values == nil {
		values = DefaultNullValues
	}
	set := make(map[string]struct{}, len(values)+1)
	set[""] = struct{}{}
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// inferType picks the narrowest type every non-null value of a raw text
// column parses as: integer, then float, then boolean, else string.
// A column with no non-null values is Null.
func inferType(values []any) tabular.Type {
	allInt, allFloat, allBool := true, true, true
	seen := false
	for _, v := range values {
		if v == nil {
			continue
		}
		seen = true
		s := v.(string)
		if allInt {
			if _, err := tabular.ParseInteger(s); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := tabular.ParseFloat(s); err != nil {
				allFloat = false
			}
		}
		if allBool {
			if _, err := tabular.ParseBool(s); err != nil {
				allBool = false
			}
		}
		if !allInt && !allFloat && !allBool {
			return tabular.String
		}
	}
	switch {
	case !seen:
		return tabular.Null
	case allInt:
		return tabular.Integer
	case allFloat:
		return tabular.Float
	case allBool:
		return tabular.Boolean
	default:
		return tabular.String
	}
}

// applyTypes converts the raw text columns of t in place. Hinted and date
// columns are enforced and fail with the offending row; the rest are
// inferred. Hints naming absent columns are returned as warnings.
func applyTypes(t *tabular.Table, hints map[string]tabular.Type, dates []string) ([]string, error) {
	forced := make(map[string]tabular.Type, len(hints)+len(dates))
	for name, typ := range hints {
		forced[name] = typ
	}
	for _, name := range dates {
		forced[name] = tabular.Timestamp
	}

	var warnings []string
	for name := range forced {
		if t.Column(name) == nil {
			warnings = append(warnings, fmt.Sprintf("type hint for unknown column %q ignored", name))
		}
	}

	for _, col := range t.Columns {
		target, ok := forced[col.Name]
		if !ok {
			target = inferType(col.Values)
		}
		if target == tabular.String {
			continue
		}
		if err := col.Convert(target); err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

// headerNames makes header fields usable as column names: blank fields
// become "Unnamed: <index>" and repeats get ".1", ".2", ... suffixes.
func headerNames(fields []string) []string {
	names := make([]string, len(fields))
	taken := make(map[string]bool, len(fields))
	for i, f := range fields {
		name := f
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if taken[name] {
			for n := 1; ; n++ {
				candidate := name + "." + strconv.Itoa(n)
				if !taken[candidate] {
					name = candidate
					break
				}
			}
		}
		taken[name] = true
		names[i] = name
	}
	return names
}
