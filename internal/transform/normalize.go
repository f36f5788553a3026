package transform

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// NormalizeName converts a column name to snake_case: lower-cased and
// trimmed, with whitespace and hyphens turned into underscores, every
// character other than a letter, a number or an underscore removed and
// leading or trailing underscores trimmed. Letters and numbers outside
// ASCII are kept. The result may be empty.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '_':
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// normalizeNames normalizes a header and resolves what normalization
// leaves ambiguous. A name that normalizes to nothing becomes
// column_<position> (1-based). When several columns share a normalized
// name the first keeps it and the rest get _2, _3, ... avoiding every name
// already in use. Applying it to its own output changes nothing.
func normalizeNames(names []string) (out []string, warnings []string) {
	base := make([]string, len(names))
	taken := make(map[string]bool, len(names))
	for i, name := range names {
		n := NormalizeName(name)
		if n == "" {
			n = "column_" + strconv.Itoa(i+1)
			warnings = append(warnings, fmt.Sprintf("column %q normalizes to an empty name; renamed to %q", name, n))
		}
		base[i] = n
		taken[n] = true
	}

	out = make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range base {
		if !used[n] {
			used[n] = true
			out[i] = n
			continue
		}
		suffix := 2
		candidate := n + "_" + strconv.Itoa(suffix)
		for taken[candidate] || used[candidate] {
			suffix++
			candidate = n + "_" + strconv.Itoa(suffix)
		}
		used[candidate] = true
		out[i] = candidate
		warnings = append(warnings, fmt.Sprintf("column %q collides with %q after normalization; renamed to %q", names[i], n, candidate))
	}
	return out, warnings
}
