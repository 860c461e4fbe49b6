package core

import "strings"

// InferKind picks the column kind for a set of raw cell strings: number when
// every non-empty cell parses as a number, text otherwise. A column with no
// non-empty cells is text.
func InferKind(values []string) Kind {
	seen := false
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !IsNumber(v) {
			return KindText
		}
		seen = true
	}
	if seen {
		return KindNumber
	}
	return KindText
}
