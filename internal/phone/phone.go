// Package phone canonicalizes phone-number strings so that identity
// comparisons are robust to formatting ("+1 (555) 010-0100" and
// "15550100100" are the same identity).
package phone

// Normalize strips every character that is not a decimal digit. Empty input
// yields an empty string. Total function, no error cases.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			out = append(out, raw[i])
		}
	}
	return string(out)
}

// SameIdentity reports whether two raw numbers denote the same party: their
// normalized forms are equal and non-empty.
func SameIdentity(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}
