package policy

import "crypto/subtle"

// ConstantTimeEqual reports whether a equals b. When both are non-empty
// and of equal length the whole string is scanned regardless of where the
// first difference is. An empty value only equals another empty value.
func ConstantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
