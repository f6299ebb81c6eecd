package policy

import (
	"crypto/subtle"
	"testing"
)

func TestConstantTimeEqual(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"", "", true},
		{"", "a", false},
		{"a", "", false},
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"xbc", "abc", false},
		{"abc", "abcd", false},
		{"token-1234", "token-1234", true},
	}
	for _, tc := range cases {
		if got := ConstantTimeEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("ConstantTimeEqual(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestConstantTimeEqualAgreesWithSubtle(t *testing.T) {
	base := "0123456789abcdef"
	for i := 0; i < len(base); i++ {
		mutated := []byte(base)
		mutated[i] = 'z'
		want := subtle.ConstantTimeCompare([]byte(base), mutated) == 1
		if got := ConstantTimeEqual(base, string(mutated)); got != want {
			t.Fatalf("mismatch at position %d", i)
		}
	}
}
