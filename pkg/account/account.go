// Package account models stored chooser accounts and the relations used to
// deduplicate them.
package account

import (
	"regexp"

	"github.com/rexliu/acrpc/pkg/rpc"
)

// Account is one account record. Only Email is required.
type Account struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	ProviderID  string `json:"providerId,omitempty"`
}

// FromMap reads an account from its validated wire form.
func FromMap(m map[string]any) Account {
	p := rpc.Params(m)
	return Account{
		Email:       p.String("email"),
		DisplayName: p.String("displayName"),
		PhotoURL:    p.String("photoUrl"),
		ProviderID:  p.String("providerId"),
	}
}

// FromList reads every object in list, skipping anything else.
func FromList(list []any) []Account {
	out := make([]Account, 0, len(list))
	for _, item := range list {
		if m, ok := asMap(item); ok {
			out = append(out, FromMap(m))
		}
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case rpc.Params:
		return m, true
	}
	return nil, false
}

// Map returns the wire form, omitting empty optional fields.
func (a Account) Map() map[string]any {
	m := map[string]any{"email": a.Email}
	if a.DisplayName != "" {
		m["displayName"] = a.DisplayName
	}
	if a.PhotoURL != "" {
		m["photoUrl"] = a.PhotoURL
	}
	if a.ProviderID != "" {
		m["providerId"] = a.ProviderID
	}
	return m
}

// Match reports whether a and b are the same account: equal email and equal
// providerId, where a missing providerId only equals another missing one.
func Match(a, b Account) bool {
	return a.Email == b.Email && a.ProviderID == b.ProviderID
}

// LooselyMatch is Match, except a missing providerId matches any.
func LooselyMatch(a, b Account) bool {
	return a.Email == b.Email && !conflict(a.ProviderID, b.ProviderID)
}

// Compatible reports whether a and b match and neither displayName nor
// photoUrl conflict.
func Compatible(a, b Account) bool {
	return Match(a, b) &&
		!conflict(a.DisplayName, b.DisplayName) &&
		!conflict(a.PhotoURL, b.PhotoURL)
}

// NeedsUpdate reports whether given carries profile data that stored lacks.
func NeedsUpdate(stored, given Account) bool {
	if !Compatible(stored, given) {
		return false
	}
	return (given.DisplayName != "" && given.DisplayName != stored.DisplayName) ||
		(given.PhotoURL != "" && given.PhotoURL != stored.PhotoURL)
}

// Merge returns overlay with empty profile fields filled from base.
func Merge(base, overlay Account) Account {
	if overlay.DisplayName == "" {
		overlay.DisplayName = base.DisplayName
	}
	if overlay.PhotoURL == "" {
		overlay.PhotoURL = base.PhotoURL
	}
	return overlay
}

func conflict(a, b string) bool {
	return a != "" && b != "" && a != b
}

var emailPattern = regexp.MustCompile(`(?i)^[a-z0-9]+(\.?[-+\w]+)*@([a-z0-9]([-a-z0-9]*[a-z0-9])?\.)+[a-z0-9]+$`)

// ValidEmail reports whether s looks like an email address rather than a
// bare username.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}
