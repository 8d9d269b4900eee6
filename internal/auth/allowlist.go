// ABOUTME: User allowlist deciding who may talk to the relay
// ABOUTME: An empty list admits everyone

package auth

import (
	"sort"
	"strings"
)

// Allowlist is an immutable set of permitted user identifiers.
type Allowlist struct {
	users map[string]struct{}
}

// NewAllowlist builds an allowlist from ids. Blank entries are ignored and
// surrounding whitespace is trimmed.
func NewAllowlist(ids []string) *Allowlist {
	a := &Allowlist{users: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		a.users[id] = struct{}{}
	}
	return a
}

// ParseAllowlist builds an allowlist from a comma-separated list.
func ParseAllowlist(csv string) *Allowlist {
	return NewAllowlist(strings.Split(csv, ","))
}

// Open reports whether the list admits everyone.
func (a *Allowlist) Open() bool {
	return a == nil || len(a.users) == 0
}

// Allowed reports whether userID may use the relay.
func (a *Allowlist) Allowed(userID string) bool {
	if a.Open() {
		return true
	}
	_, ok := a.users[userID]
	return ok
}

// Users returns the permitted ids in sorted order.
func (a *Allowlist) Users() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.users))
	for id := range a.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// String describes the list for startup logs.
func (a *Allowlist) String() string {
	if a.Open() {
		return "everyone"
	}
	return strings.Join(a.Users(), ", ")
}
