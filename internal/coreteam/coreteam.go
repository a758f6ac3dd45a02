// Package coreteam holds the configured set of core team logins.
package coreteam

import (
	"sort"
	"strings"
)

// Registry is an immutable set of core team logins. GitHub logins are
// case-insensitive, so lookups are too.
type Registry struct {
	members map[string]string
}

// New builds a registry from logins. Blank entries are skipped and duplicates
// collapse to the first spelling seen.
func New(logins []string) *Registry {
	r := &Registry{members: make(map[string]string, len(logins))}
	for _, login := range logins {
		login = strings.TrimSpace(login)
		if login == "" {
			continue
		}
		key := strings.ToLower(login)
		if _, ok := r.members[key]; !ok {
			r.members[key] = login
		}
	}
	return r
}

// IsCoreTeam reports whether login belongs to the core team.
func (r *Registry) IsCoreTeam(login string) bool {
	if r == nil {
		return false
	}
	_, ok := r.members[strings.ToLower(strings.TrimSpace(login))]
	return ok
}

// IsBot reports whether login is a GitHub App bot account.
func IsBot(login string) bool {
	return strings.HasSuffix(strings.ToLower(login), "[bot]")
}

// Members returns the configured logins sorted case-insensitively.
func (r *Registry) Members() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.members))
	for _, login := range r.members {
		out = append(out, login)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// Len returns the number of members.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.members)
}
