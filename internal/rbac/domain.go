// Package rbac decides whether a session's role snapshot satisfies the roles
// an endpoint requires. Decisions never consult the role store: role changes
// apply from the next sign-in.
package rbac

import (
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/shared"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Denied is the zero value so an unset decision never grants access.
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Authorize allows sess when required is empty or when the session holds at
// least one required role. Names compare after normalization. A nil session
// is denied unless nothing is required.
func Authorize(sess *session.Session, required []string) Decision {
	want := normalizeRoles(required)
	if len(want) == 0 {
		return Allowed
	}
	if sess == nil {
		return Denied
	}
	if hasAnyRole(sess.Roles, want) {
		return Allowed
	}
	return Denied
}

// AuthorizeAll allows sess only when it holds every required role.
func AuthorizeAll(sess *session.Session, required []string) Decision {
	want := normalizeRoles(required)
	if len(want) == 0 {
		return Allowed
	}
	if sess == nil {
		return Denied
	}
	if hasAllRoles(sess.Roles, want) {
		return Allowed
	}
	return Denied
}

func normalizeRoles(roles []string) []string {
	unique := make(map[string]struct{}, len(roles))
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		r = shared.NormalizeRoleName(r)
		if r == "" {
			continue
		}
		if _, seen := unique[r]; seen {
			continue
		}
		unique[r] = struct{}{}
		normalized = append(normalized, r)
	}
	return normalized
}

func grantedSet(granted []string) map[string]struct{} {
	set := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		set[shared.NormalizeRoleName(g)] = struct{}{}
	}
	return set
}

func hasAnyRole(granted, required []string) bool {
	set := grantedSet(granted)
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllRoles(granted, required []string) bool {
	set := grantedSet(granted)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
