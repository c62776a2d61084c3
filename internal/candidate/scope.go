package candidate

import (
	"fmt"
	"strings"
)

// Scope determines which version segments a candidate may change relative to
// the current version.
type Scope string

const (
	ScopeMajor Scope = "major"
	ScopeMinor Scope = "minor"
	ScopePatch Scope = "patch"
)

// Scopes lists all valid scopes, most permissive first.
var Scopes = []Scope{ScopeMajor, ScopeMinor, ScopePatch}

// ParseScope converts s into a Scope. It is case-insensitive.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	switch scope {
	case ScopeMajor, ScopeMinor, ScopePatch:
		return scope, nil
	}
	return "", fmt.Errorf("invalid scope %q: must be one of %v", s, Scopes)
}

// Hint returns a version prefix a registry may use to narrow its query for
// candidates of current within the scope. It is empty for ScopeMajor.
func (s Scope) Hint(current Version) string {
	switch s {
	case ScopePatch:
		return fmt.Sprintf("%d.%d.", current.Tuple.Major(), current.Tuple.Minor())
	case ScopeMinor:
		return fmt.Sprintf("%d.", current.Tuple.Major())
	default:
		return ""
	}
}

// SortOrder determines which end of the sorted qualifying candidates is picked.
type SortOrder string

const (
	Ascending  SortOrder = "ascending"
	Descending SortOrder = "descending"
)

// SortOrders lists all valid sort orders.
var SortOrders = []SortOrder{Ascending, Descending}

// ParseSortOrder converts s into a SortOrder. "asc" and "desc" are accepted as
// shorthands.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascending", "asc":
		return Ascending, nil
	case "descending", "desc":
		return Descending, nil
	}
	return "", fmt.Errorf("invalid sort order %q: must be one of %v", s, SortOrders)
}
