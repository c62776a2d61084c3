// Package candidate models remotely available versions of a component and
// implements the scope-restricted selection of an upgrade candidate.
//
// Versions are compared by their numeric (major, minor, patch) tuple only.
// Segments that are not numeric are coerced to their numeric prefix, or to 0
// when there is none. Pre-release precedence is not modelled: "1.2.3-rc.1"
// compares equal to "1.2.3" and is only distinguishable by IsPrerelease.
package candidate

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Tuple is the numeric (major, minor, patch) part of a version.
type Tuple [3]uint64

// Major returns the major segment.
func (t Tuple) Major() uint64 { return t[0] }

// Minor returns the minor segment.
func (t Tuple) Minor() uint64 { return t[1] }

// Patch returns the patch segment.
func (t Tuple) Patch() uint64 { return t[2] }

// Compare returns -1, 0 or +1 depending on whether t is lower than, equal to
// or greater than o.
func (t Tuple) Compare(o Tuple) int {
	for i := range t {
		switch {
		case t[i] < o[i]:
			return -1
		case t[i] > o[i]:
			return 1
		}
	}
	return 0
}

func (t Tuple) String() string {
	return fmt.Sprintf("%d.%d.%d", t[0], t[1], t[2])
}

// Version is a parsed candidate version. Raw keeps the string exactly as the
// registry returned it so that the accepted value can be written back verbatim.
type Version struct {
	Raw          string
	Tuple        Tuple
	IsPrerelease bool
}

func (v Version) String() string {
	return v.Raw
}

// Parse derives a Version from a raw version string. Parsing never fails:
// a leading "v" is ignored, missing segments are 0 and non-numeric segments
// are coerced to their numeric prefix.
func Parse(raw string) Version {
	v := Version{Raw: raw}
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")

	segments := strings.SplitN(s, ".", 4)
	for i := 0; i < len(v.Tuple) && i < len(segments); i++ {
		n, rest := numericPrefix(segments[i])
		v.Tuple[i] = n
		if strings.HasPrefix(rest, "-") {
			// "3-SNAPSHOT", "0-rc1"
			v.IsPrerelease = true
		}
	}
	return v
}

func numericPrefix(segment string) (uint64, string) {
	end := 0
	for end < len(segment) && segment[end] >= '0' && segment[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, segment
	}
	n, err := strconv.ParseUint(segment[:end], 10, 64)
	if err != nil {
		return 0, segment[end:]
	}
	return n, segment[end:]
}

// ParseAll parses every raw version and drops duplicates by raw value while
// keeping the first occurrence.
func ParseAll(raws []string) []Version {
	seen := make(map[string]struct{}, len(raws))
	out := make([]Version, 0, len(raws))
	for _, raw := range raws {
		if raw == "" {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, Parse(raw))
	}
	return out
}

// Sort orders versions by their numeric tuple in the given order. The sort is
// stable so that versions with equal tuples keep the registry's ordering.
func Sort(versions []Version, order SortOrder) {
	slices.SortStableFunc(versions, func(a, b Version) int {
		if order == Descending {
			return b.Tuple.Compare(a.Tuple)
		}
		return a.Tuple.Compare(b.Tuple)
	})
}

// Qualifies reports whether next is strictly greater than current and differs
// from it only in the segments the scope permits.
func Qualifies(current, next Tuple, scope Scope) bool {
	if next.Compare(current) <= 0 {
		return false
	}
	switch scope {
	case ScopePatch:
		return next.Major() == current.Major() && next.Minor() == current.Minor()
	case ScopeMinor:
		return next.Major() == current.Major()
	case ScopeMajor:
		return true
	default:
		return false
	}
}

// Filter returns the versions qualifying against current within scope.
func Filter(current Version, versions []Version, scope Scope) []Version {
	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		if Qualifies(current.Tuple, v.Tuple, scope) {
			out = append(out, v)
		}
	}
	return out
}

// Select picks at most one candidate out of versions: it filters to the
// versions qualifying within scope, sorts them in the given order and returns
// the last element for ascending or the first element for descending order.
func Select(current Version, versions []Version, scope Scope, order SortOrder) (Version, bool) {
	qualified := Filter(current, versions, scope)
	if len(qualified) == 0 {
		return Version{}, false
	}
	Sort(qualified, order)
	if order == Descending {
		return qualified[0], true
	}
	return qualified[len(qualified)-1], true
}
