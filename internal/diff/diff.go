// Package diff computes collapsed diffs between two versioned states.
//
// A collapsed diff only reports names present on both sides whose version
// changed. Names that were added or removed are not reported.
package diff

import (
	"cmp"
	"slices"

	"github.com/platformsync/releaseflow/internal/descriptor"
)

// Entry is a single version change.
type Entry struct {
	Name  string           `json:"name"`
	Old   string           `json:"old"`
	New   string           `json:"new"`
	Group descriptor.Group `json:"group"`
}

// Collapsed returns the entries for every name present in both base and head
// with a different version, sorted by name.
func Collapsed(base, head map[string]string, group descriptor.Group) []Entry {
	var out []Entry
	for name, old := range base {
		if updated, ok := head[name]; ok && updated != old {
			out = append(out, Entry{Name: name, Old: old, New: updated, Group: group})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// Lists diffs two lists of references. Later duplicates of a name win.
func Lists(base, head []descriptor.Ref, group descriptor.Group) []Entry {
	return Collapsed(toMap(base), toMap(head), group)
}

// Descriptors diffs every group of two descriptors and concatenates the
// results in group order.
func Descriptors(base, head *descriptor.Descriptor) []Entry {
	var out []Entry
	for _, g := range descriptor.Groups {
		out = append(out, Collapsed(base.Versions(g), head.Versions(g), g)...)
	}
	return out
}

// Entries diffs two normalised entry lists group by group.
func Entries(base, head []descriptor.Entry) []Entry {
	baseByGroup := byGroup(base)
	headByGroup := byGroup(head)
	var out []Entry
	for _, g := range descriptor.Groups {
		out = append(out, Collapsed(baseByGroup[g], headByGroup[g], g)...)
	}
	return out
}

func toMap(refs []descriptor.Ref) map[string]string {
	m := make(map[string]string, len(refs))
	for _, r := range refs {
		m[r.Name] = r.Version
	}
	return m
}

func byGroup(entries []descriptor.Entry) map[descriptor.Group]map[string]string {
	out := make(map[descriptor.Group]map[string]string)
	for _, e := range entries {
		if out[e.Group] == nil {
			out[e.Group] = make(map[string]string)
		}
		out[e.Group][e.Name] = e.Version
	}
	return out
}
