// Package descriptor reads and writes platform descriptors.
//
// A descriptor lists the tracked components and applications of a platform
// together with their versions:
//
//	{
//	  "name": "platform-complete",
//	  "version": "R1-2025.5",
//	  "components": [{"name": "folio-kong", "version": "3.9.1"}],
//	  "applications": {
//	    "required": [{"name": "app-platform-minimal", "version": "2.0.19"}],
//	    "optional": [{"name": "app-acquisitions", "version": "1.0.6"}]
//	  },
//	  "dependencies": {"@folio/stripes": "^10.0.0"}
//	}
//
// On read every shape is normalised into a flat list of Entry values tagged
// with their Group, so downstream code never branches on the input shape.
// On write the document keeps its field order and every field it does not
// own.
package descriptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Group tags the part of a descriptor an entry belongs to.
type Group string

const (
	GroupComponents   Group = "components"
	GroupRequired     Group = "applications/required"
	GroupOptional     Group = "applications/optional"
	GroupDependencies Group = "dependencies"
)

// Groups lists all groups in the order they are reported.
var Groups = []Group{GroupComponents, GroupRequired, GroupOptional, GroupDependencies}

// ParseGroup converts s into a Group.
func ParseGroup(s string) (Group, error) {
	g := Group(s)
	if slices.Contains(Groups, g) {
		return g, nil
	}
	return "", fmt.Errorf("invalid group %q: must be one of %v", s, Groups)
}

const (
	keyName         = "name"
	keyVersion      = "version"
	keyComponents   = "components"
	keyLegacy       = "eureka-components"
	keyApplications = "applications"
	keyRequired     = "required"
	keyOptional     = "optional"
	keyDependencies = "dependencies"
)

// Ref is a tracked component or application.
type Ref struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Entry is a Ref tagged with the group it was read from.
type Entry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Group   Group  `json:"group"`
}

// ValidationError reports a malformed descriptor.
type ValidationError struct {
	Source string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("invalid descriptor: %v", e.Err)
	}
	return fmt.Sprintf("invalid descriptor %s: %v", e.Source, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Descriptor is a parsed platform descriptor.
type Descriptor struct {
	Name         string
	Version      string
	Components   []Ref
	Required     []Ref
	Optional     []Ref
	Dependencies map[string]string

	doc           *object
	apps          *object
	deps          *object
	componentsKey string
}

// New returns an empty descriptor.
func New(name, version string) *Descriptor {
	return &Descriptor{
		Name:          name,
		Version:       version,
		doc:           newObject(),
		componentsKey: keyComponents,
	}
}

// Parse validates data against the descriptor schema and decodes it.
// Every problem is reported as a *ValidationError.
func Parse(data []byte) (*Descriptor, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	d := &Descriptor{doc: newObject(), componentsKey: keyComponents}
	if err := json.Unmarshal(data, d.doc); err != nil {
		return nil, &ValidationError{Err: err}
	}

	var errs []error
	errs = append(errs, d.doc.decode(keyName, &d.Name), d.doc.decode(keyVersion, &d.Version))

	switch {
	case d.doc.has(keyComponents) && d.doc.has(keyLegacy):
		errs = append(errs, fmt.Errorf("only one of %q and %q may be set", keyComponents, keyLegacy))
	case d.doc.has(keyLegacy):
		d.componentsKey = keyLegacy
	}
	errs = append(errs, d.doc.decode(d.componentsKey, &d.Components))

	if d.doc.has(keyApplications) {
		d.apps = newObject()
		errs = append(errs, d.doc.decode(keyApplications, d.apps))
		errs = append(errs, d.apps.decode(keyRequired, &d.Required), d.apps.decode(keyOptional, &d.Optional))
	}
	if d.doc.has(keyDependencies) {
		d.deps = newObject()
		errs = append(errs, d.doc.decode(keyDependencies, d.deps), d.doc.decode(keyDependencies, &d.Dependencies))
	}

	for _, g := range Groups {
		if g == GroupDependencies {
			continue
		}
		seen := make(map[string]struct{})
		for _, ref := range d.refs(g) {
			if _, dup := seen[ref.Name]; dup {
				errs = append(errs, fmt.Errorf("%s: %q is listed more than once", g, ref.Name))
			}
			seen[ref.Name] = struct{}{}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return d, nil
}

func (d *Descriptor) refs(g Group) []Ref {
	switch g {
	case GroupComponents:
		return d.Components
	case GroupRequired:
		return d.Required
	case GroupOptional:
		return d.Optional
	}
	return nil
}

// Entries returns every tracked entry in group order. Within a group the
// descriptor order is kept; dependencies are sorted by name.
func (d *Descriptor) Entries() []Entry {
	var out []Entry
	for _, g := range Groups {
		if g == GroupDependencies {
			for _, name := range slices.Sorted(maps.Keys(d.Dependencies)) {
				out = append(out, Entry{Name: name, Version: d.Dependencies[name], Group: g})
			}
			continue
		}
		for _, ref := range d.refs(g) {
			out = append(out, Entry{Name: ref.Name, Version: ref.Version, Group: g})
		}
	}
	return out
}

// Versions returns the name to version map of a group.
func (d *Descriptor) Versions(g Group) map[string]string {
	if g == GroupDependencies {
		return maps.Clone(d.Dependencies)
	}
	out := make(map[string]string)
	for _, ref := range d.refs(g) {
		out[ref.Name] = ref.Version
	}
	return out
}

// Set changes the version of a tracked entry. It reports whether the entry
// exists and its version changed. Entries are never added.
func (d *Descriptor) Set(g Group, name, version string) bool {
	if g == GroupDependencies {
		current, ok := d.Dependencies[name]
		if !ok || current == version {
			return false
		}
		d.Dependencies[name] = version
		return true
	}
	refs := d.refs(g)
	for i := range refs {
		if refs[i].Name == name {
			if refs[i].Version == version {
				return false
			}
			refs[i].Version = version
			return true
		}
	}
	return false
}

// Apply sets the version of every entry and returns how many changed.
func (d *Descriptor) Apply(entries []Entry) int {
	changed := 0
	for _, e := range entries {
		if d.Set(e.Group, e.Name, e.Version) {
			changed++
		}
	}
	return changed
}

// Counts returns the number of tracked components and applications.
func (d *Descriptor) Counts() (components, applications int) {
	return len(d.Components), len(d.Required) + len(d.Optional)
}

func (d *Descriptor) MarshalJSON() ([]byte, error) {
	doc := d.doc
	if doc == nil {
		doc = newObject()
	}
	out := &object{keys: slices.Clone(doc.keys), values: maps.Clone(doc.values)}

	var errs []error
	if d.Name != "" || out.has(keyName) {
		errs = append(errs, out.set(keyName, d.Name))
	}
	if d.Version != "" || out.has(keyVersion) {
		errs = append(errs, out.set(keyVersion, d.Version))
	}

	componentsKey := d.componentsKey
	if componentsKey == "" {
		componentsKey = keyComponents
	}
	if d.Components != nil || out.has(componentsKey) {
		errs = append(errs, out.set(componentsKey, nonNil(d.Components)))
	}

	if d.Required != nil || d.Optional != nil || out.has(keyApplications) {
		apps := newObject()
		if d.apps != nil {
			apps = &object{keys: slices.Clone(d.apps.keys), values: maps.Clone(d.apps.values)}
		}
		if d.Required != nil || apps.has(keyRequired) {
			errs = append(errs, apps.set(keyRequired, nonNil(d.Required)))
		}
		if d.Optional != nil || apps.has(keyOptional) {
			errs = append(errs, apps.set(keyOptional, nonNil(d.Optional)))
		}
		errs = append(errs, out.set(keyApplications, apps))
	}

	if d.Dependencies != nil || out.has(keyDependencies) {
		errs = append(errs, out.set(keyDependencies, d.orderedDependencies()))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out.MarshalJSON()
}

// orderedDependencies keeps the original key order and appends new keys
// sorted by name.
func (d *Descriptor) orderedDependencies() *object {
	deps := newObject()
	if d.deps != nil {
		for _, k := range d.deps.keys {
			if v, ok := d.Dependencies[k]; ok {
				_ = deps.set(k, v)
			}
		}
	}
	for _, k := range slices.Sorted(maps.Keys(d.Dependencies)) {
		if !deps.has(k) {
			_ = deps.set(k, d.Dependencies[k])
		}
	}
	return deps
}

// Bytes returns the descriptor as 2-space indented JSON with a trailing
// newline.
func (d *Descriptor) Bytes() ([]byte, error) {
	compact, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func nonNil(refs []Ref) []Ref {
	if refs == nil {
		return []Ref{}
	}
	return refs
}
