package registry

import (
	"context"
	"fmt"
	"sync"
)

// Static is an in-memory registry. It serves as both Lister and
// ArtifactChecker and is used for offline runs and tests.
type Static struct {
	mu        sync.RWMutex
	versions  map[string][]string
	artifacts map[string]map[string]bool
}

var (
	_ Lister          = (*Static)(nil)
	_ ArtifactChecker = (*Static)(nil)
)

// NewStatic returns a Static registry seeded with versions per component.
// Every seeded version also has an artifact unless removed with
// RemoveArtifact.
func NewStatic(versions map[string][]string) *Static {
	s := &Static{
		versions:  make(map[string][]string),
		artifacts: make(map[string]map[string]bool),
	}
	for component, vs := range versions {
		s.Add(component, vs...)
	}
	return s
}

// Add publishes versions of a component together with their artifacts.
func (s *Static) Add(component string, versions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[component] = append(s.versions[component], versions...)
	if s.artifacts[component] == nil {
		s.artifacts[component] = make(map[string]bool)
	}
	for _, v := range versions {
		s.artifacts[component][v] = true
	}
}

// RemoveArtifact keeps the version listed but removes its artifact.
func (s *Static) RemoveArtifact(component, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts[component], version)
}

func (s *Static) ListVersions(_ context.Context, component string, query Query) ([]string, error) {
	s.mu.RLock()
	versions, ok := s.versions[component]
	versions = append([]string(nil), versions...)
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("static: component %q: %w", component, ErrNotFound)
	}
	return Window(versions, query), nil
}

func (s *Static) ArtifactExists(_ context.Context, component, version string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifacts[component][version], nil
}
