package config

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/platformsync/releaseflow/internal/candidate"
	"github.com/platformsync/releaseflow/internal/scm"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the defaulted configuration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTP.Timeout < 0 {
		add("http.timeout must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		add("retry.maxAttempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		add("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		add("retry.jitter must be within [0, 1], got %g", c.Retry.Jitter)
	}
	if c.Cache.Size < 0 {
		add("cache.size must not be negative")
	}

	for name, g := range c.Groups {
		switch g.Registry {
		case RegistryGitHub, RegistryFAR, RegistryStatic:
		default:
			add("groups.%s.registry: unknown registry %q", name, g.Registry)
		}
		switch g.Artifacts {
		case ArtifactDockerHub, ArtifactStatic, ArtifactNone:
		default:
			add("groups.%s.artifacts: unknown artifact checker %q", name, g.Artifacts)
		}
		if _, err := candidate.ParseScope(g.Scope); err != nil {
			add("groups.%s.scope: %w", name, err)
		}
		if _, err := candidate.ParseSortOrder(g.SortOrder); err != nil {
			add("groups.%s.sortOrder: %w", name, err)
		}
		if g.Limit < 0 || g.LatestN < 0 {
			add("groups.%s: limit and latestN must not be negative", name)
		}
		if g.Constraint != "" {
			if _, err := semver.NewConstraint(g.Constraint); err != nil {
				add("groups.%s.constraint: %w", name, err)
			}
		}
	}

	if c.Run.MaxConcurrency < 1 {
		add("run.maxConcurrency must be at least 1, got %d", c.Run.MaxConcurrency)
	}

	seen := make(map[string]int, len(c.Targets))
	for i, t := range c.Targets {
		if _, err := scm.ParseRepository(t.Repository); err != nil {
			add("targets[%d].repository: %w", i, err)
		}
		if t.ReleaseBranch == "" {
			add("targets[%d].releaseBranch must be set", i)
		}
		if t.ReleaseBranch != "" && t.ReleaseBranch == t.UpdateBranch {
			add("targets[%d]: updateBranch must differ from releaseBranch", i)
		}
		key := t.Repository + "@" + t.ReleaseBranch
		if j, dup := seen[key]; dup {
			add("targets[%d] duplicates targets[%d] (%s)", i, j, key)
		}
		seen[key] = i
	}

	if err := errors.Join(errs...); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}
