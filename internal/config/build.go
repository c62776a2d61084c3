package config

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/google/go-github/v75/github"

	"github.com/platformsync/releaseflow/internal/bump"
	"github.com/platformsync/releaseflow/internal/candidate"
	"github.com/platformsync/releaseflow/internal/pipeline"
	"github.com/platformsync/releaseflow/internal/registry"
	"github.com/platformsync/releaseflow/internal/resolve"
	"github.com/platformsync/releaseflow/internal/retry"
	"github.com/platformsync/releaseflow/internal/scm"
)

// Policy returns the retry policy for registry calls.
func (r Retry) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   time.Duration(r.Backoff),
		MaxDelay:    time.Duration(r.MaxBackoff),
		Multiplier:  r.Multiplier,
		Jitter:      r.Jitter,
	}
}

// HTTPClient returns the client shared by the HTTP registries.
func (c *Config) HTTPClient() *http.Client {
	return registry.NewHTTPClient(
		registry.WithTimeout(time.Duration(c.HTTP.Timeout)),
		registry.WithHTTPUserAgent(c.HTTP.UserAgent),
	)
}

// Clients are the API clients registries are built on. GitHub may be nil
// when no group uses the github registry.
type Clients struct {
	HTTP   *http.Client
	GitHub *github.Client
}

// ResolverGroups builds one resolve.Group per configured group. Every
// registry is built once, retried with the configured policy and cached
// unless caching is disabled, and shared by the groups using it.
func (c *Config) ResolverGroups(clients Clients) ([]resolve.Group, error) {
	policy := c.Retry.Policy()
	if clients.HTTP == nil {
		clients.HTTP = c.HTTPClient()
	}

	var static *registry.Static
	staticRegistry := func() *registry.Static {
		if static == nil {
			static = registry.NewStatic(c.Registries.Static)
		}
		return static
	}

	listers := make(map[string]registry.Lister)
	lister := func(name string) (registry.Lister, error) {
		if l, ok := listers[name]; ok {
			return l, nil
		}
		var base registry.Lister
		switch name {
		case RegistryGitHub:
			if clients.GitHub == nil {
				return nil, fmt.Errorf("registry %s requires a GitHub client", name)
			}
			base = &registry.GitHubTags{
				Organization: c.Registries.GitHub.Organization,
				PerPage:      c.Registries.GitHub.PerPage,
				Client:       clients.GitHub,
			}
		case RegistryFAR:
			base = &registry.FAR{
				BaseURL: c.Registries.FAR.BaseURL,
				Limit:   c.Registries.FAR.Limit,
				Client:  clients.HTTP,
			}
		case RegistryStatic:
			base = staticRegistry()
		default:
			return nil, fmt.Errorf("unknown registry %q", name)
		}
		l := registry.Retrying(base, policy)
		if !c.Cache.Disabled {
			l = registry.NewCached(name, l, c.Cache.Size, time.Duration(c.Cache.TTL))
		}
		listers[name] = l
		return l, nil
	}

	checkers := make(map[string]registry.ArtifactChecker)
	checker := func(name string) (registry.ArtifactChecker, error) {
		if ch, ok := checkers[name]; ok {
			return ch, nil
		}
		var base registry.ArtifactChecker
		switch name {
		case ArtifactNone:
			return nil, nil
		case ArtifactDockerHub:
			base = &registry.DockerHub{
				BaseURL:   c.Registries.DockerHub.BaseURL,
				Namespace: c.Registries.DockerHub.Namespace,
				Client:    clients.HTTP,
			}
		case ArtifactStatic:
			base = staticRegistry()
		default:
			return nil, fmt.Errorf("unknown artifact checker %q", name)
		}
		ch := registry.RetryingChecker(base, policy)
		checkers[name] = ch
		return ch, nil
	}

	groups := make([]resolve.Group, 0, len(c.Groups))
	for _, name := range slices.Sorted(maps.Keys(c.Groups)) {
		g := c.Groups[name]
		scope, err := candidate.ParseScope(g.Scope)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}
		order, err := candidate.ParseSortOrder(g.SortOrder)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}
		l, err := lister(g.Registry)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}
		ch, err := checker(g.Artifacts)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}
		groups = append(groups, resolve.Group{
			Name:              name,
			Lister:            l,
			Checker:           ch,
			Scope:             scope,
			Order:             order,
			IncludePrerelease: g.IncludePrerelease,
			Limit:             g.Limit,
			LatestN:           g.LatestN,
			Constraint:        g.Constraint,
		})
	}
	return groups, nil
}

// Resolver builds the resolver for all configured groups.
func (c *Config) Resolver(clients Clients) (*resolve.Resolver, error) {
	groups, err := c.ResolverGroups(clients)
	if err != nil {
		return nil, err
	}
	return resolve.New(groups, resolve.WithConcurrencyLimit(c.Run.ResolveConcurrency))
}

// PipelineTargets converts the configured targets.
func (c *Config) PipelineTargets() ([]pipeline.Target, error) {
	targets := make([]pipeline.Target, 0, len(c.Targets))
	for i, t := range c.Targets {
		repo, err := scm.ParseRepository(t.Repository)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		targets = append(targets, pipeline.Target{
			Repository:     repo,
			ReleaseBranch:  t.ReleaseBranch,
			UpdateBranch:   t.UpdateBranch,
			DescriptorPath: t.DescriptorPath,
			VersionPattern: t.VersionPattern,
			IncrementType:  bump.IncrementType(t.IncrementType),
			Labels:         t.Labels,
			Reviewers:      t.Reviewers,
		})
	}
	return targets, nil
}
