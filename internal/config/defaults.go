package config

import (
	"time"

	"github.com/platformsync/releaseflow/internal/candidate"
	"github.com/platformsync/releaseflow/internal/descriptor"
	"github.com/platformsync/releaseflow/internal/matrix"
	"github.com/platformsync/releaseflow/internal/pipeline"
	"github.com/platformsync/releaseflow/internal/registry"
	"github.com/platformsync/releaseflow/internal/retry"
)

// Registry and artifact checker names used by groups.
const (
	RegistryGitHub    = "github"
	RegistryFAR       = "far"
	RegistryStatic    = "static"
	ArtifactDockerHub = "dockerhub"
	ArtifactStatic    = "static"
	ArtifactNone      = "none"
)

const (
	DefaultCacheSize          = 1024
	DefaultCacheTTL           = 10 * time.Minute
	DefaultResolveConcurrency = 10
	DefaultOrganization       = "folio-org"
)

// DefaultGroups resolves components from GitHub tags with a Docker Hub image
// check and applications from the application registry without one.
func DefaultGroups() map[string]Group {
	return map[string]Group{
		string(descriptor.GroupComponents): {
			Registry:  RegistryGitHub,
			Artifacts: ArtifactDockerHub,
			Scope:     string(candidate.ScopePatch),
			SortOrder: string(candidate.Ascending),
		},
		string(descriptor.GroupRequired): {
			Registry:  RegistryFAR,
			Artifacts: ArtifactNone,
			Scope:     string(candidate.ScopePatch),
			SortOrder: string(candidate.Ascending),
		},
		string(descriptor.GroupOptional): {
			Registry:  RegistryFAR,
			Artifacts: ArtifactNone,
			Scope:     string(candidate.ScopePatch),
			SortOrder: string(candidate.Ascending),
		},
	}
}

// Default fills every unset value.
func (c *Config) Default() {
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = Duration(registry.DefaultTimeout)
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = registry.DefaultUserAgent
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = Duration(retry.DefaultBaseDelay)
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = Duration(retry.DefaultMaxDelay)
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = retry.DefaultMultiplier
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = retry.DefaultJitter
	}

	if c.Cache.Size == 0 {
		c.Cache.Size = DefaultCacheSize
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = Duration(DefaultCacheTTL)
	}

	if c.Registries.GitHub == nil {
		c.Registries.GitHub = &GitHubRegistry{}
	}
	if c.Registries.GitHub.Organization == "" {
		c.Registries.GitHub.Organization = DefaultOrganization
	}
	if c.Registries.GitHub.PerPage == 0 {
		c.Registries.GitHub.PerPage = registry.DefaultGitHubPerPage
	}
	if c.Registries.FAR == nil {
		c.Registries.FAR = &FARRegistry{}
	}
	if c.Registries.FAR.BaseURL == "" {
		c.Registries.FAR.BaseURL = registry.DefaultFARBaseURL
	}
	if c.Registries.FAR.Limit == 0 {
		c.Registries.FAR.Limit = registry.DefaultFARLimit
	}
	if c.Registries.DockerHub == nil {
		c.Registries.DockerHub = &DockerHubRegistry{}
	}
	if c.Registries.DockerHub.BaseURL == "" {
		c.Registries.DockerHub.BaseURL = registry.DefaultDockerHubBaseURL
	}
	if c.Registries.DockerHub.Namespace == "" {
		c.Registries.DockerHub.Namespace = registry.DefaultDockerHubNamespace
	}

	if len(c.Groups) == 0 {
		c.Groups = DefaultGroups()
	}
	for name, g := range c.Groups {
		if g.Scope == "" {
			g.Scope = string(candidate.ScopePatch)
		}
		if g.SortOrder == "" {
			g.SortOrder = string(candidate.Ascending)
		}
		if g.Artifacts == "" {
			g.Artifacts = ArtifactNone
		}
		c.Groups[name] = g
	}

	if c.Run.MaxConcurrency == 0 {
		c.Run.MaxConcurrency = matrix.DefaultMaxConcurrency
	}
	if c.Run.MaxFailures == nil {
		disabled := -1
		c.Run.MaxFailures = &disabled
	}
	if c.Run.ResolveConcurrency == 0 {
		c.Run.ResolveConcurrency = DefaultResolveConcurrency
	}

	for i := range c.Targets {
		t := &c.Targets[i]
		if t.UpdateBranch == "" && t.ReleaseBranch != "" {
			t.UpdateBranch = t.ReleaseBranch + "-update"
		}
		if t.DescriptorPath == "" {
			t.DescriptorPath = pipeline.DefaultDescriptorPath
		}
	}
}
