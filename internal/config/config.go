// Package config loads the releaseflow configuration file.
//
// The file is YAML, JSON or TOML, selected by extension:
//
//	http:
//	  timeout: 10s
//	retry:
//	  maxAttempts: 3
//	  backoff: 1s
//	registries:
//	  github:
//	    organization: folio-org
//	  far:
//	    baseURL: https://far.ci.folio.org
//	groups:
//	  components:
//	    registry: github
//	    artifacts: dockerhub
//	    scope: patch
//	run:
//	  maxConcurrency: 5
//	targets:
//	- repository: folio-org/platform-lsp
//	  releaseBranch: R1-2025
//	  updateBranch: R1-2025-update
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"sigs.k8s.io/yaml"
)

// Format is the encoding of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatFromPath derives the format from the file extension. Unknown
// extensions are read as YAML, which also covers JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Duration is a time.Duration written as a string such as "1m30s".
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Config is the complete configuration.
type Config struct {
	HTTP       HTTP             `json:"http" toml:"http"`
	Retry      Retry            `json:"retry" toml:"retry"`
	Cache      Cache            `json:"cache" toml:"cache"`
	GitHub     GitHub           `json:"github" toml:"github"`
	Registries Registries       `json:"registries" toml:"registries"`
	Groups     map[string]Group `json:"groups" toml:"groups"`
	Run        Run              `json:"run" toml:"run"`
	Targets    []Target         `json:"targets" toml:"targets"`
}

// HTTP configures the client shared by all registries.
type HTTP struct {
	Timeout   Duration `json:"timeout" toml:"timeout"`
	UserAgent string   `json:"userAgent" toml:"userAgent"`
}

// Retry configures the backoff applied to registry calls.
type Retry struct {
	MaxAttempts int      `json:"maxAttempts" toml:"maxAttempts"`
	Backoff     Duration `json:"backoff" toml:"backoff"`
	MaxBackoff  Duration `json:"maxBackoff" toml:"maxBackoff"`
	Multiplier  float64  `json:"multiplier" toml:"multiplier"`
	// Jitter is the fraction by which a delay is randomized in either direction.
	Jitter float64 `json:"jitter" toml:"jitter"`
}

// Cache configures the version list cache in front of every registry.
type Cache struct {
	Disabled bool     `json:"disabled" toml:"disabled"`
	Size     int      `json:"size" toml:"size"`
	TTL      Duration `json:"ttl" toml:"ttl"`
}

// GitHub configures the source control API. The token is read from
// GITHUB_TOKEN and never from the file.
type GitHub struct {
	BaseURL string `json:"baseURL" toml:"baseURL"`
}

// Registries configures the available registries by kind.
type Registries struct {
	GitHub    *GitHubRegistry     `json:"github,omitempty" toml:"github"`
	FAR       *FARRegistry        `json:"far,omitempty" toml:"far"`
	DockerHub *DockerHubRegistry  `json:"dockerhub,omitempty" toml:"dockerhub"`
	Static    map[string][]string `json:"static,omitempty" toml:"static"`
}

// GitHubRegistry lists component versions from repository tags.
type GitHubRegistry struct {
	Organization string `json:"organization" toml:"organization"`
	PerPage      int    `json:"perPage" toml:"perPage"`
}

// FARRegistry lists application versions from an application descriptor registry.
type FARRegistry struct {
	BaseURL string `json:"baseURL" toml:"baseURL"`
	Limit   int    `json:"limit" toml:"limit"`
}

// DockerHubRegistry checks container image tags.
type DockerHubRegistry struct {
	BaseURL   string `json:"baseURL" toml:"baseURL"`
	Namespace string `json:"namespace" toml:"namespace"`
}

// Group configures the resolution of one descriptor group.
type Group struct {
	// Registry names the registry listing versions: github, far or static.
	Registry string `json:"registry" toml:"registry"`
	// Artifacts names the artifact checker: dockerhub, static or none.
	Artifacts         string `json:"artifacts" toml:"artifacts"`
	Scope             string `json:"scope" toml:"scope"`
	SortOrder         string `json:"sortOrder" toml:"sortOrder"`
	IncludePrerelease bool   `json:"includePrerelease" toml:"includePrerelease"`
	Limit             int    `json:"limit" toml:"limit"`
	LatestN           int    `json:"latestN" toml:"latestN"`
	Constraint        string `json:"constraint" toml:"constraint"`
}

// Run configures the matrix run.
type Run struct {
	MaxConcurrency int  `json:"maxConcurrency" toml:"maxConcurrency"`
	DryRun         bool `json:"dryRun" toml:"dryRun"`
	Validate       bool `json:"validate" toml:"validate"`
	// MaxFailures fails the run when more targets failed. Negative disables
	// the threshold, which is the default.
	MaxFailures *int `json:"maxFailures,omitempty" toml:"maxFailures"`
	// ResolveConcurrency bounds concurrent registry lookups per target.
	ResolveConcurrency int `json:"resolveConcurrency" toml:"resolveConcurrency"`
}

// Target is a repository release branch to keep up to date.
type Target struct {
	Repository     string   `json:"repository" toml:"repository"`
	ReleaseBranch  string   `json:"releaseBranch" toml:"releaseBranch"`
	UpdateBranch   string   `json:"updateBranch" toml:"updateBranch"`
	DescriptorPath string   `json:"descriptorPath" toml:"descriptorPath"`
	VersionPattern string   `json:"versionPattern" toml:"versionPattern"`
	IncrementType  string   `json:"incrementType" toml:"incrementType"`
	Labels         []string `json:"labels" toml:"labels"`
	Reviewers      []string `json:"reviewers" toml:"reviewers"`
}

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	cfg, err := Decode(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path and falls back to the defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		cfg.Default()
		return cfg, nil
	}
	return Load(path)
}

// Decode decodes data without applying defaults.
func Decode(data []byte, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys %v", undecoded)
		}
	case FormatYAML, FormatJSON:
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", format)
	}
	return cfg, nil
}

// Marshal encodes the configuration in format.
func (c *Config) Marshal(format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(c); err != nil {
			return nil, err
		}
		return []byte(sb.String()), nil
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	default:
		return yaml.Marshal(c)
	}
}
