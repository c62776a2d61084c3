package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformsync/releaseflow/internal/candidate"
	"github.com/platformsync/releaseflow/internal/config"
	"github.com/platformsync/releaseflow/internal/resolve"
)

const yamlConfig = `
http:
  timeout: 5s
retry:
  maxAttempts: 4
  backoff: 2s
registries:
  static:
    folio-kong: ["3.9.1", "3.9.2", "3.10.0"]
    app-platform-minimal: ["2.0.19", "2.0.20"]
groups:
  components:
    registry: static
    artifacts: static
    scope: patch
  applications/required:
    registry: static
    scope: minor
    sortOrder: descending
run:
  maxConcurrency: 3
  maxFailures: 1
targets:
- repository: folio-org/platform-lsp
  releaseBranch: R1-2025
  labels: [release-update]
`

const tomlConfig = `
[http]
timeout = "5s"

[retry]
maxAttempts = 4
backoff = "2s"

[registries.static]
folio-kong = ["3.9.1", "3.9.2", "3.10.0"]
app-platform-minimal = ["2.0.19", "2.0.20"]

[groups.components]
registry = "static"
artifacts = "static"
scope = "patch"

[groups."applications/required"]
registry = "static"
scope = "minor"
sortOrder = "descending"

[run]
maxConcurrency = 3
maxFailures = 1

[[targets]]
repository = "folio-org/platform-lsp"
releaseBranch = "R1-2025"
labels = ["release-update"]
`

func TestLoad(t *testing.T) {
	for name, tc := range map[string]struct {
		file    string
		content string
	}{
		"yaml": {file: "config.yaml", content: yamlConfig},
		"toml": {file: "config.toml", content: tomlConfig},
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			cfg, err := config.Load(path)
			require.NoError(t, err)

			assert.Equal(t, config.Duration(5*time.Second), cfg.HTTP.Timeout)
			assert.Equal(t, 4, cfg.Retry.MaxAttempts)
			assert.Equal(t, config.Duration(2*time.Second), cfg.Retry.Backoff)
			assert.Equal(t, 3, cfg.Run.MaxConcurrency)
			require.NotNil(t, cfg.Run.MaxFailures)
			assert.Equal(t, 1, *cfg.Run.MaxFailures)

			require.Len(t, cfg.Targets, 1)
			assert.Equal(t, "R1-2025-update", cfg.Targets[0].UpdateBranch)
			assert.Equal(t, "platform-descriptor.json", cfg.Targets[0].DescriptorPath)
			assert.Equal(t, []string{"release-update"}, cfg.Targets[0].Labels)

			assert.Equal(t, "ascending", cfg.Groups["components"].SortOrder)
			assert.Equal(t, "none", cfg.Groups["applications/required"].Artifacts)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := config.LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Run.MaxConcurrency)
	assert.Equal(t, -1, *cfg.Run.MaxFailures)
	assert.Equal(t, "folio-org", cfg.Registries.GitHub.Organization)
	assert.Equal(t, "https://far.ci.folio.org", cfg.Registries.FAR.BaseURL)
	assert.Equal(t, config.DefaultGroups(), cfg.Groups)
	assert.NoError(t, cfg.Validate())
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := config.Decode([]byte("run:\n  maxConcurency: 3\n"), config.FormatYAML)
	assert.Error(t, err)

	_, err = config.Decode([]byte("[run]\nmaxConcurency = 3\n"), config.FormatTOML)
	assert.Error(t, err)

	_, err = config.Decode([]byte(`{"http": {"timeout": 10}}`), config.FormatJSON)
	assert.Error(t, err, "durations are strings")
}

func TestValidate(t *testing.T) {
	cfg, err := config.Decode([]byte(`
retry:
  jitter: 2
groups:
  components:
    registry: nexus
    artifacts: s3
    scope: build
    sortOrder: random
    constraint: "not a range"
targets:
- repository: platform-lsp
  releaseBranch: R1-2025
  updateBranch: R1-2025
- repository: folio-org/platform-lsp
  releaseBranch: R1-2025
- repository: folio-org/platform-lsp
  releaseBranch: R1-2025
`), config.FormatYAML)
	require.NoError(t, err)
	cfg.Default()

	err = cfg.Validate()
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, want := range []string{
		"retry.jitter",
		`unknown registry "nexus"`,
		`unknown artifact checker "s3"`,
		"groups.components.scope",
		"groups.components.sortOrder",
		"groups.components.constraint",
		"targets[0].repository",
		"targets[0]: updateBranch must differ",
		"targets[2] duplicates targets[1]",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestResolverFromConfig(t *testing.T) {
	cfg, err := config.Decode([]byte(yamlConfig), config.FormatYAML)
	require.NoError(t, err)
	cfg.Default()
	require.NoError(t, cfg.Validate())

	groups, err := cfg.ResolverGroups(config.Clients{})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "applications/required", groups[0].Name)
	assert.Equal(t, candidate.ScopeMinor, groups[0].Scope)
	assert.Equal(t, candidate.Descending, groups[0].Order)
	assert.Nil(t, groups[0].Checker)
	assert.NotNil(t, groups[1].Checker)

	resolver, err := cfg.Resolver(config.Clients{})
	require.NoError(t, err)
	results, err := resolver.ResolveAll(context.Background(), []resolve.Request{
		{Component: "folio-kong", Current: "3.9.1", Group: "components"},
		{Component: "app-platform-minimal", Current: "2.0.19", Group: "applications/required"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"folio-kong": "3.9.2", "app-platform-minimal": "2.0.20"}, resolve.Updated(results))

	targets, err := cfg.PipelineTargets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "folio-org/platform-lsp@R1-2025", targets[0].ID())
}

func TestResolverGroupsRequireGitHubClient(t *testing.T) {
	cfg := &config.Config{}
	cfg.Default()
	_, err := cfg.ResolverGroups(config.Clients{})
	assert.ErrorContains(t, err, "requires a GitHub client")
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := &config.Config{}
	cfg.Default()
	for _, format := range []config.Format{config.FormatYAML, config.FormatJSON, config.FormatTOML} {
		data, err := cfg.Marshal(format)
		require.NoError(t, err, format)
		decoded, err := config.Decode(data, format)
		require.NoError(t, err, format)
		assert.Equal(t, cfg.Retry, decoded.Retry, format)
		assert.Equal(t, cfg.Groups, decoded.Groups, format)
	}
}
