package setup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/platformsync/releaseflow/cmd/global"
	"github.com/platformsync/releaseflow/internal/candidate"
	"github.com/platformsync/releaseflow/internal/config"
	rfctx "github.com/platformsync/releaseflow/internal/context"
	"github.com/platformsync/releaseflow/internal/flags/enum"
	"github.com/platformsync/releaseflow/internal/gh"
	"github.com/platformsync/releaseflow/internal/resolve"
	"github.com/platformsync/releaseflow/internal/scm"
	"github.com/platformsync/releaseflow/log"
)

var DefaultConfigPath = filepath.Join("$HOME", ".config", "releaseflow", "config.yaml")

// RegisterGlobalFlags registers the persistent flags shared by all commands.
func RegisterGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(global.ConfigFlag, DefaultConfigPath, "configuration file (yaml, json or toml); a missing default file means built-in defaults")
	flags.String(global.GitHubURLFlag, "", "GitHub API base URL, overriding the config file value")
	flags.Duration(global.TimeoutFlag, 0, `timeout of a single registry call (e.g. "10s"), overriding the config file value`)
	flags.Int(global.MaxAttemptsFlag, 0, "total attempts per registry call including the first one, overriding the config file value")
	flags.Duration(global.RetryBackoffFlag, 0, `delay before the first retry (e.g. "2s"), overriding the config file value`)
	flags.Bool(global.NoCacheFlag, false, "disable the registry version list cache")
	log.RegisterLoggingFlags(cmd)
}

// RegisterResolutionFlags registers the flags overriding the resolution
// policy of every configured group.
func RegisterResolutionFlags(cmd *cobra.Command) {
	scopes := []string{string(candidate.ScopePatch), string(candidate.ScopeMinor), string(candidate.ScopeMajor)}
	orders := []string{string(candidate.Ascending), string(candidate.Descending)}
	enum.Var(cmd.Flags(), global.ScopeFlag, scopes, "resolution scope for all groups, overriding the config file value")
	enum.Var(cmd.Flags(), global.SortOrderFlag, orders, "candidate sort order for all groups, overriding the config file value")
}

// PreRunE sets up logging, configuration and clients for every command.
func PreRunE(cmd *cobra.Command, _ []string) error {
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("could not retrieve logger: %w", err)
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyGlobalFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := rfctx.WithConfiguration(cmd.Context(), cfg)

	client, err := gh.NewClient(gh.Options{HTTPClient: cfg.HTTPClient(), BaseURL: cfg.GitHub.BaseURL})
	if err != nil {
		return err
	}
	ctx = rfctx.WithGitHubClient(ctx, client)
	// a source control client set by the caller, e.g. an in-memory one, is kept
	if rfctx.FromContext(ctx).SCM() == nil {
		ctx = rfctx.WithSCM(ctx, scm.NewGitHub(client))
	}
	cmd.SetContext(ctx)
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(global.ConfigFlag)
	if err != nil {
		return nil, err
	}
	path = os.ExpandEnv(path)
	if cmd.Flags().Changed(global.ConfigFlag) {
		slog.DebugContext(cmd.Context(), "loading configuration", "path", path)
		return config.Load(path)
	}
	return config.LoadOrDefault(path)
}

// applyGlobalFlags applies the persistent flags on top of the file values.
func applyGlobalFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed(global.GitHubURLFlag) {
		cfg.GitHub.BaseURL, _ = flags.GetString(global.GitHubURLFlag)
	}
	if flags.Changed(global.TimeoutFlag) {
		timeout, err := flags.GetDuration(global.TimeoutFlag)
		if err != nil {
			return err
		}
		cfg.HTTP.Timeout = config.Duration(timeout)
	}
	if flags.Changed(global.MaxAttemptsFlag) {
		attempts, err := flags.GetInt(global.MaxAttemptsFlag)
		if err != nil {
			return err
		}
		cfg.Retry.MaxAttempts = attempts
	}
	if flags.Changed(global.RetryBackoffFlag) {
		backoff, err := flags.GetDuration(global.RetryBackoffFlag)
		if err != nil {
			return err
		}
		cfg.Retry.Backoff = config.Duration(backoff)
	}
	if flags.Changed(global.NoCacheFlag) {
		cfg.Cache.Disabled, _ = flags.GetBool(global.NoCacheFlag)
	}
	return nil
}

// applyResolutionFlags overrides scope and sort order of every group when
// the flags are set.
func applyResolutionFlags(cmd *cobra.Command, cfg *config.Config) error {
	overrides := map[string]func(*config.Group, string){
		global.ScopeFlag:     func(g *config.Group, v string) { g.Scope = v },
		global.SortOrderFlag: func(g *config.Group, v string) { g.SortOrder = v },
	}
	for flag, set := range overrides {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		value, err := enum.Get(cmd.Flags(), flag)
		if err != nil {
			return err
		}
		for name, g := range cfg.Groups {
			set(&g, value)
			cfg.Groups[name] = g
		}
	}
	return nil
}

// Configuration returns the configuration set up by PreRunE.
func Configuration(cmd *cobra.Command) (*config.Config, error) {
	cfg := rfctx.FromContext(cmd.Context()).Configuration()
	if cfg == nil {
		return nil, fmt.Errorf("could not retrieve configuration from context")
	}
	return cfg, nil
}

// SCM returns the source control client set up by PreRunE.
func SCM(cmd *cobra.Command) (scm.Client, error) {
	client := rfctx.FromContext(cmd.Context()).SCM()
	if client == nil {
		return nil, fmt.Errorf("could not retrieve source control client from context")
	}
	return client, nil
}

// Resolver builds the resolver for the configured groups after applying the
// resolution flags of cmd.
func Resolver(cmd *cobra.Command) (*resolve.Resolver, error) {
	cfg, err := Configuration(cmd)
	if err != nil {
		return nil, err
	}
	if err := applyResolutionFlags(cmd, cfg); err != nil {
		return nil, err
	}
	resolver, err := cfg.Resolver(config.Clients{
		HTTP:   cfg.HTTPClient(),
		GitHub: rfctx.FromContext(cmd.Context()).GitHubClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("could not set up registries: %w", err)
	}
	return resolver, nil
}
