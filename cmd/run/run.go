package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/platformsync/releaseflow/cmd/global"
	"github.com/platformsync/releaseflow/cmd/setup"
	"github.com/platformsync/releaseflow/internal/config"
	"github.com/platformsync/releaseflow/internal/flags/enum"
	"github.com/platformsync/releaseflow/internal/matrix"
	"github.com/platformsync/releaseflow/internal/metrics"
	"github.com/platformsync/releaseflow/internal/pipeline"
	"github.com/platformsync/releaseflow/internal/render"
	"github.com/platformsync/releaseflow/internal/render/progress"
	"github.com/platformsync/releaseflow/internal/render/progress/bar"
	"github.com/platformsync/releaseflow/internal/render/progress/simple"
)

const (
	FlagTarget      = "target"
	FlagValidate    = "validate"
	FlagMaxFailures = "max-failures"
	FlagProgress    = "progress"
	FlagMetricsAddr = "metrics-addr"
)

const (
	ProgressAuto   = "auto"
	ProgressSimple = "simple"
	ProgressBar    = "bar"
	ProgressNone   = "none"
)

const metricsShutdownTimeout = 5 * time.Second

// Output is the machine readable result of a run.
type Output struct {
	Run     *matrix.Run    `json:"run"`
	Summary matrix.Summary `json:"summary"`
	// ConcurrencyKeys maps every target ID to the key of the remote state it
	// mutates. Schedulers use it to keep runs on the same key from overlapping.
	ConcurrencyKeys map[string]string `json:"concurrencyKeys"`
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Propose release updates for all configured targets",
		Long: `Propose release updates for every target in parallel.

For each target the platform descriptor is read from the update branch if it
exists and from the release branch otherwise. Newer versions in scope are
resolved, the release version is incremented, the result is committed to the
update branch and a review request into the release branch is created or updated.

A failing target never stops the others. The command fails when more targets
failed than --max-failures allows.`,
		Example: strings.TrimSpace(`
releaseflow run --config releaseflow.yaml
releaseflow run --target folio-org/platform-lsp@R1-2025 --dry-run
releaseflow run --validate --max-failures 0 --metrics-addr :9090 -o json
`),
		Args:              cobra.NoArgs,
		RunE:              RunTargets,
		DisableAutoGenTag: true,
	}

	setup.RegisterResolutionFlags(cmd)
	cmd.Flags().StringArray(FlagTarget, nil, "target as owner/name@release-branch, replacing the configured targets (repeatable)")
	cmd.Flags().Bool(global.DryRunFlag, false, "compute every change without writing to any repository")
	cmd.Flags().Bool(FlagValidate, false, "dry-run all targets first and only execute the ones that passed")
	cmd.Flags().Int(global.MaxConcurrencyFlag, matrix.DefaultMaxConcurrency, "maximum number of targets processed in parallel")
	cmd.Flags().Int(FlagMaxFailures, -1, "maximum number of failed targets before the command fails (negative disables the check)")
	cmd.Flags().String(FlagMetricsAddr, "", "serve Prometheus metrics on this address while the run is in progress")
	enum.Var(cmd.Flags(), FlagProgress, []string{ProgressAuto, ProgressSimple, ProgressBar, ProgressNone}, "how target progress is displayed, auto draws a bar on terminals")
	enum.VarP(cmd.Flags(), global.OutputFlag, global.OutputFlagShort, render.Formats(render.OutputFormatTable, render.OutputFormatJSON, render.OutputFormatYAML), "output format of the run summary")
	return cmd
}

func RunTargets(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := setup.Configuration(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	progressMode, err := enum.Get(cmd.Flags(), FlagProgress)
	if err != nil {
		return fmt.Errorf("getting progress flag failed: %w", err)
	}
	output, err := enum.Get(cmd.Flags(), global.OutputFlag)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}
	metricsAddr, err := cmd.Flags().GetString(FlagMetricsAddr)
	if err != nil {
		return fmt.Errorf("getting metrics-addr flag failed: %w", err)
	}

	targets, err := cfg.PipelineTargets()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets configured: set targets in the configuration file or pass --%s", FlagTarget)
	}

	client, err := setup.SCM(cmd)
	if err != nil {
		return err
	}
	resolver, err := setup.Resolver(cmd)
	if err != nil {
		return err
	}
	p := pipeline.New(client, resolver)
	if err := p.Preflight(ctx, targets); err != nil {
		return err
	}

	if metricsAddr != "" {
		server, err := metrics.Serve(metricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.WarnContext(ctx, "stopping metrics server failed", "error", err)
			}
		}()
	}

	opts := []matrix.Option{
		matrix.WithMaxConcurrency(cfg.Run.MaxConcurrency),
		matrix.WithDryRun(cfg.Run.DryRun),
		matrix.WithValidation(cfg.Run.Validate),
	}

	factory := visualizer(progressMode, cmd.ErrOrStderr())
	var run *matrix.Run
	if factory == nil {
		run, err = matrix.Execute(ctx, targets, p.Operation, opts...)
	} else {
		run, err = executeWithProgress(ctx, cmd.ErrOrStderr(), factory, targets, p.Operation, opts)
	}
	if err != nil {
		return err
	}

	summary := matrix.Summarize(run.Results)
	if format := render.OutputFormat(output); format != render.OutputFormatTable {
		keys := make(map[string]string, len(targets))
		for _, t := range targets {
			keys[t.ID()] = t.ConcurrencyKey()
		}
		out := Output{Run: run, Summary: summary, ConcurrencyKeys: keys}
		if err := render.Encode(cmd.OutOrStdout(), out, format); err != nil {
			return err
		}
	} else {
		renderSummary(cmd.OutOrStdout(), run, summary)
	}
	return summary.CheckThreshold(*cfg.Run.MaxFailures)
}

// applyRunFlags overrides the run settings and targets of cfg with the flags
// that were set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed(global.DryRunFlag) {
		cfg.Run.DryRun, _ = flags.GetBool(global.DryRunFlag)
	}
	if flags.Changed(FlagValidate) {
		cfg.Run.Validate, _ = flags.GetBool(FlagValidate)
	}
	if flags.Changed(global.MaxConcurrencyFlag) {
		n, err := flags.GetInt(global.MaxConcurrencyFlag)
		if err != nil {
			return fmt.Errorf("getting max-concurrency flag failed: %w", err)
		}
		cfg.Run.MaxConcurrency = n
	}
	if flags.Changed(FlagMaxFailures) {
		n, err := flags.GetInt(FlagMaxFailures)
		if err != nil {
			return fmt.Errorf("getting max-failures flag failed: %w", err)
		}
		cfg.Run.MaxFailures = &n
	}
	if flags.Changed(FlagTarget) {
		raw, err := flags.GetStringArray(FlagTarget)
		if err != nil {
			return fmt.Errorf("getting target flag failed: %w", err)
		}
		targets := make([]config.Target, 0, len(raw))
		for _, s := range raw {
			t, err := parseTarget(s)
			if err != nil {
				return err
			}
			targets = append(targets, t)
		}
		cfg.Targets = targets
	}
	cfg.Default()
	return cfg.Validate()
}

func parseTarget(s string) (config.Target, error) {
	repo, release, ok := strings.Cut(s, "@")
	if !ok || repo == "" || release == "" {
		return config.Target{}, fmt.Errorf("invalid target %q: must be owner/name@release-branch", s)
	}
	return config.Target{Repository: repo, ReleaseBranch: release}, nil
}

func visualizer(mode string, out io.Writer) progress.VisualizerFactory[matrix.TargetResult] {
	if mode == ProgressAuto {
		mode = ProgressSimple
		if progress.IsTerminal(out) {
			mode = ProgressBar
		}
	}
	switch mode {
	case ProgressBar:
		return bar.NewBarVisualizer(
			bar.WithHeader[matrix.TargetResult]("Release updates"),
			bar.WithNameFormatter(func(r matrix.TargetResult) string { return r.Target }),
		)
	case ProgressSimple:
		return simple.NewSimpleVisualizer[matrix.TargetResult](slog.Default())
	default:
		return nil
	}
}

// executeWithProgress runs the matrix while a tracker visualizes the
// execution phase. Validation events are not displayed.
func executeWithProgress(ctx context.Context, out io.Writer, factory progress.VisualizerFactory[matrix.TargetResult], targets []pipeline.Target, op matrix.Operation[pipeline.Target], opts []matrix.Option) (*matrix.Run, error) {
	events := make(chan matrix.Event)
	displayed := make(chan matrix.Event)
	go func() {
		defer close(displayed)
		for evt := range events {
			if evt.Phase == matrix.PhaseExecute {
				displayed <- evt
			}
		}
	}()

	tracker := progress.NewTracker(
		progress.WithEvents[matrix.TargetResult, matrix.Event](displayed, toProgressEvent),
		progress.WithVisualizer[matrix.TargetResult, matrix.Event](factory),
		progress.WithTotal[matrix.TargetResult, matrix.Event](len(targets)),
		progress.WithOutput[matrix.TargetResult, matrix.Event](out),
	)
	go tracker.Start(ctx)

	run, err := matrix.Execute(ctx, targets, op, append(opts, matrix.WithEvents(events))...)
	close(events)
	tracker.Summary(err)
	return run, err
}

func toProgressEvent(evt matrix.Event) progress.Event[matrix.TargetResult] {
	if evt.Result == nil {
		return progress.Event[matrix.TargetResult]{
			ID:    evt.Target,
			Data:  matrix.TargetResult{Target: evt.Target},
			State: progress.Running,
		}
	}
	e := progress.Event[matrix.TargetResult]{ID: evt.Target, Data: *evt.Result}
	switch evt.Result.Status {
	case matrix.StatusSuccess:
		e.State = progress.Completed
	case matrix.StatusSkipped:
		e.State = progress.Skipped
	default:
		e.State = progress.Failed
		e.Err = errors.New(evt.Result.Message)
	}
	return e
}

func renderSummary(w io.Writer, run *matrix.Run, summary matrix.Summary) {
	t := render.NewTable(w, table.Row{"Target", "Status", "Message", "Duration"})
	for _, r := range run.Results {
		t.AppendRow(table.Row{r.Target, r.Status, r.Message, r.Duration.Round(time.Millisecond).String()})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d targets", summary.Total()),
		fmt.Sprintf("%d succeeded, %d failed, %d skipped", summary.SuccessCount, summary.FailureCount, summary.SkippedCount),
		"",
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
	})
	t.Render()
	if run.DryRun {
		fmt.Fprintln(w, "\nDry run: no repository was changed.")
	}
}
