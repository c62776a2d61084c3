// Package matrix runs the same operation across many independent targets.
//
// Targets are processed by a bounded pool of workers. Every target produces
// exactly one TargetResult; a failing or panicking target never cancels or
// affects any other target. Cancelling the run stops dispatching new targets
// (they are recorded as skipped) but lets already dispatched targets finish.
//
// Results are written into per-target slots and aggregated only after all
// workers have returned, see Summarize.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of a single target.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Target is a unit of work identified by a unique ID.
type Target interface {
	ID() string
}

// Outcome is what an operation reports for a target that did not fail.
type Outcome struct {
	// Status is StatusSuccess or StatusSkipped. Empty means StatusSuccess.
	Status            Status
	Message           string
	ProducedArtifacts []string
}

// Operation processes a single target. Returning an error records the target
// as failed with the error as message. dryRun asks the operation to compute
// its result without performing any write.
type Operation[T Target] func(ctx context.Context, target T, dryRun bool) (Outcome, error)

// TargetResult is the recorded outcome of one target. It is never modified
// after it has been recorded.
type TargetResult struct {
	Target            string        `json:"target"`
	Status            Status        `json:"status"`
	Message           string        `json:"message,omitempty"`
	ProducedArtifacts []string      `json:"producedArtifacts,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// Run is a finished orchestration run. Results holds one entry per target in
// the order of Targets.
type Run struct {
	DispatchID string         `json:"dispatchId"`
	Targets    []string       `json:"targets"`
	Results    []TargetResult `json:"results"`
	DryRun     bool           `json:"dryRun"`
	// Validation holds the results of the dry-run validation phase when the
	// run was started with validation.
	Validation []TargetResult `json:"validation,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// Phase tells the validation pass and the execution pass apart.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhaseExecute  Phase = "execute"
)

// Event reports the progress of a target. Result is nil when the target
// has been started and set once it finished.
type Event struct {
	DispatchID string
	Phase      Phase
	Target     string
	Result     *TargetResult
}

// ValidationError reports invalid run input. It is returned before any
// target work begins.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid run input: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Options configures Execute.
type Options struct {
	MaxConcurrency int
	DryRun         bool
	Validate       bool
	DispatchID     string
	Events         chan<- Event
}

// Option configures Options.
type Option func(*Options)

// DefaultMaxConcurrency is the number of targets processed in parallel when
// not configured otherwise.
const DefaultMaxConcurrency = 5

// WithMaxConcurrency bounds the number of targets processed in parallel.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) {
		o.MaxConcurrency = n
	}
}

// WithDryRun runs every target in dry-run mode.
func WithDryRun(dryRun bool) Option {
	return func(o *Options) {
		o.DryRun = dryRun
	}
}

// WithValidation runs a dry-run pass across all targets before the mutating
// pass. Targets that fail validation are not executed.
func WithValidation(validate bool) Option {
	return func(o *Options) {
		o.Validate = validate
	}
}

// WithDispatchID sets the run ID. A random UUID is used otherwise.
func WithDispatchID(id string) Option {
	return func(o *Options) {
		o.DispatchID = id
	}
}

// WithEvents makes Execute report progress on events. The channel is not
// closed by Execute.
func WithEvents(events chan<- Event) Option {
	return func(o *Options) {
		o.Events = events
	}
}

// Execute runs op for every target. The returned error is only non-nil for
// invalid input; target failures are recorded in the run.
func Execute[T Target](ctx context.Context, targets []T, op Operation[T], opts ...Option) (*Run, error) {
	options := Options{MaxConcurrency: DefaultMaxConcurrency}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxConcurrency <= 0 {
		options.MaxConcurrency = DefaultMaxConcurrency
	}
	if options.DispatchID == "" {
		options.DispatchID = uuid.NewString()
	}

	ids, err := targetIDs(targets)
	if err != nil {
		return nil, err
	}

	run := &Run{
		DispatchID: options.DispatchID,
		Targets:    ids,
		DryRun:     options.DryRun,
		StartedAt:  time.Now(),
	}
	logger := slog.With("dispatchId", run.DispatchID)
	logger.InfoContext(ctx, "starting run", "targets", len(targets), "maxConcurrency", options.MaxConcurrency, "dryRun", options.DryRun, "validate", options.Validate)

	eligible := make([]bool, len(targets))
	for i := range eligible {
		eligible[i] = true
	}

	if options.Validate && !options.DryRun {
		run.Validation = execute(ctx, logger, targets, eligible, op, true, PhaseValidate, options)
		for i, res := range run.Validation {
			eligible[i] = res.Status == StatusSuccess
		}
	}

	run.Results = execute(ctx, logger, targets, eligible, op, options.DryRun, PhaseExecute, options)
	for i, ok := range eligible {
		if !ok {
			v := run.Validation[i]
			status, msg := StatusFailure, "validation failed: "+v.Message
			if v.Status == StatusSkipped {
				status, msg = StatusSkipped, v.Message
			}
			run.Results[i] = TargetResult{Target: ids[i], Status: status, Message: msg}
			TargetsTotal.WithLabelValues(string(status)).Inc()
		}
	}
	run.FinishedAt = time.Now()

	summary := Summarize(run.Results)
	logger.InfoContext(ctx, "finished run",
		"success", summary.SuccessCount,
		"failure", summary.FailureCount,
		"skipped", summary.SkippedCount,
		"duration", run.FinishedAt.Sub(run.StartedAt).String())
	return run, nil
}

func execute[T Target](ctx context.Context, logger *slog.Logger, targets []T, eligible []bool, op Operation[T], dryRun bool, phase Phase, options Options) []TargetResult {
	results := make([]TargetResult, len(targets))

	// errgroup without a derived context: a failing target must not cancel
	// its siblings.
	var eg errgroup.Group
	eg.SetLimit(options.MaxConcurrency)

	for i, target := range targets {
		if !eligible[i] {
			continue
		}
		id := target.ID()
		if ctx.Err() != nil {
			results[i] = TargetResult{Target: id, Status: StatusSkipped, Message: "not dispatched: run cancelled"}
			continue
		}
		eg.Go(func() error {
			if ctx.Err() != nil {
				results[i] = TargetResult{Target: id, Status: StatusSkipped, Message: "not dispatched: run cancelled"}
				return nil
			}
			emit(options.Events, Event{DispatchID: options.DispatchID, Phase: phase, Target: id})

			InProgressGauge.Inc()
			start := time.Now()
			// dispatched work is not cancelled together with the run
			res := invoke(context.WithoutCancel(ctx), target, op, dryRun)
			res.Duration = time.Since(start)
			InProgressGauge.Dec()

			results[i] = res
			if phase == PhaseExecute {
				TargetsTotal.WithLabelValues(string(res.Status)).Inc()
				TargetDuration.WithLabelValues(string(res.Status)).Observe(res.Duration.Seconds())
			}

			attrs := []any{"target", id, "phase", string(phase), "status", string(res.Status), "duration", res.Duration.String()}
			switch res.Status {
			case StatusFailure:
				logger.ErrorContext(ctx, "target failed", append(attrs, "message", res.Message)...)
			default:
				logger.InfoContext(ctx, "target finished", append(attrs, "message", res.Message)...)
			}

			emit(options.Events, Event{DispatchID: options.DispatchID, Phase: phase, Target: id, Result: &res})
			return nil
		})
	}
	_ = eg.Wait()

	return results
}

func invoke[T Target](ctx context.Context, target T, op Operation[T], dryRun bool) (res TargetResult) {
	res.Target = target.ID()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "target panicked", "target", res.Target, "panic", r, "stack", string(debug.Stack()))
			res.Status = StatusFailure
			res.Message = fmt.Sprintf("panic: %v", r)
			res.ProducedArtifacts = nil
		}
	}()

	outcome, err := op(ctx, target, dryRun)
	if err != nil {
		res.Status = StatusFailure
		res.Message = err.Error()
		return res
	}
	res.Status = outcome.Status
	if res.Status == "" {
		res.Status = StatusSuccess
	}
	res.Message = outcome.Message
	if res.Status != StatusFailure {
		res.ProducedArtifacts = outcome.ProducedArtifacts
	}
	return res
}

func emit(events chan<- Event, evt Event) {
	if events != nil {
		events <- evt
	}
}

func targetIDs[T Target](targets []T) ([]string, error) {
	ids := make([]string, len(targets))
	seen := make(map[string]int, len(targets))
	var errs []error
	for i, t := range targets {
		id := t.ID()
		ids[i] = id
		if id == "" {
			errs = append(errs, fmt.Errorf("target %d has an empty id", i))
			continue
		}
		if j, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("target %q is listed twice (positions %d and %d)", id, j, i))
			continue
		}
		seen[id] = i
	}
	if err := errors.Join(errs...); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return ids, nil
}
