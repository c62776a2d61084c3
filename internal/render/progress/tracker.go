// Package progress forwards per-target events of a run to a Visualizer.
//
//	events := make(chan matrix.Event)
//	tracker := progress.NewTracker(
//	    progress.WithEvents(events, mapEvent),
//	    progress.WithVisualizer[matrix.TargetResult, matrix.Event](simple.NewSimpleVisualizer[matrix.TargetResult](logger)),
//	    progress.WithTotal[matrix.TargetResult, matrix.Event](len(targets)),
//	)
//	go tracker.Start(ctx)
//	run, err := matrix.Execute(ctx, targets, op, matrix.WithEvents(events))
//	close(events)
//	tracker.Summary(err)
package progress

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// State is the lifecycle state of a tracked item.
type State string

const (
	Running   State = "running"
	Completed State = "completed"
	Skipped   State = "skipped"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

// Final reports whether s ends the lifecycle of an item.
func (s State) Final() bool {
	return s != Running
}

// Event is the progress of a single item.
type Event[T any] struct {
	ID    string
	Data  T
	State State
	Err   error
}

// Visualizer renders progress events.
type Visualizer[T any] interface {
	HandleEvent(event Event[T])
	// Summary is called once after the last event.
	Summary(err error)
}

// VisualizerFactory creates a Visualizer writing to out for total items.
type VisualizerFactory[T any] func(out io.Writer, total int) Visualizer[T]

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Tracker maps raw events of type E read from a channel to Event[T] and
// hands them to a visualizer.
type Tracker[T, E any] struct {
	events     <-chan E
	mapper     func(E) Event[T]
	factory    VisualizerFactory[T]
	visualizer Visualizer[T]
	out        io.Writer
	total      int
	finished   chan struct{}

	previousLogger *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption[T, E any] func(*Tracker[T, E])

// WithEvents sets the event source and the function mapping its events.
func WithEvents[T, E any](events <-chan E, mapper func(E) Event[T]) TrackerOption[T, E] {
	return func(t *Tracker[T, E]) {
		t.events = events
		t.mapper = mapper
	}
}

// WithVisualizer sets the visualizer factory.
func WithVisualizer[T, E any](factory VisualizerFactory[T]) TrackerOption[T, E] {
	return func(t *Tracker[T, E]) {
		t.factory = factory
	}
}

// WithTotal sets the number of expected items.
func WithTotal[T, E any](total int) TrackerOption[T, E] {
	return func(t *Tracker[T, E]) {
		t.total = total
	}
}

// WithOutput sets the writer handed to the visualizer.
func WithOutput[T, E any](w io.Writer) TrackerOption[T, E] {
	return func(t *Tracker[T, E]) {
		t.out = w
	}
}

// NewTracker returns a Tracker configured with opts.
func NewTracker[T, E any](opts ...TrackerOption[T, E]) *Tracker[T, E] {
	t := &Tracker[T, E]{finished: make(chan struct{})}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start consumes events until the channel is closed. Run it in its own
// goroutine. Events carrying a context error are reported as Cancelled.
func (t *Tracker[T, E]) Start(_ context.Context) {
	defer close(t.finished)
	if t.factory != nil {
		t.visualizer = t.factory(t.out, t.total)
	}
	t.captureLogs()

	for raw := range t.events {
		evt := t.mapper(raw)
		if evt.Err != nil && (errors.Is(evt.Err, context.Canceled) || errors.Is(evt.Err, context.DeadlineExceeded)) {
			evt.State = Cancelled
			evt.Err = nil
		}
		if t.visualizer != nil {
			t.visualizer.HandleEvent(evt)
		}
	}
}

// captureLogs routes the default logger into a buffer while a visualizer
// that draws in place owns the output. Only one Tracker may capture at a time.
func (t *Tracker[T, E]) captureLogs() {
	aware, ok := t.visualizer.(LogBufferAware)
	if !ok {
		return
	}
	buf := &bytes.Buffer{}
	t.previousLogger = slog.Default()
	slog.SetDefault(slog.New(newBufferedHandler(buf, t.previousLogger.Handler())))
	aware.SetLogBuffer(buf)
}

// Summary waits until Start returned and lets the visualizer summarise.
func (t *Tracker[T, E]) Summary(err error) {
	<-t.finished
	if t.visualizer != nil {
		t.visualizer.Summary(err)
	}
	if t.previousLogger != nil {
		slog.SetDefault(t.previousLogger)
	}
}
