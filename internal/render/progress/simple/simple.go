package simple

import (
	"io"
	"log/slog"

	"github.com/platformsync/releaseflow/internal/render/progress"
)

// simpleVisualizer logs target progress through a structured logger.
type simpleVisualizer[T any] struct {
	logger *slog.Logger
}

// NewSimpleVisualizer returns a factory for a visualizer that logs every event.
func NewSimpleVisualizer[T any](logger *slog.Logger) progress.VisualizerFactory[T] {
	return func(_ io.Writer, _ int) progress.Visualizer[T] {
		return &simpleVisualizer[T]{logger: logger}
	}
}

func (v *simpleVisualizer[T]) HandleEvent(event progress.Event[T]) {
	switch event.State {
	case progress.Running:
		v.logger.Debug("target started", "target", event.ID)
	case progress.Completed:
		v.logger.Debug("target succeeded", "target", event.ID)
	case progress.Skipped:
		v.logger.Info("target skipped", "target", event.ID)
	case progress.Failed:
		v.logger.Error("target failed", "target", event.ID, "error", event.Err)
	case progress.Cancelled:
		v.logger.Warn("target cancelled", "target", event.ID)
	}
}

func (v *simpleVisualizer[T]) Summary(err error) {
	if err != nil {
		v.logger.Error("run failed", "error", err)
	}
}
