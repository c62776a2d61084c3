package progress_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformsync/releaseflow/internal/render/progress"
)

type mockVisualizer struct {
	mu      sync.Mutex
	events  []progress.Event[int]
	summary error
	logs    *bytes.Buffer
}

func (m *mockVisualizer) HandleEvent(e progress.Event[int]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *mockVisualizer) Summary(err error) { m.summary = err }

type bufferedVisualizer struct{ mockVisualizer }

func (b *bufferedVisualizer) SetLogBuffer(buf *bytes.Buffer) { b.logs = buf }

type rawEvent struct {
	n   int
	err error
}

func mapRaw(r rawEvent) progress.Event[int] {
	state := progress.Completed
	if r.err != nil {
		state = progress.Failed
	}
	return progress.Event[int]{ID: fmt.Sprint(r.n), Data: r.n, State: state, Err: r.err}
}

func TestTracker(t *testing.T) {
	vis := &mockVisualizer{}
	events := make(chan rawEvent)
	tracker := progress.NewTracker(
		progress.WithEvents(events, mapRaw),
		progress.WithVisualizer[int, rawEvent](func(io.Writer, int) progress.Visualizer[int] { return vis }),
		progress.WithTotal[int, rawEvent](3),
	)
	go tracker.Start(context.Background())

	events <- rawEvent{n: 1}
	events <- rawEvent{n: 2, err: errors.New("boom")}
	events <- rawEvent{n: 3, err: fmt.Errorf("aborted: %w", context.Canceled)}
	close(events)
	summaryErr := errors.New("done with failures")
	tracker.Summary(summaryErr)

	require.Len(t, vis.events, 3)
	assert.Equal(t, progress.Completed, vis.events[0].State)
	assert.Equal(t, progress.Failed, vis.events[1].State)
	assert.Equal(t, progress.Cancelled, vis.events[2].State)
	assert.NoError(t, vis.events[2].Err)
	assert.Equal(t, summaryErr, vis.summary)
}

func TestTrackerCapturesLogs(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	vis := &bufferedVisualizer{}
	events := make(chan rawEvent)
	tracker := progress.NewTracker(
		progress.WithEvents(events, mapRaw),
		progress.WithVisualizer[int, rawEvent](func(io.Writer, int) progress.Visualizer[int] { return vis }),
	)
	go tracker.Start(context.Background())
	events <- rawEvent{n: 1}

	slog.Info("while tracking")
	close(events)
	tracker.Summary(nil)

	require.NotNil(t, vis.logs)
	assert.Contains(t, vis.logs.String(), "while tracking")
	assert.Same(t, previous, slog.Default())
}

func TestStateFinal(t *testing.T) {
	assert.False(t, progress.Running.Final())
	for _, s := range []progress.State{progress.Completed, progress.Skipped, progress.Failed, progress.Cancelled} {
		assert.True(t, s.Final(), s)
	}
}
