package matrix_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformsync/releaseflow/internal/matrix"
)

type target string

func (t target) ID() string { return string(t) }

func targets(n int) []target {
	out := make([]target, n)
	for i := range out {
		out[i] = target(fmt.Sprintf("target-%02d", i))
	}
	return out
}

func TestExecuteCountsEveryTarget(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 0))
	for i := range 20 {
		ts := targets(r.IntN(30))
		statuses := make(map[target]int, len(ts))
		for _, tg := range ts {
			statuses[tg] = r.IntN(3)
		}

		run, err := matrix.Execute(context.Background(), ts, func(_ context.Context, tg target, _ bool) (matrix.Outcome, error) {
			switch statuses[tg] {
			case 0:
				return matrix.Outcome{}, nil
			case 1:
				return matrix.Outcome{}, errors.New("failed")
			default:
				return matrix.Outcome{Status: matrix.StatusSkipped, Message: "nothing to do"}, nil
			}
		}, matrix.WithMaxConcurrency(1+r.IntN(8)))
		require.NoError(t, err)

		summary := matrix.Summarize(run.Results)
		assert.Equal(t, len(ts), summary.SuccessCount+summary.FailureCount+summary.SkippedCount, "iteration %d", i)
		assert.Len(t, run.Results, len(ts))
		assert.Len(t, summary.FailedTargets, summary.FailureCount)
	}
}

func TestExecuteIsolatesFailures(t *testing.T) {
	ts := targets(10)
	op := func(_ context.Context, tg target, dryRun bool) (matrix.Outcome, error) {
		return matrix.Outcome{Message: "ok", ProducedArtifacts: []string{string(tg) + ".json"}}, nil
	}

	baseline, err := matrix.Execute(context.Background(), ts, op)
	require.NoError(t, err)

	failing := func(ctx context.Context, tg target, dryRun bool) (matrix.Outcome, error) {
		if tg == "target-03" {
			return matrix.Outcome{}, errors.New("registry exploded")
		}
		if tg == "target-07" {
			panic("unexpected nil map")
		}
		return op(ctx, tg, dryRun)
	}
	run, err := matrix.Execute(context.Background(), ts, failing, matrix.WithMaxConcurrency(3))
	require.NoError(t, err)

	for i, res := range run.Results {
		switch res.Target {
		case "target-03":
			assert.Equal(t, matrix.StatusFailure, res.Status)
			assert.Equal(t, "registry exploded", res.Message)
		case "target-07":
			assert.Equal(t, matrix.StatusFailure, res.Status)
			assert.Contains(t, res.Message, "panic: unexpected nil map")
			assert.Empty(t, res.ProducedArtifacts)
		default:
			assert.Equal(t, baseline.Results[i].Status, res.Status)
			assert.Equal(t, baseline.Results[i].Message, res.Message)
			assert.Equal(t, baseline.Results[i].ProducedArtifacts, res.ProducedArtifacts)
		}
	}

	summary := matrix.Summarize(run.Results)
	assert.Equal(t, 8, summary.SuccessCount)
	assert.Equal(t, 2, summary.FailureCount)
	assert.ElementsMatch(t, []matrix.FailedTarget{
		{Target: "target-03", Reason: "registry exploded"},
		{Target: "target-07", Reason: "panic: unexpected nil map"},
	}, summary.FailedTargets)
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	op := func(context.Context, target, bool) (matrix.Outcome, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return matrix.Outcome{}, nil
	}

	_, err := matrix.Execute(context.Background(), targets(20), op, matrix.WithMaxConcurrency(3))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	var dispatchedCtxErr atomic.Value
	op := func(ctx context.Context, tg target, _ bool) (matrix.Outcome, error) {
		if tg == "target-00" {
			started <- struct{}{}
			<-release
			if err := ctx.Err(); err != nil {
				dispatchedCtxErr.Store(err)
			}
		}
		return matrix.Outcome{}, nil
	}

	done := make(chan *matrix.Run)
	go func() {
		run, err := matrix.Execute(ctx, targets(5), op, matrix.WithMaxConcurrency(1))
		assert.NoError(t, err)
		done <- run
	}()

	<-started
	cancel()
	close(release)
	run := <-done

	assert.Equal(t, matrix.StatusSuccess, run.Results[0].Status, "dispatched target finishes")
	assert.Nil(t, dispatchedCtxErr.Load(), "dispatched target is not cancelled")
	for _, res := range run.Results[1:] {
		assert.Equal(t, matrix.StatusSkipped, res.Status)
		assert.Contains(t, res.Message, "cancelled")
	}
	summary := matrix.Summarize(run.Results)
	assert.Equal(t, 5, summary.Total())
}

func TestExecuteRejectsInvalidTargets(t *testing.T) {
	var calls atomic.Int32
	op := func(context.Context, target, bool) (matrix.Outcome, error) {
		calls.Add(1)
		return matrix.Outcome{}, nil
	}

	_, err := matrix.Execute(context.Background(), []target{"a", "b", "a", ""}, op)
	var verr *matrix.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), `"a" is listed twice`)
	assert.Contains(t, err.Error(), "empty id")
	assert.Zero(t, calls.Load(), "no target work begins")
}

func TestExecuteTwoPhase(t *testing.T) {
	var mu sync.Mutex
	writes := map[target]int{}
	op := func(_ context.Context, tg target, dryRun bool) (matrix.Outcome, error) {
		if tg == "target-01" {
			return matrix.Outcome{}, errors.New("descriptor is invalid")
		}
		if tg == "target-02" {
			return matrix.Outcome{Status: matrix.StatusSkipped, Message: "no changes"}, nil
		}
		if !dryRun {
			mu.Lock()
			writes[tg]++
			mu.Unlock()
		}
		return matrix.Outcome{}, nil
	}

	run, err := matrix.Execute(context.Background(), targets(4), op, matrix.WithValidation(true))
	require.NoError(t, err)

	require.Len(t, run.Validation, 4)
	assert.Equal(t, matrix.StatusFailure, run.Validation[1].Status)

	assert.Equal(t, matrix.StatusSuccess, run.Results[0].Status)
	assert.Equal(t, matrix.StatusFailure, run.Results[1].Status)
	assert.Equal(t, "validation failed: descriptor is invalid", run.Results[1].Message)
	assert.Equal(t, matrix.StatusSkipped, run.Results[2].Status)
	assert.Equal(t, matrix.StatusSuccess, run.Results[3].Status)
	assert.Equal(t, map[target]int{"target-00": 1, "target-03": 1}, writes)

	t.Run("dry run skips the validation phase", func(t *testing.T) {
		clear(writes)
		run, err := matrix.Execute(context.Background(), targets(4), op, matrix.WithValidation(true), matrix.WithDryRun(true))
		require.NoError(t, err)
		assert.True(t, run.DryRun)
		assert.Empty(t, run.Validation)
		assert.Empty(t, writes)
	})
}

func TestExecuteEvents(t *testing.T) {
	events := make(chan matrix.Event, 100)
	run, err := matrix.Execute(context.Background(), targets(3), func(context.Context, target, bool) (matrix.Outcome, error) {
		return matrix.Outcome{}, nil
	}, matrix.WithEvents(events), matrix.WithDispatchID("run-1"))
	require.NoError(t, err)
	close(events)

	assert.Equal(t, "run-1", run.DispatchID)
	started, finished := 0, 0
	for evt := range events {
		assert.Equal(t, "run-1", evt.DispatchID)
		assert.Equal(t, matrix.PhaseExecute, evt.Phase)
		if evt.Result == nil {
			started++
		} else {
			finished++
			assert.Equal(t, matrix.StatusSuccess, evt.Result.Status)
		}
	}
	assert.Equal(t, 3, started)
	assert.Equal(t, 3, finished)
}

func TestCheckThreshold(t *testing.T) {
	s := matrix.Summarize([]matrix.TargetResult{
		{Target: "a", Status: matrix.StatusSuccess},
		{Target: "b", Status: matrix.StatusFailure, Message: "x"},
		{Target: "c", Status: matrix.StatusFailure, Message: "y"},
		{Target: "d", Status: "bogus"},
	})
	assert.Equal(t, 3, s.FailureCount)
	assert.Equal(t, 4, s.Total())

	assert.NoError(t, s.CheckThreshold(-1))
	assert.NoError(t, s.CheckThreshold(3))
	assert.ErrorIs(t, s.CheckThreshold(2), matrix.ErrFailureThresholdExceeded)
	assert.ErrorIs(t, s.CheckThreshold(0), matrix.ErrFailureThresholdExceeded)
}

func TestSummarizeEmpty(t *testing.T) {
	s := matrix.Summarize(nil)
	assert.Zero(t, s.Total())
	assert.NotNil(t, s.FailedTargets)
}
