package matrix

import (
	"errors"
	"fmt"
)

// ErrFailureThresholdExceeded is returned by Summary.CheckThreshold when more
// targets failed than the caller tolerates.
var ErrFailureThresholdExceeded = errors.New("failure threshold exceeded")

// FailedTarget names a failed target and why it failed.
type FailedTarget struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// Summary aggregates the results of a run.
type Summary struct {
	SuccessCount  int            `json:"successCount"`
	FailureCount  int            `json:"failureCount"`
	SkippedCount  int            `json:"skippedCount"`
	FailedTargets []FailedTarget `json:"failedTargets"`
}

// Total returns the number of aggregated results.
func (s Summary) Total() int {
	return s.SuccessCount + s.FailureCount + s.SkippedCount
}

// Summarize folds results into a Summary. Results with an unknown status
// count as failures.
func Summarize(results []TargetResult) Summary {
	s := Summary{FailedTargets: []FailedTarget{}}
	for _, r := range results {
		s = s.add(r)
	}
	return s
}

func (s Summary) add(r TargetResult) Summary {
	switch r.Status {
	case StatusSuccess:
		s.SuccessCount++
	case StatusSkipped:
		s.SkippedCount++
	default:
		s.FailureCount++
		reason := r.Message
		if r.Status != StatusFailure {
			reason = fmt.Sprintf("unknown status %q: %s", r.Status, r.Message)
		}
		s.FailedTargets = append(s.FailedTargets, FailedTarget{Target: r.Target, Reason: reason})
	}
	return s
}

// CheckThreshold returns ErrFailureThresholdExceeded when more than
// maxFailures targets failed. A negative maxFailures disables the check.
func (s Summary) CheckThreshold(maxFailures int) error {
	if maxFailures < 0 || s.FailureCount <= maxFailures {
		return nil
	}
	return fmt.Errorf("%d of %d targets failed, at most %d allowed: %w", s.FailureCount, s.Total(), maxFailures, ErrFailureThresholdExceeded)
}
