// Package bump increments the numeric patch segment of composite version
// strings such as "R1-2025.5".
//
// Failures never surface as errors: a version that cannot be incremented is
// returned unchanged together with a failure reason.
package bump

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// DefaultPattern matches a base prefix ending in a dot followed by a numeric
// patch segment.
const DefaultPattern = `^(.*\.)(\d+)$`

// IncrementType selects the segment to increment.
type IncrementType string

const (
	IncrementPatch IncrementType = "patch"
)

// Result is the outcome of Increment.
type Result struct {
	NewVersion    string `json:"newVersion"`
	Updated       bool   `json:"updated"`
	FailureReason string `json:"failureReason,omitempty"`
}

// Increment bumps current when changes is true. pattern must contain exactly
// two capture groups, the base prefix and the numeric patch segment. An empty
// pattern means DefaultPattern and an empty increment type means patch.
func Increment(current string, changes bool, pattern string, incrementType IncrementType) Result {
	unchanged := Result{NewVersion: current}
	if !changes {
		return unchanged
	}

	if incrementType == "" {
		incrementType = IncrementPatch
	}
	if incrementType != IncrementPatch {
		unchanged.FailureReason = fmt.Sprintf("unsupported increment type %q: only %q is supported", incrementType, IncrementPatch)
		return unchanged
	}

	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		unchanged.FailureReason = fmt.Sprintf("invalid version pattern %q: %v", pattern, err)
		return unchanged
	}
	if re.NumSubexp() != 2 {
		unchanged.FailureReason = fmt.Sprintf("version pattern %q must have exactly 2 capture groups, has %d", pattern, re.NumSubexp())
		return unchanged
	}

	m := re.FindStringSubmatch(current)
	if m == nil {
		unchanged.FailureReason = fmt.Sprintf("version %q does not match pattern %q", current, pattern)
		return unchanged
	}
	prefix, patch := m[1], m[2]

	n, err := strconv.ParseUint(patch, 10, 64)
	switch {
	case errors.Is(err, strconv.ErrRange):
		unchanged.FailureReason = fmt.Sprintf("patch segment %q of version %q is out of range", patch, current)
		return unchanged
	case err != nil:
		unchanged.FailureReason = fmt.Sprintf("patch segment %q of version %q is not numeric", patch, current)
		return unchanged
	case n == math.MaxUint64:
		unchanged.FailureReason = fmt.Sprintf("patch segment %q of version %q cannot be incremented without overflow", patch, current)
		return unchanged
	}

	// keep zero padding, "09" becomes "10" and "007" becomes "008"
	next := fmt.Sprintf("%0*d", len(patch), n+1)
	return Result{NewVersion: prefix + next, Updated: true}
}
