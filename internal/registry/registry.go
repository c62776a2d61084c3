// Package registry queries upstream registries for the versions available
// for a component and checks whether a deployable artifact exists for a
// concrete version.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/platformsync/releaseflow/internal/candidate"
	"github.com/platformsync/releaseflow/internal/retry"
)

// ErrNotFound is returned when a component, version or artifact is absent.
var ErrNotFound = errors.New("not found")

// NetworkError is a transient failure talking to a registry. It is retried
// and, once retries are exhausted, treated as the registry being unreachable.
type NetworkError struct {
	Registry string
	Op       string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Registry, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var opErr net.Error
	return errors.As(err, &opErr)
}

// Query narrows a version listing.
type Query struct {
	// ScopeHint is a version prefix the registry may use to narrow results,
	// see candidate.Scope.Hint.
	ScopeHint string
	// IncludePrerelease keeps versions with a pre-release suffix.
	IncludePrerelease bool
	// Limit is the maximum number of entries requested from the registry API.
	Limit int
	// LatestN caps the returned window after ordering. Zero means no cap.
	LatestN int
	// Order is the order of the returned window.
	Order candidate.SortOrder
}

// Lister lists the versions a registry offers for a component.
type Lister interface {
	ListVersions(ctx context.Context, component string, query Query) ([]string, error)
}

// ListerFunc adapts a function to a Lister.
type ListerFunc func(ctx context.Context, component string, query Query) ([]string, error)

func (f ListerFunc) ListVersions(ctx context.Context, component string, query Query) ([]string, error) {
	return f(ctx, component, query)
}

// ArtifactChecker reports whether a deployable artifact exists for exactly
// the given component name and version.
type ArtifactChecker interface {
	ArtifactExists(ctx context.Context, component, version string) (bool, error)
}

// ArtifactCheckerFunc adapts a function to an ArtifactChecker.
type ArtifactCheckerFunc func(ctx context.Context, component, version string) (bool, error)

func (f ArtifactCheckerFunc) ArtifactExists(ctx context.Context, component, version string) (bool, error) {
	return f(ctx, component, version)
}

// Window applies the client side part of a query to a raw version list:
// it removes duplicates, applies the scope hint and pre-release filter,
// keeps the newest LatestN versions and orders the result.
func Window(versions []string, query Query) []string {
	parsed := candidate.ParseAll(versions)

	filtered := parsed[:0]
	for _, v := range parsed {
		if !query.IncludePrerelease && v.IsPrerelease {
			continue
		}
		if query.ScopeHint != "" && !strings.HasPrefix(strings.TrimPrefix(v.Raw, "v"), query.ScopeHint) {
			continue
		}
		filtered = append(filtered, v)
	}

	// LatestN keeps the newest versions regardless of the requested order.
	if query.LatestN > 0 && len(filtered) > query.LatestN {
		candidate.Sort(filtered, candidate.Descending)
		filtered = filtered[:query.LatestN]
	}

	order := query.Order
	if order == "" {
		order = candidate.Ascending
	}
	candidate.Sort(filtered, order)

	out := make([]string, len(filtered))
	for i, v := range filtered {
		out[i] = v.Raw
	}
	return out
}

// Retrying wraps a Lister so that transient failures are retried with policy.
func Retrying(lister Lister, policy retry.Policy) Lister {
	policy.Retryable = IsTransient
	return ListerFunc(func(ctx context.Context, component string, query Query) ([]string, error) {
		return retry.DoValue(ctx, policy, func(ctx context.Context) ([]string, error) {
			return lister.ListVersions(ctx, component, query)
		})
	})
}

// RetryingChecker wraps an ArtifactChecker so that transient failures are
// retried with policy.
func RetryingChecker(checker ArtifactChecker, policy retry.Policy) ArtifactChecker {
	policy.Retryable = IsTransient
	return ArtifactCheckerFunc(func(ctx context.Context, component, version string) (bool, error) {
		return retry.DoValue(ctx, policy, func(ctx context.Context) (bool, error) {
			return checker.ArtifactExists(ctx, component, version)
		})
	})
}
