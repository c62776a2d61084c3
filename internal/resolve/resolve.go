// Package resolve selects upgrade candidates for tracked components.
//
// A resolution queries the registry configured for the component's group,
// selects at most one candidate within the group's scope and, when the group
// requires it, confirms that a deployable artifact exists for the candidate.
// Registry failures never abort a resolution: the component is reported as
// unchanged together with the reason.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platformsync/releaseflow/internal/candidate"
	"github.com/platformsync/releaseflow/internal/registry"
)

// Reason explains the outcome of a single resolution.
type Reason string

const (
	ReasonUpdated          Reason = "updated"
	ReasonNoCandidate      Reason = "no candidate in scope"
	ReasonNotFound         Reason = "not found in registry"
	ReasonUnreachable      Reason = "registry unreachable"
	ReasonArtifactMissing  Reason = "artifact missing"
	ReasonArtifactUnknown  Reason = "artifact check failed"
	ReasonUnknownGroup     Reason = "no registry configured for group"
	ReasonConstraintFailed Reason = "no candidate satisfies constraint"
	ReasonMissingVersion   Reason = "no current version"
)

// Group configures how the components of one descriptor group are resolved.
type Group struct {
	Name    string
	Lister  registry.Lister
	Checker registry.ArtifactChecker // nil disables the artifact check
	Scope   candidate.Scope
	Order   candidate.SortOrder
	// IncludePrerelease, Limit and LatestN are passed on to the registry query.
	IncludePrerelease bool
	Limit             int
	LatestN           int
	// Constraint further restricts candidates to a semantic version range,
	// e.g. "<2.0.0". Empty means no restriction.
	Constraint string
}

// Request identifies the component to resolve.
type Request struct {
	Component string
	Current   string
	Group     string
}

// Result is the outcome of resolving one component. Selected equals Current
// unless Updated is true.
type Result struct {
	Component string
	Group     string
	Current   string
	Selected  string
	Updated   bool
	Reason    Reason
	// Err holds the registry error a fail-open outcome was derived from.
	Err error
}

// ResolverOptions holds the configuration of a Resolver.
type ResolverOptions struct {
	concurrencyLimit int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*ResolverOptions)

// WithConcurrencyLimit sets the maximum number of components resolved
// concurrently by ResolveAll. A negative value means no limit.
func WithConcurrencyLimit(limit int) ResolverOption {
	return func(o *ResolverOptions) {
		o.concurrencyLimit = limit
	}
}

// Resolver resolves components against the registries of their groups.
type Resolver struct {
	groups  map[string]Group
	options ResolverOptions
}

// New validates the groups and returns a Resolver for them.
func New(groups []Group, opts ...ResolverOption) (*Resolver, error) {
	options := ResolverOptions{concurrencyLimit: 10}
	for _, opt := range opts {
		opt(&options)
	}

	r := &Resolver{groups: make(map[string]Group, len(groups)), options: options}
	var errs []error
	for _, g := range groups {
		if g.Name == "" {
			errs = append(errs, errors.New("group name must not be empty"))
			continue
		}
		if _, ok := r.groups[g.Name]; ok {
			errs = append(errs, fmt.Errorf("group %q configured more than once", g.Name))
			continue
		}
		if g.Lister == nil {
			errs = append(errs, fmt.Errorf("group %q: no registry configured", g.Name))
		}
		if _, err := candidate.ParseScope(string(g.Scope)); err != nil {
			errs = append(errs, fmt.Errorf("group %q: %w", g.Name, err))
		}
		if g.Order == "" {
			g.Order = candidate.Ascending
		}
		if _, err := candidate.ParseSortOrder(string(g.Order)); err != nil {
			errs = append(errs, fmt.Errorf("group %q: %w", g.Name, err))
		}
		if g.Constraint != "" {
			if _, err := semver.NewConstraint(g.Constraint); err != nil {
				errs = append(errs, fmt.Errorf("group %q: invalid constraint %q: %w", g.Name, g.Constraint, err))
			}
		}
		r.groups[g.Name] = g
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve selects the candidate for a single component.
// The returned error is only non-nil when ctx is done; every registry failure
// is reported through Result.Reason instead.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	res := Result{
		Component: req.Component,
		Group:     req.Group,
		Current:   req.Current,
		Selected:  req.Current,
	}
	logger := slog.With("component", req.Component, "group", req.Group, "current", req.Current)

	if strings.TrimSpace(req.Current) == "" {
		res.Reason = ReasonMissingVersion
		logger.WarnContext(ctx, "component left unchanged", "reason", res.Reason)
		return res, nil
	}

	group, ok := r.groups[req.Group]
	if !ok {
		res.Reason = ReasonUnknownGroup
		logger.DebugContext(ctx, "component left unchanged", "reason", res.Reason)
		return res, nil
	}

	current := candidate.Parse(req.Current)
	query := registry.Query{
		ScopeHint:         group.Scope.Hint(current),
		IncludePrerelease: group.IncludePrerelease,
		Limit:             group.Limit,
		LatestN:           group.LatestN,
		Order:             group.Order,
	}

	raw, err := group.Lister.ListVersions(ctx, req.Component, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		res.Err = err
		if errors.Is(err, registry.ErrNotFound) {
			res.Reason = ReasonNotFound
		} else {
			res.Reason = ReasonUnreachable
		}
		logger.WarnContext(ctx, "component left unchanged", "reason", res.Reason, "error", err)
		return res, nil
	}

	versions := candidate.ParseAll(raw)
	if !group.IncludePrerelease {
		versions = slices.DeleteFunc(versions, func(v candidate.Version) bool { return v.IsPrerelease })
	}
	if group.Constraint != "" {
		versions = filterByConstraint(ctx, versions, group.Constraint)
	}

	selected, ok := candidate.Select(current, versions, group.Scope, group.Order)
	if !ok {
		res.Reason = ReasonNoCandidate
		if group.Constraint != "" {
			res.Reason = ReasonConstraintFailed
		}
		logger.DebugContext(ctx, "component left unchanged", "reason", res.Reason, "candidates", len(versions))
		return res, nil
	}

	if group.Checker != nil {
		exists, err := group.Checker.ArtifactExists(ctx, req.Component, selected.Raw)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Err = err
			res.Reason = ReasonArtifactUnknown
			logger.WarnContext(ctx, "component left unchanged", "reason", res.Reason, "candidate", selected.Raw, "error", err)
			return res, nil
		case !exists:
			// no fallback to the next best candidate
			res.Reason = ReasonArtifactMissing
			logger.WarnContext(ctx, "component left unchanged", "reason", res.Reason, "candidate", selected.Raw)
			return res, nil
		}
	}

	res.Selected = selected.Raw
	res.Updated = true
	res.Reason = ReasonUpdated
	logger.InfoContext(ctx, "component updated", "selected", selected.Raw)
	return res, nil
}

// ResolveAll resolves every request concurrently. Results are returned in the
// order of the requests. A failing component never affects its siblings; the
// error is only non-nil when ctx is done.
func (r *Resolver) ResolveAll(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.options.concurrencyLimit)

	for i, req := range reqs {
		eg.Go(func() error {
			res, err := r.Resolve(egctx, req)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", req.Component, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Updated returns the name to version mapping of all updated results.
func Updated(results []Result) map[string]string {
	out := make(map[string]string)
	for _, res := range results {
		if res.Updated {
			out[res.Component] = res.Selected
		}
	}
	return out
}

func filterByConstraint(ctx context.Context, versions []candidate.Version, constraint string) []candidate.Version {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		// validated in New
		return versions
	}
	out := make([]candidate.Version, 0, len(versions))
	for _, v := range versions {
		sv, err := semver.NewVersion(v.Raw)
		if err != nil {
			slog.DebugContext(ctx, "skipping version not parseable as semver", "version", v.Raw, "error", err)
			continue
		}
		if c.Check(sv) {
			out = append(out, v)
		}
	}
	return out
}
