// Package pipeline composes the per-target update operation run by the
// matrix orchestrator.
//
// For a target it resolves the branch state, resolves upgrade candidates for
// every tracked entry of the working descriptor, diffs the result against the
// release branch, increments the release version and proposes the change as a
// commit on the update branch plus a review request into the release branch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/platformsync/releaseflow/internal/branch"
	"github.com/platformsync/releaseflow/internal/bump"
	"github.com/platformsync/releaseflow/internal/descriptor"
	"github.com/platformsync/releaseflow/internal/diff"
	"github.com/platformsync/releaseflow/internal/matrix"
	"github.com/platformsync/releaseflow/internal/report"
	"github.com/platformsync/releaseflow/internal/resolve"
	"github.com/platformsync/releaseflow/internal/scm"
)

// DefaultDescriptorPath is the descriptor location used when a target does
// not configure one.
const DefaultDescriptorPath = "platform-descriptor.json"

// Target is a repository release branch kept up to date.
type Target struct {
	Repository     scm.Repository
	ReleaseBranch  string
	UpdateBranch   string
	DescriptorPath string
	VersionPattern string
	IncrementType  bump.IncrementType
	Labels         []string
	Reviewers      []string
}

var _ matrix.Target = Target{}

// ID identifies the target within a run.
func (t Target) ID() string {
	return t.Repository.String() + "@" + t.ReleaseBranch
}

// ConcurrencyKey identifies the shared remote state mutated by the target.
// At most one run may operate on a key at a time; callers serialise on it.
func (t Target) ConcurrencyKey() string {
	return strings.Join([]string{t.Repository.String(), t.ReleaseBranch, t.UpdateBranch}, "|")
}

func (t Target) descriptorPath() string {
	if t.DescriptorPath == "" {
		return DefaultDescriptorPath
	}
	return t.DescriptorPath
}

// Result is the detailed outcome of processing a target.
type Result struct {
	Target        string                   `json:"target"`
	Branch        branch.Status            `json:"branch"`
	Resolutions   []resolve.Result         `json:"-"`
	Report        report.Report            `json:"report"`
	Bump          bump.Result              `json:"bump"`
	Commit        *scm.CommitResult        `json:"commit,omitempty"`
	ReviewRequest *scm.ReviewRequestResult `json:"reviewRequest,omitempty"`
	Skipped       bool                     `json:"skipped"`
	Message       string                   `json:"message"`
}

// Pipeline processes targets against one source control client and resolver.
type Pipeline struct {
	client   scm.Client
	resolver *resolve.Resolver
}

// New returns a Pipeline.
func New(client scm.Client, resolver *resolve.Resolver) *Pipeline {
	return &Pipeline{client: client, resolver: resolver}
}

// Preflight checks that every release branch is readable. An authorisation
// failure aborts the run before any target work begins; other problems are
// left to the target itself.
func (p *Pipeline) Preflight(ctx context.Context, targets []Target) error {
	for _, t := range targets {
		if _, err := p.client.BranchExists(ctx, t.Repository, t.ReleaseBranch); errors.Is(err, scm.ErrUnauthorized) {
			return fmt.Errorf("accessing %s: %w", t.Repository, err)
		}
	}
	return nil
}

// Operation adapts Process to the matrix orchestrator.
func (p *Pipeline) Operation(ctx context.Context, t Target, dryRun bool) (matrix.Outcome, error) {
	res, err := p.Process(ctx, t, dryRun)
	if err != nil {
		return matrix.Outcome{}, err
	}
	outcome := matrix.Outcome{Message: res.Message}
	if res.Skipped {
		outcome.Status = matrix.StatusSkipped
		return outcome, nil
	}
	outcome.ProducedArtifacts = append(outcome.ProducedArtifacts, t.descriptorPath())
	if res.ReviewRequest != nil && res.ReviewRequest.URL != "" {
		outcome.ProducedArtifacts = append(outcome.ProducedArtifacts, res.ReviewRequest.URL)
	}
	return outcome, nil
}

// Process runs the update of a single target. With dryRun set every write is
// computed but not performed.
func (p *Pipeline) Process(ctx context.Context, t Target, dryRun bool) (*Result, error) {
	logger := slog.With("target", t.ID(), "concurrencyKey", t.ConcurrencyKey())
	res := &Result{Target: t.ID()}

	status, err := branch.Resolve(ctx, p.client, t.Repository, t.ReleaseBranch, t.UpdateBranch)
	if err != nil {
		return nil, err
	}
	res.Branch = status

	path := t.descriptorPath()
	baseData, err := p.client.FileAtRef(ctx, t.Repository, t.ReleaseBranch, path)
	if errors.Is(err, scm.ErrNotFound) {
		logger.WarnContext(ctx, "descriptor not found, target left unchanged", "path", path, "ref", t.ReleaseBranch)
		res.Skipped = true
		res.Message = fmt.Sprintf("descriptor %s not found on %s", path, t.ReleaseBranch)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s at %s: %w", path, t.ReleaseBranch, err)
	}
	base, err := descriptor.Parse(baseData)
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", path, t.ReleaseBranch, err)
	}

	workingData := baseData
	if status.SourceBranch != t.ReleaseBranch {
		if workingData, err = p.client.FileAtRef(ctx, t.Repository, status.SourceBranch, path); err != nil {
			return nil, fmt.Errorf("reading %s at %s: %w", path, status.SourceBranch, err)
		}
	}
	working, err := descriptor.Parse(workingData)
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", path, status.SourceBranch, err)
	}

	if res.Resolutions, err = Update(ctx, p.resolver, working); err != nil {
		return nil, err
	}

	entries := diff.Descriptors(base, working)
	res.Bump = bump.Increment(base.Version, len(entries) > 0, t.VersionPattern, t.IncrementType)
	if res.Bump.FailureReason != "" {
		logger.WarnContext(ctx, "version not incremented", "version", base.Version, "reason", res.Bump.FailureReason)
	}
	if res.Bump.Updated {
		working.Version = res.Bump.NewVersion
	}
	res.Report = report.Render(entries)

	if !res.Report.HasChanges {
		res.Skipped = true
		res.Message = report.NoChangesMessage
		logger.InfoContext(ctx, "target is up to date")
		return res, nil
	}

	out, err := working.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", path, err)
	}

	if unchanged(workingData, out) {
		if status.ReviewRequestExists {
			res.Skipped = true
			res.Message = fmt.Sprintf("review request #%d is up to date", status.ReviewRequestID)
			logger.InfoContext(ctx, "update branch and review request are up to date", "reviewRequest", status.ReviewRequestURL)
			return res, nil
		}
		logger.DebugContext(ctx, "update branch already carries the changes", "branch", status.SourceBranch)
	} else {
		res.Commit, err = p.client.CommitAndPush(ctx, t.Repository, scm.CommitOptions{
			Branch:     t.UpdateBranch,
			BaseBranch: t.ReleaseBranch,
			Files:      map[string][]byte{path: out},
			Message:    commitMessage(working.Version, res.Report),
			DryRun:     dryRun,
		})
		if err != nil {
			return nil, fmt.Errorf("committing to %s: %w", t.UpdateBranch, err)
		}
	}

	res.ReviewRequest, err = p.client.CreateOrUpdateReviewRequest(ctx, t.Repository, scm.ReviewRequestOptions{
		Head:      t.UpdateBranch,
		Base:      t.ReleaseBranch,
		Title:     reviewTitle(t.ReleaseBranch, working.Version),
		Body:      reviewBody(res.Report, res.Bump),
		Labels:    t.Labels,
		Reviewers: t.Reviewers,
		DryRun:    dryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("proposing %s -> %s: %w", t.UpdateBranch, t.ReleaseBranch, err)
	}

	res.Message = outcomeMessage(res)
	logger.InfoContext(ctx, "target updated", "changes", res.Report.ChangeCount, "version", working.Version, "dryRun", dryRun)
	return res, nil
}

// Update resolves every tracked entry of d and applies the selected versions
// in place.
func Update(ctx context.Context, resolver *resolve.Resolver, d *descriptor.Descriptor) ([]resolve.Result, error) {
	tracked := d.Entries()
	reqs := make([]resolve.Request, len(tracked))
	for i, e := range tracked {
		reqs[i] = resolve.Request{Component: e.Name, Current: e.Version, Group: string(e.Group)}
	}
	results, err := resolver.ResolveAll(ctx, reqs)
	if err != nil {
		return nil, err
	}

	var updates []descriptor.Entry
	for i, r := range results {
		if r.Updated {
			updates = append(updates, descriptor.Entry{Name: r.Component, Version: r.Selected, Group: tracked[i].Group})
		}
	}
	d.Apply(updates)
	return results, nil
}

// unchanged compares content fingerprints of the current and the new file.
func unchanged(current, next []byte) bool {
	return digest.FromBytes(current) == digest.FromBytes(next)
}

func commitMessage(version string, r report.Report) string {
	return fmt.Sprintf("Update %d version(s) for %s", r.ChangeCount, version)
}

func reviewTitle(releaseBranch, version string) string {
	return fmt.Sprintf("[%s] Release update %s", releaseBranch, version)
}

func reviewBody(r report.Report, b bump.Result) string {
	var sb strings.Builder
	sb.WriteString(r.Markdown)
	switch {
	case b.Updated:
		fmt.Fprintf(&sb, "\nRelease version: %s\n", b.NewVersion)
	case b.FailureReason != "":
		fmt.Fprintf(&sb, "\nRelease version not incremented: %s\n", b.FailureReason)
	}
	return sb.String()
}

func outcomeMessage(res *Result) string {
	msg := fmt.Sprintf("%d change(s)", res.Report.ChangeCount)
	if res.Bump.Updated {
		msg += ", version " + res.Bump.NewVersion
	}
	if rr := res.ReviewRequest; rr != nil {
		verb := "updated"
		if rr.Created {
			verb = "created"
		}
		if rr.DryRun {
			verb = "would be " + verb
		}
		msg += fmt.Sprintf(", review request %s", verb)
		if rr.ID != 0 {
			msg += fmt.Sprintf(" #%d", rr.ID)
		}
	}
	return msg
}
