package scm

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/go-github/v75/github"

	"github.com/platformsync/releaseflow/internal/gh"
)

// GitHub implements Client on top of the GitHub REST API. Commits are created
// through the git data API so that several files land in a single commit
// without a local clone.
type GitHub struct {
	client *github.Client
}

var _ Client = (*GitHub)(nil)

// NewGitHub returns a Client backed by client.
func NewGitHub(client *github.Client) *GitHub {
	return &GitHub{client: client}
}

func (g *GitHub) BranchExists(ctx context.Context, repo Repository, branch string) (bool, error) {
	_, _, err := g.client.Repositories.GetBranch(ctx, repo.Owner, repo.Name, branch, 1)
	if err != nil {
		if gh.IsNotFound(err) {
			return false, nil
		}
		return false, wrap(err, "getting branch %s of %s", branch, repo)
	}
	return true, nil
}

func (g *GitHub) FileAtRef(ctx context.Context, repo Repository, ref, path string) ([]byte, error) {
	file, _, _, err := g.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, wrap(err, "getting %s at %s of %s", path, ref, repo)
	}
	if file == nil {
		return nil, fmt.Errorf("%s at %s of %s is a directory: %w", path, ref, repo, ErrNotFound)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s at %s of %s: %w", path, ref, repo, err)
	}
	return []byte(content), nil
}

func (g *GitHub) OpenReviewRequest(ctx context.Context, repo Repository, head, base string) (*ReviewRequest, error) {
	pulls, _, err := g.client.PullRequests.List(ctx, repo.Owner, repo.Name, &github.PullRequestListOptions{
		State: "open",
		Head:  repo.Owner + ":" + head,
		Base:  base,
	})
	if err != nil {
		return nil, wrap(err, "listing pull requests of %s", repo)
	}
	if len(pulls) == 0 {
		return nil, nil
	}
	return fromPullRequest(pulls[0]), nil
}

func (g *GitHub) CommitAndPush(ctx context.Context, repo Repository, opts CommitOptions) (*CommitResult, error) {
	if len(opts.Files) == 0 {
		return nil, fmt.Errorf("no files to commit to %s of %s", opts.Branch, repo)
	}
	result := &CommitResult{Branch: opts.Branch, DryRun: opts.DryRun}

	ref, _, err := g.client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+opts.Branch)
	if err != nil {
		if !gh.IsNotFound(err) {
			return nil, wrap(err, "getting ref of %s in %s", opts.Branch, repo)
		}
		if ref, _, err = g.client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+opts.BaseBranch); err != nil {
			return nil, wrap(err, "getting ref of base branch %s in %s", opts.BaseBranch, repo)
		}
		result.BranchCreated = true
	}
	parentSHA := ref.GetObject().GetSHA()

	if opts.DryRun {
		slog.InfoContext(ctx, "dry run: skipping commit", "repository", repo.String(), "branch", opts.Branch, "files", slices.Sorted(maps.Keys(opts.Files)))
		result.SHA = parentSHA
		return result, nil
	}

	parent, _, err := g.client.Git.GetCommit(ctx, repo.Owner, repo.Name, parentSHA)
	if err != nil {
		return nil, wrap(err, "getting commit %s of %s", parentSHA, repo)
	}

	entries := make([]*github.TreeEntry, 0, len(opts.Files))
	for _, path := range slices.Sorted(maps.Keys(opts.Files)) {
		entries = append(entries, &github.TreeEntry{
			Path:    github.Ptr(path),
			Mode:    github.Ptr("100644"),
			Type:    github.Ptr("blob"),
			Content: github.Ptr(string(opts.Files[path])),
		})
	}
	tree, _, err := g.client.Git.CreateTree(ctx, repo.Owner, repo.Name, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return nil, wrap(err, "creating tree in %s", repo)
	}

	commit, _, err := g.client.Git.CreateCommit(ctx, repo.Owner, repo.Name, github.Commit{
		Message: github.Ptr(opts.Message),
		Tree:    &github.Tree{SHA: tree.SHA},
		Parents: []*github.Commit{{SHA: github.Ptr(parentSHA)}},
	}, nil)
	if err != nil {
		return nil, wrap(err, "creating commit in %s", repo)
	}

	if result.BranchCreated {
		_, _, err = g.client.Git.CreateRef(ctx, repo.Owner, repo.Name, github.CreateRef{
			Ref: "refs/heads/" + opts.Branch,
			SHA: commit.GetSHA(),
		})
	} else {
		_, _, err = g.client.Git.UpdateRef(ctx, repo.Owner, repo.Name, "heads/"+opts.Branch, github.UpdateRef{
			SHA: commit.GetSHA(),
		})
	}
	if err != nil {
		return nil, wrap(err, "pushing %s to %s", opts.Branch, repo)
	}

	result.SHA = commit.GetSHA()
	slog.InfoContext(ctx, "pushed commit", "repository", repo.String(), "branch", opts.Branch, "sha", result.SHA, "created", result.BranchCreated)
	return result, nil
}

func (g *GitHub) CreateOrUpdateReviewRequest(ctx context.Context, repo Repository, opts ReviewRequestOptions) (*ReviewRequestResult, error) {
	existing, err := g.OpenReviewRequest(ctx, repo, opts.Head, opts.Base)
	if err != nil {
		return nil, err
	}

	result := &ReviewRequestResult{
		ReviewRequest: ReviewRequest{
			Head:      opts.Head,
			Base:      opts.Base,
			Title:     opts.Title,
			Body:      opts.Body,
			Labels:    opts.Labels,
			Reviewers: opts.Reviewers,
		},
		Created: existing == nil,
		DryRun:  opts.DryRun,
	}
	if existing != nil {
		result.ID = existing.ID
		result.URL = existing.URL
	}
	if opts.DryRun {
		slog.InfoContext(ctx, "dry run: skipping review request", "repository", repo.String(), "head", opts.Head, "base", opts.Base, "create", result.Created)
		return result, nil
	}

	var pull *github.PullRequest
	if existing == nil {
		pull, _, err = g.client.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
			Title: github.Ptr(opts.Title),
			Head:  github.Ptr(opts.Head),
			Base:  github.Ptr(opts.Base),
			Body:  github.Ptr(opts.Body),
		})
		if err != nil {
			return nil, wrap(err, "creating pull request in %s", repo)
		}
	} else {
		pull, _, err = g.client.PullRequests.Edit(ctx, repo.Owner, repo.Name, existing.ID, &github.PullRequest{
			Title: github.Ptr(opts.Title),
			Body:  github.Ptr(opts.Body),
		})
		if err != nil {
			return nil, wrap(err, "updating pull request #%d in %s", existing.ID, repo)
		}
	}
	result.ID = pull.GetNumber()
	result.URL = pull.GetHTMLURL()

	if len(opts.Labels) > 0 {
		if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, repo.Owner, repo.Name, result.ID, opts.Labels); err != nil {
			return nil, wrap(err, "labelling pull request #%d in %s", result.ID, repo)
		}
	}
	if len(opts.Reviewers) > 0 {
		if _, _, err := g.client.PullRequests.RequestReviewers(ctx, repo.Owner, repo.Name, result.ID, github.ReviewersRequest{Reviewers: opts.Reviewers}); err != nil {
			return nil, wrap(err, "requesting reviewers for pull request #%d in %s", result.ID, repo)
		}
	}

	slog.InfoContext(ctx, "review request ready", "repository", repo.String(), "number", result.ID, "url", result.URL, "created", result.Created)
	return result, nil
}

func fromPullRequest(pr *github.PullRequest) *ReviewRequest {
	rr := &ReviewRequest{
		ID:    pr.GetNumber(),
		URL:   pr.GetHTMLURL(),
		Head:  pr.GetHead().GetRef(),
		Base:  pr.GetBase().GetRef(),
		Title: pr.GetTitle(),
		Body:  pr.GetBody(),
	}
	for _, l := range pr.Labels {
		rr.Labels = append(rr.Labels, l.GetName())
	}
	for _, u := range pr.RequestedReviewers {
		rr.Reviewers = append(rr.Reviewers, u.GetLogin())
	}
	return rr
}

// wrap maps GitHub API errors onto the package errors.
func wrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case gh.IsNotFound(err):
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	case gh.IsUnauthorized(err):
		return fmt.Errorf("%s: %w: %w", msg, ErrUnauthorized, err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
