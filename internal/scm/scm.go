// Package scm is the boundary to the source control system hosting the
// targets: branch and file lookups, review requests and commits.
//
// Every mutating operation takes a DryRun flag. In dry-run mode the operation
// performs all reads it needs, computes the result it would produce and
// returns it without writing anything.
package scm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a repository, ref or file does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when the credentials are missing or do not grant
// access. It aborts a run before any target work begins.
var ErrUnauthorized = errors.New("unauthorized")

// Repository identifies a target repository.
type Repository struct {
	Owner string
	Name  string
}

// ParseRepository parses "owner/name".
func ParseRepository(s string) (Repository, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, fmt.Errorf("invalid repository %q: expected owner/name", s)
	}
	return Repository{Owner: owner, Name: name}, nil
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ReviewRequest is an open request to merge Head into Base.
type ReviewRequest struct {
	ID        int
	URL       string
	Head      string
	Base      string
	Title     string
	Body      string
	Labels    []string
	Reviewers []string
}

// CommitOptions describes a commit of Files onto Branch. When Branch does not
// exist it is created from BaseBranch.
type CommitOptions struct {
	Branch     string
	BaseBranch string
	// Files maps repository paths to their new content.
	Files   map[string][]byte
	Message string
	DryRun  bool
}

// CommitResult is the outcome of CommitAndPush.
type CommitResult struct {
	SHA           string
	Branch        string
	BranchCreated bool
	DryRun        bool
}

// ReviewRequestOptions describes the review request from Head to Base.
type ReviewRequestOptions struct {
	Head      string
	Base      string
	Title     string
	Body      string
	Labels    []string
	Reviewers []string
	DryRun    bool
}

// ReviewRequestResult is the outcome of CreateOrUpdateReviewRequest.
type ReviewRequestResult struct {
	ReviewRequest
	Created bool
	DryRun  bool
}

// Reader performs the read-only queries against a target.
type Reader interface {
	BranchExists(ctx context.Context, repo Repository, branch string) (bool, error)
	// FileAtRef returns ErrNotFound when the file or ref does not exist.
	FileAtRef(ctx context.Context, repo Repository, ref, path string) ([]byte, error)
	// OpenReviewRequest returns nil when there is no open request.
	OpenReviewRequest(ctx context.Context, repo Repository, head, base string) (*ReviewRequest, error)
}

// Writer performs the mutating operations against a target.
type Writer interface {
	CommitAndPush(ctx context.Context, repo Repository, opts CommitOptions) (*CommitResult, error)
	CreateOrUpdateReviewRequest(ctx context.Context, repo Repository, opts ReviewRequestOptions) (*ReviewRequestResult, error)
}

// Client is a complete source control client.
type Client interface {
	Reader
	Writer
}
