// Package branch determines which branch a target update works on and
// whether a review request for it is already open.
//
// An existing update branch is resumed instead of restarting from the release
// branch, so that repeated runs converge on the same branch and request.
// The resolver only reads; it never creates branches or requests.
package branch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/platformsync/releaseflow/internal/scm"
)

// State is the observed branch and review request state of a target.
type State int

const (
	NoUpdateBranch State = iota
	UpdateBranchNoRequest
	UpdateBranchWithRequest
)

func (s State) String() string {
	switch s {
	case NoUpdateBranch:
		return "NoUpdateBranch"
	case UpdateBranchNoRequest:
		return "UpdateBranchNoRequest"
	case UpdateBranchWithRequest:
		return "UpdateBranchWithRequest"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the resolved state of a target.
type Status struct {
	SourceBranch        string
	UpdateBranchExists  bool
	ReviewRequestExists bool
	ReviewRequestID     int
	ReviewRequestURL    string
	State               State
}

// Resolve queries reader for the state of repo. SourceBranch is updateBranch
// when it exists and releaseBranch otherwise.
func Resolve(ctx context.Context, reader scm.Reader, repo scm.Repository, releaseBranch, updateBranch string) (Status, error) {
	if releaseBranch == "" || updateBranch == "" {
		return Status{}, fmt.Errorf("release and update branch of %s must be set", repo)
	}
	if releaseBranch == updateBranch {
		return Status{}, fmt.Errorf("update branch of %s must differ from release branch %s", repo, releaseBranch)
	}

	status := Status{SourceBranch: releaseBranch, State: NoUpdateBranch}

	exists, err := reader.BranchExists(ctx, repo, updateBranch)
	if err != nil {
		return Status{}, fmt.Errorf("checking update branch %s of %s: %w", updateBranch, repo, err)
	}
	if !exists {
		slog.DebugContext(ctx, "update branch does not exist", "repository", repo.String(), "branch", updateBranch)
		return status, nil
	}

	status.SourceBranch = updateBranch
	status.UpdateBranchExists = true
	status.State = UpdateBranchNoRequest

	rr, err := reader.OpenReviewRequest(ctx, repo, updateBranch, releaseBranch)
	if err != nil {
		return Status{}, fmt.Errorf("looking up review request %s -> %s of %s: %w", updateBranch, releaseBranch, repo, err)
	}
	if rr != nil {
		status.ReviewRequestExists = true
		status.ReviewRequestID = rr.ID
		status.ReviewRequestURL = rr.URL
		status.State = UpdateBranchWithRequest
	}

	slog.DebugContext(ctx, "resolved branch state", "repository", repo.String(), "state", status.State.String(), "source", status.SourceBranch)
	return status, nil
}
