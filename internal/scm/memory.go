package scm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Memory is an in-memory Client. Branches hold flat file maps, commits are
// identified by the digest of their content.
type Memory struct {
	mu     sync.Mutex
	repos  map[Repository]*memoryRepo
	errs   map[Repository]error
	writes int
}

type memoryRepo struct {
	branches map[string]map[string][]byte
	requests []*ReviewRequest
	nextID   int
}

var _ Client = (*Memory)(nil)

// NewMemory returns an empty Memory client.
func NewMemory() *Memory {
	return &Memory{
		repos: make(map[Repository]*memoryRepo),
		errs:  make(map[Repository]error),
	}
}

// AddBranch creates or replaces branch in repo with files.
func (m *Memory) AddBranch(repo Repository, branch string, files map[string][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.repo(repo)
	r.branches[branch] = maps.Clone(files)
}

// SetError makes every operation on repo fail with err. A nil err clears it.
func (m *Memory) SetError(repo Repository, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, repo)
		return
	}
	m.errs[repo] = err
}

// Writes returns the number of performed write operations.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// ReviewRequests returns a copy of the review requests of repo.
func (m *Memory) ReviewRequests(repo Repository) []ReviewRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[repo]
	if !ok {
		return nil
	}
	out := make([]ReviewRequest, len(r.requests))
	for i, rr := range r.requests {
		out[i] = *rr
	}
	return out
}

func (m *Memory) repo(repo Repository) *memoryRepo {
	r, ok := m.repos[repo]
	if !ok {
		r = &memoryRepo{
			branches: make(map[string]map[string][]byte),
		}
		m.repos[repo] = r
	}
	return r
}

func (m *Memory) lookup(repo Repository) (*memoryRepo, error) {
	if err := m.errs[repo]; err != nil {
		return nil, err
	}
	r, ok := m.repos[repo]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", repo, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) BranchExists(_ context.Context, repo Repository, branch string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(repo)
	if err != nil {
		return false, err
	}
	_, ok := r.branches[branch]
	return ok, nil
}

func (m *Memory) FileAtRef(_ context.Context, repo Repository, ref, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(repo)
	if err != nil {
		return nil, err
	}
	files, ok := r.branches[ref]
	if !ok {
		return nil, fmt.Errorf("ref %s of %s: %w", ref, repo, ErrNotFound)
	}
	content, ok := files[path]
	if !ok {
		return nil, fmt.Errorf("%s at %s of %s: %w", path, ref, repo, ErrNotFound)
	}
	return slices.Clone(content), nil
}

func (m *Memory) OpenReviewRequest(_ context.Context, repo Repository, head, base string) (*ReviewRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(repo)
	if err != nil {
		return nil, err
	}
	if rr := r.find(head, base); rr != nil {
		cp := *rr
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryRepo) find(head, base string) *ReviewRequest {
	for _, rr := range r.requests {
		if rr.Head == head && rr.Base == base {
			return rr
		}
	}
	return nil
}

func (m *Memory) CommitAndPush(_ context.Context, repo Repository, opts CommitOptions) (*CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(repo)
	if err != nil {
		return nil, err
	}
	if len(opts.Files) == 0 {
		return nil, fmt.Errorf("no files to commit to %s of %s", opts.Branch, repo)
	}

	result := &CommitResult{Branch: opts.Branch, DryRun: opts.DryRun}
	files, ok := r.branches[opts.Branch]
	if !ok {
		base, ok := r.branches[opts.BaseBranch]
		if !ok {
			return nil, fmt.Errorf("base branch %s of %s: %w", opts.BaseBranch, repo, ErrNotFound)
		}
		files = base
		result.BranchCreated = true
	}

	next := maps.Clone(files)
	maps.Copy(next, opts.Files)
	result.SHA = contentDigest(next)
	if opts.DryRun {
		return result, nil
	}

	r.branches[opts.Branch] = next
	m.writes++
	return result, nil
}

func (m *Memory) CreateOrUpdateReviewRequest(_ context.Context, repo Repository, opts ReviewRequestOptions) (*ReviewRequestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(repo)
	if err != nil {
		return nil, err
	}

	rr := ReviewRequest{
		Head:      opts.Head,
		Base:      opts.Base,
		Title:     opts.Title,
		Body:      opts.Body,
		Labels:    slices.Clone(opts.Labels),
		Reviewers: slices.Clone(opts.Reviewers),
	}
	existing := r.find(opts.Head, opts.Base)
	result := &ReviewRequestResult{Created: existing == nil, DryRun: opts.DryRun}
	if existing != nil {
		rr.ID, rr.URL = existing.ID, existing.URL
	} else {
		rr.ID = r.nextID + 1
		rr.URL = fmt.Sprintf("memory://%s/pull/%d", repo, rr.ID)
	}
	result.ReviewRequest = rr
	if opts.DryRun {
		return result, nil
	}

	if existing != nil {
		*existing = rr
	} else {
		r.nextID++
		r.requests = append(r.requests, &rr)
	}
	m.writes++
	return result, nil
}

func contentDigest(files map[string][]byte) string {
	digester := digest.SHA256.Digester()
	for _, path := range slices.Sorted(maps.Keys(files)) {
		fmt.Fprintf(digester.Hash(), "%s\x00%d\x00", path, len(files[path]))
		digester.Hash().Write(files[path])
	}
	return digester.Digest().Encoded()
}
