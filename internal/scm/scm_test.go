package scm_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformsync/releaseflow/internal/gh"
	"github.com/platformsync/releaseflow/internal/scm"
)

var repo = scm.Repository{Owner: "folio-org", Name: "platform-complete"}

func TestParseRepository(t *testing.T) {
	r, err := scm.ParseRepository("folio-org/platform-complete")
	require.NoError(t, err)
	assert.Equal(t, repo, r)
	assert.Equal(t, "folio-org/platform-complete", r.String())

	for _, invalid := range []string{"", "folio-org", "/x", "x/", "a/b/c"} {
		_, err := scm.ParseRepository(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := scm.NewMemory()
	m.AddBranch(repo, "R1-2025", map[string][]byte{"platform-descriptor.json": []byte("v1")})

	ok, err := m.BranchExists(ctx, repo, "R1-2025")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.BranchExists(ctx, repo, "R1-2025-update")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.FileAtRef(ctx, repo, "R1-2025", "missing.json")
	require.ErrorIs(t, err, scm.ErrNotFound)

	t.Run("dry run commit writes nothing", func(t *testing.T) {
		res, err := m.CommitAndPush(ctx, repo, scm.CommitOptions{
			Branch: "R1-2025-update", BaseBranch: "R1-2025",
			Files:  map[string][]byte{"platform-descriptor.json": []byte("v2")},
			DryRun: true,
		})
		require.NoError(t, err)
		assert.True(t, res.DryRun)
		assert.True(t, res.BranchCreated)
		assert.NotEmpty(t, res.SHA)
		assert.Zero(t, m.Writes())

		ok, err := m.BranchExists(ctx, repo, "R1-2025-update")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("commit creates the branch", func(t *testing.T) {
		res, err := m.CommitAndPush(ctx, repo, scm.CommitOptions{
			Branch: "R1-2025-update", BaseBranch: "R1-2025",
			Files: map[string][]byte{"platform-descriptor.json": []byte("v2")},
		})
		require.NoError(t, err)
		assert.True(t, res.BranchCreated)

		content, err := m.FileAtRef(ctx, repo, "R1-2025-update", "platform-descriptor.json")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(content))

		base, err := m.FileAtRef(ctx, repo, "R1-2025", "platform-descriptor.json")
		require.NoError(t, err)
		assert.Equal(t, "v1", string(base))
	})

	t.Run("review request is created once and then updated", func(t *testing.T) {
		opts := scm.ReviewRequestOptions{Head: "R1-2025-update", Base: "R1-2025", Title: "Update", Body: "first"}
		first, err := m.CreateOrUpdateReviewRequest(ctx, repo, opts)
		require.NoError(t, err)
		assert.True(t, first.Created)

		opts.Body = "second"
		second, err := m.CreateOrUpdateReviewRequest(ctx, repo, opts)
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.Equal(t, first.ID, second.ID)

		open, err := m.OpenReviewRequest(ctx, repo, "R1-2025-update", "R1-2025")
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, "second", open.Body)
		assert.Len(t, m.ReviewRequests(repo), 1)
	})

	t.Run("injected errors", func(t *testing.T) {
		boom := errors.New("boom")
		m.SetError(repo, boom)
		_, err := m.BranchExists(ctx, repo, "R1-2025")
		require.ErrorIs(t, err, boom)
		m.SetError(repo, nil)
		_, err = m.BranchExists(ctx, repo, "R1-2025")
		require.NoError(t, err)
	})

	_, err = m.BranchExists(ctx, scm.Repository{Owner: "x", Name: "y"}, "main")
	require.ErrorIs(t, err, scm.ErrNotFound)
}

// fakeGitHub serves the subset of the GitHub REST API used by scm.GitHub.
type fakeGitHub struct {
	mu       sync.Mutex
	branches map[string]string // branch -> sha
	pulls    []map[string]any
	calls    []string
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	base := "/repos/folio-org/platform-complete"

	record := func(r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	}
	notFound := func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}

	mux.HandleFunc("GET "+base+"/branches/{branch}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if _, ok := f.branches[r.PathValue("branch")]; !ok {
			notFound(w)
			return
		}
		fmt.Fprintf(w, `{"name":%q}`, r.PathValue("branch"))
	})
	mux.HandleFunc("GET "+base+"/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.URL.Query().Get("ref") != "R1-2025" {
			notFound(w)
			return
		}
		content := base64.StdEncoding.EncodeToString([]byte(`{"version":"R1-2025.5"}`))
		fmt.Fprintf(w, `{"type":"file","encoding":"base64","path":%q,"content":%q}`, r.PathValue("path"), content)
	})
	mux.HandleFunc("GET "+base+"/pulls", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		out := []map[string]any{}
		for _, p := range f.pulls {
			if "folio-org:"+p["head"].(map[string]any)["ref"].(string) == r.URL.Query().Get("head") {
				out = append(out, p)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST "+base+"/pulls", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		pr := map[string]any{
			"number":   len(f.pulls) + 1,
			"html_url": fmt.Sprintf("https://github.com/folio-org/platform-complete/pull/%d", len(f.pulls)+1),
			"title":    req["title"],
			"head":     map[string]any{"ref": req["head"]},
			"base":     map[string]any{"ref": req["base"]},
		}
		f.pulls = append(f.pulls, pr)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(pr)
	})
	mux.HandleFunc("PATCH "+base+"/pulls/{number}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_ = json.NewEncoder(w).Encode(f.pulls[0])
	})
	mux.HandleFunc("POST "+base+"/issues/{number}/labels", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("POST "+base+"/pulls/{number}/requested_reviewers", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_ = json.NewEncoder(w).Encode(f.pulls[0])
	})
	mux.HandleFunc("GET "+base+"/git/ref/heads/{branch}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		sha, ok := f.branches[r.PathValue("branch")]
		if !ok {
			notFound(w)
			return
		}
		fmt.Fprintf(w, `{"ref":"refs/heads/%s","object":{"sha":%q,"type":"commit"}}`, r.PathValue("branch"), sha)
	})
	mux.HandleFunc("GET "+base+"/git/commits/{sha}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		fmt.Fprintf(w, `{"sha":%q,"tree":{"sha":"tree-base"}}`, r.PathValue("sha"))
	})
	mux.HandleFunc("POST "+base+"/git/trees", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"base_tree":"tree-base"`)
		assert.Contains(t, string(body), `"path":"platform-descriptor.json"`)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha":"tree-new"}`)
	})
	mux.HandleFunc("POST "+base+"/git/commits", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha":"commit-new"}`)
	})
	mux.HandleFunc("POST "+base+"/git/refs", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.branches[req["ref"][len("refs/heads/"):]] = req["sha"]
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"ref":%q,"object":{"sha":%q}}`, req["ref"], req["sha"])
	})
	mux.HandleFunc("PATCH "+base+"/git/refs/heads/{branch}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.branches[r.PathValue("branch")] = req["sha"].(string)
		fmt.Fprintf(w, `{"ref":"refs/heads/%s","object":{"sha":%q}}`, r.PathValue("branch"), req["sha"])
	})
	return mux
}

func newGitHub(t *testing.T) (*scm.GitHub, *fakeGitHub) {
	t.Helper()
	fake := &fakeGitHub{branches: map[string]string{"R1-2025": "base-sha"}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	client, err := gh.NewClient(gh.Options{HTTPClient: srv.Client(), BaseURL: srv.URL, Token: "test"})
	require.NoError(t, err)
	return scm.NewGitHub(client), fake
}

func TestGitHubReads(t *testing.T) {
	ctx := context.Background()
	g, _ := newGitHub(t)

	ok, err := g.BranchExists(ctx, repo, "R1-2025")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.BranchExists(ctx, repo, "R1-2025-update")
	require.NoError(t, err)
	assert.False(t, ok)

	content, err := g.FileAtRef(ctx, repo, "R1-2025", "platform-descriptor.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"R1-2025.5"}`, string(content))

	_, err = g.FileAtRef(ctx, repo, "other", "platform-descriptor.json")
	require.ErrorIs(t, err, scm.ErrNotFound)

	rr, err := g.OpenReviewRequest(ctx, repo, "R1-2025-update", "R1-2025")
	require.NoError(t, err)
	assert.Nil(t, rr)
}

func TestGitHubCommitAndPush(t *testing.T) {
	ctx := context.Background()
	opts := scm.CommitOptions{
		Branch:     "R1-2025-update",
		BaseBranch: "R1-2025",
		Files:      map[string][]byte{"platform-descriptor.json": []byte(`{"version":"R1-2025.6"}`)},
		Message:    "chore: update platform descriptor",
	}

	t.Run("dry run only reads", func(t *testing.T) {
		g, fake := newGitHub(t)
		dry := opts
		dry.DryRun = true
		res, err := g.CommitAndPush(ctx, repo, dry)
		require.NoError(t, err)
		assert.True(t, res.BranchCreated)
		assert.True(t, res.DryRun)
		for _, call := range fake.calls {
			assert.Regexp(t, "^GET ", call)
		}
	})

	t.Run("creates the branch", func(t *testing.T) {
		g, fake := newGitHub(t)
		res, err := g.CommitAndPush(ctx, repo, opts)
		require.NoError(t, err)
		assert.True(t, res.BranchCreated)
		assert.Equal(t, "commit-new", res.SHA)
		assert.Equal(t, "commit-new", fake.branches["R1-2025-update"])
		assert.Equal(t, "base-sha", fake.branches["R1-2025"])
	})

	t.Run("updates an existing branch", func(t *testing.T) {
		g, fake := newGitHub(t)
		fake.branches["R1-2025-update"] = "update-sha"
		res, err := g.CommitAndPush(ctx, repo, opts)
		require.NoError(t, err)
		assert.False(t, res.BranchCreated)
		assert.Equal(t, "commit-new", fake.branches["R1-2025-update"])
		assert.Contains(t, fake.calls, "PATCH /repos/folio-org/platform-complete/git/refs/heads/R1-2025-update")
	})
}

func TestGitHubCreateOrUpdateReviewRequest(t *testing.T) {
	ctx := context.Background()
	g, fake := newGitHub(t)
	opts := scm.ReviewRequestOptions{
		Head:      "R1-2025-update",
		Base:      "R1-2025",
		Title:     "Update platform descriptor",
		Body:      "body",
		Labels:    []string{"dependencies"},
		Reviewers: []string{"octocat"},
	}

	dry := opts
	dry.DryRun = true
	res, err := g.CreateOrUpdateReviewRequest(ctx, repo, dry)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Empty(t, fake.pulls)

	res, err = g.CreateOrUpdateReviewRequest(ctx, repo, opts)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.ID)
	assert.Equal(t, "https://github.com/folio-org/platform-complete/pull/1", res.URL)
	assert.Contains(t, fake.calls, "POST /repos/folio-org/platform-complete/issues/1/labels")
	assert.Contains(t, fake.calls, "POST /repos/folio-org/platform-complete/pulls/1/requested_reviewers")

	res, err = g.CreateOrUpdateReviewRequest(ctx, repo, opts)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 1, res.ID)
	assert.Contains(t, fake.calls, "PATCH /repos/folio-org/platform-complete/pulls/1")
	assert.Len(t, fake.pulls, 1)
}
