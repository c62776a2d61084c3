package registry_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformsync/releaseflow/internal/candidate"
	"github.com/platformsync/releaseflow/internal/gh"
	"github.com/platformsync/releaseflow/internal/registry"
	"github.com/platformsync/releaseflow/internal/retry"
)

func TestWindow(t *testing.T) {
	versions := []string{"1.0.0", "1.2.0", "1.1.0", "1.1.0", "1.3.0-SNAPSHOT.1", "2.0.0"}

	t.Run("ascending without prereleases", func(t *testing.T) {
		got := registry.Window(versions, registry.Query{Order: candidate.Ascending})
		assert.Equal(t, []string{"1.0.0", "1.1.0", "1.2.0", "2.0.0"}, got)
	})

	t.Run("descending with prereleases", func(t *testing.T) {
		got := registry.Window(versions, registry.Query{Order: candidate.Descending, IncludePrerelease: true})
		assert.Equal(t, []string{"2.0.0", "1.3.0-SNAPSHOT.1", "1.2.0", "1.1.0", "1.0.0"}, got)
	})

	t.Run("latest n keeps the newest versions in either order", func(t *testing.T) {
		asc := registry.Window(versions, registry.Query{Order: candidate.Ascending, LatestN: 2})
		assert.Equal(t, []string{"1.2.0", "2.0.0"}, asc)
		desc := registry.Window(versions, registry.Query{Order: candidate.Descending, LatestN: 2})
		assert.Equal(t, []string{"2.0.0", "1.2.0"}, desc)
	})

	t.Run("scope hint", func(t *testing.T) {
		got := registry.Window([]string{"v1.1.0", "1.1.5", "1.2.0"}, registry.Query{ScopeHint: "1.1."})
		assert.Equal(t, []string{"v1.1.0", "1.1.5"}, got)
	})
}

func TestFAR(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/applications", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"applicationDescriptors":[
			{"name":"app-platform-minimal","version":"1.0.1"},
			{"name":"app-platform-minimal","version":"1.0.3"},
			{"name":"app-platform-minimal-extra","version":"9.9.9"},
			{"name":"app-platform-minimal","version":"1.0.1"}
		],"totalRecords":4}`)
	}))
	defer srv.Close()

	far := &registry.FAR{BaseURL: srv.URL, Client: srv.Client()}
	versions, err := far.ListVersions(context.Background(), "app-platform-minimal", registry.Query{Order: candidate.Ascending})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.1", "1.0.3"}, versions)
	assert.Equal(t, "name=app-platform-minimal", gotQuery)
}

func TestFARStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		notFound  bool
		transient bool
	}{
		{status: http.StatusNotFound, notFound: true},
		{status: http.StatusServiceUnavailable, transient: true},
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			far := &registry.FAR{BaseURL: srv.URL, Client: srv.Client()}
			_, err := far.ListVersions(context.Background(), "app", registry.Query{})
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, registry.ErrNotFound))
			assert.Equal(t, tt.transient, registry.IsTransient(err))
		})
	}
}

func TestDockerHub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repositories/folioorg/mod-users/tags/19.2.1/":
			fmt.Fprint(w, `{"name":"19.2.1"}`)
		case "/repositories/folioorg/mod-flaky/tags/1.0.0/":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	hub := &registry.DockerHub{BaseURL: srv.URL, Client: srv.Client()}

	ok, err := hub.ArtifactExists(context.Background(), "mod-users", "19.2.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hub.ArtifactExists(context.Background(), "mod-users", "19.2.2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = hub.ArtifactExists(context.Background(), "mod-flaky", "1.0.0")
	require.Error(t, err)
	assert.True(t, registry.IsTransient(err))
}

func TestGitHubTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/folio-org/folio-kong/tags":
			assert.Equal(t, "50", r.URL.Query().Get("per_page"))
			fmt.Fprint(w, `[{"name":"v3.9.2"},{"name":"3.9.1"},{"name":"v3.10.0"},{"name":"v3.9.2"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
		}
	}))
	defer srv.Close()

	client, err := gh.NewClient(gh.Options{HTTPClient: srv.Client(), BaseURL: srv.URL, Token: "test"})
	require.NoError(t, err)
	lister := &registry.GitHubTags{Organization: "folio-org", Client: client}

	versions, err := lister.ListVersions(context.Background(), "folio-kong", registry.Query{Order: candidate.Descending})
	require.NoError(t, err)
	assert.Equal(t, []string{"3.10.0", "3.9.2", "3.9.1"}, versions)

	_, err = lister.ListVersions(context.Background(), "missing", registry.Query{})
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRetrying(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("retries network errors", func(t *testing.T) {
		var calls atomic.Int32
		lister := registry.Retrying(registry.ListerFunc(func(context.Context, string, registry.Query) ([]string, error) {
			if calls.Add(1) < 3 {
				return nil, &registry.NetworkError{Registry: "test", Op: "list", Err: errors.New("connection reset")}
			}
			return []string{"1.0.0"}, nil
		}), policy)

		versions, err := lister.ListVersions(context.Background(), "mod", registry.Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"1.0.0"}, versions)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("does not retry not found", func(t *testing.T) {
		var calls atomic.Int32
		lister := registry.Retrying(registry.ListerFunc(func(context.Context, string, registry.Query) ([]string, error) {
			calls.Add(1)
			return nil, registry.ErrNotFound
		}), policy)

		_, err := lister.ListVersions(context.Background(), "mod", registry.Query{})
		require.ErrorIs(t, err, registry.ErrNotFound)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("checker gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		checker := registry.RetryingChecker(registry.ArtifactCheckerFunc(func(context.Context, string, string) (bool, error) {
			calls.Add(1)
			return false, &registry.NetworkError{Registry: "test", Op: "check", Err: errors.New("timeout")}
		}), policy)

		_, err := checker.ArtifactExists(context.Background(), "mod", "1.0.0")
		var exhausted *retry.ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.EqualValues(t, 3, calls.Load())
	})
}

func TestCached(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	base := registry.ListerFunc(func(context.Context, string, registry.Query) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"1.0.0", "1.0.1"}, nil
	})
	cached := registry.NewCached("test", base, 10, time.Minute)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			versions, err := cached.ListVersions(context.Background(), "mod", registry.Query{})
			assert.NoError(t, err)
			assert.Equal(t, []string{"1.0.0", "1.0.1"}, versions)
		}()
	}
	// give the goroutines a chance to join the in-flight call
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	versions, err := cached.ListVersions(context.Background(), "mod", registry.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.0.1"}, versions)
	assert.LessOrEqual(t, calls.Load(), int32(5))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	before := calls.Load()
	_, err = cached.ListVersions(context.Background(), "mod", registry.Query{})
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load(), "second lookup must be served from the cache")
}

func TestStatic(t *testing.T) {
	s := registry.NewStatic(map[string][]string{"mod-a": {"1.0.0", "1.0.1"}})
	s.RemoveArtifact("mod-a", "1.0.1")

	versions, err := s.ListVersions(context.Background(), "mod-a", registry.Query{Order: candidate.Descending})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.1", "1.0.0"}, versions)

	ok, err := s.ArtifactExists(context.Background(), "mod-a", "1.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ListVersions(context.Background(), "mod-b", registry.Query{})
	require.ErrorIs(t, err, registry.ErrNotFound)
}
