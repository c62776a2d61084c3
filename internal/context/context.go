// Package context carries the per-command configuration and clients through
// a context.Context.
package context

import (
	"context"
	"sync"

	"github.com/google/go-github/v75/github"

	"github.com/platformsync/releaseflow/internal/config"
	"github.com/platformsync/releaseflow/internal/scm"
)

type contextKey struct{}

// Context holds the values set up by the root command.
type Context struct {
	mu            sync.RWMutex
	configuration *config.Config
	github        *github.Client
	scm           scm.Client
}

// FromContext returns the Context stored in ctx or nil.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(contextKey{}).(*Context)
	return c
}

func fromContextOrNew(ctx context.Context) (context.Context, *Context) {
	if c := FromContext(ctx); c != nil {
		return ctx, c
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Context{}
	return context.WithValue(ctx, contextKey{}, c), c
}

// WithConfiguration stores cfg in ctx.
func WithConfiguration(ctx context.Context, cfg *config.Config) context.Context {
	ctx, c := fromContextOrNew(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configuration = cfg
	return ctx
}

// WithGitHubClient stores client in ctx.
func WithGitHubClient(ctx context.Context, client *github.Client) context.Context {
	ctx, c := fromContextOrNew(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.github = client
	return ctx
}

// WithSCM stores the source control client in ctx.
func WithSCM(ctx context.Context, client scm.Client) context.Context {
	ctx, c := fromContextOrNew(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scm = client
	return ctx
}

func (c *Context) Configuration() *config.Config {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configuration
}

func (c *Context) GitHubClient() *github.Client {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.github
}

func (c *Context) SCM() scm.Client {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scm
}
