package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platformsync/releaseflow/internal/metrics"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 10 * time.Minute
)

// CacheHitCounterTotal counts version listings served from the cache.
var CacheHitCounterTotal = metrics.MustRegisterCounterVec(
	"registry",
	"cache_hit_total",
	"Number of version listings served from the cache.",
	"registry",
)

// CacheMissCounterTotal counts version listings that had to query the registry.
var CacheMissCounterTotal = metrics.MustRegisterCounterVec(
	"registry",
	"cache_miss_total",
	"Number of version listings that queried the registry.",
	"registry",
)

// Cached serves version listings from an expiring LRU cache and collapses
// concurrent identical queries into a single registry call. Errors are not
// cached so that a later target gets a fresh attempt.
type Cached struct {
	name  string
	base  Lister
	cache *expirable.LRU[string, []string]
	sf    singleflight.Group
}

var _ Lister = (*Cached)(nil)

// NewCached wraps base. name labels metrics and cache keys.
func NewCached(name string, base Lister, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		name:  name,
		base:  base,
		cache: expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

func (c *Cached) ListVersions(ctx context.Context, component string, query Query) ([]string, error) {
	key := fmt.Sprintf("%s|%s|%s|%t|%d|%d|%s", c.name, component, query.ScopeHint, query.IncludePrerelease, query.Limit, query.LatestN, query.Order)

	if versions, ok := c.cache.Get(key); ok {
		CacheHitCounterTotal.WithLabelValues(c.name).Inc()
		return append([]string(nil), versions...), nil
	}
	CacheMissCounterTotal.WithLabelValues(c.name).Inc()

	v, err, shared := c.sf.Do(key, func() (any, error) {
		versions, err := c.base.ListVersions(ctx, component, query)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, versions)
		return versions, nil
	})
	if shared {
		slog.DebugContext(ctx, "shared in-flight registry query", "registry", c.name, "component", component)
	}
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}
