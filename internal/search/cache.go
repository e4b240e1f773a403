package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/animegrab/animegrab/internal/metrics"
)

const (
	defaultCacheTTL            = 15 * time.Minute
	defaultStaleTTL            = 45 * time.Minute
	defaultWarmInterval        = 5 * time.Minute
	defaultWarmTopQueries      = 12
	defaultCacheMaxEntries     = 400
	defaultPopularMaxEntries   = 200
	maxConcurrentWarmRefreshes = 3
)

// CacheConfig controls the result cache's TTLs and warm-cycle behavior.
type CacheConfig struct {
	TTL               time.Duration
	StaleTTL          time.Duration
	WarmInterval      time.Duration
	WarmTopQueries    int
	MaxEntries        int
	PopularMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:               defaultCacheTTL,
		StaleTTL:          defaultStaleTTL,
		WarmInterval:      defaultWarmInterval,
		WarmTopQueries:    defaultWarmTopQueries,
		MaxEntries:        defaultCacheMaxEntries,
		PopularMaxEntries: defaultPopularMaxEntries,
	}
}

type cachedResult struct {
	result      Result
	updatedAt   time.Time
	expiresAt   time.Time
	staleUntil  time.Time
	refreshOnce sync.Once
}

type popularRequest struct {
	request  Request
	hits     int
	lastSeen time.Time
	lastWarm time.Time
}

// ResultCache caches orchestrated search results, first-page queries, behind
// an optional Redis-backed L2 and an in-memory L1, and periodically
// re-warms the most popular first-page queries before they go stale.
// Generalized from the teacher's per-provider search cache/warmer to a
// single cache keyed on the orchestrator's own Request shape.
type ResultCache struct {
	cfg   CacheConfig
	redis *RedisCacheBackend

	mu      sync.Mutex
	entries map[string]*cachedResult
	popular map[string]*popularRequest
}

func NewResultCache(cfg CacheConfig, redisBackend *RedisCacheBackend) *ResultCache {
	if cfg.TTL <= 0 {
		cfg = DefaultCacheConfig()
	}
	return &ResultCache{
		cfg:     cfg,
		redis:   redisBackend,
		entries: make(map[string]*cachedResult),
		popular: make(map[string]*popularRequest),
	}
}

func cacheKey(req Request) string {
	return strings.Join([]string{
		"q=" + strings.ToLower(strings.TrimSpace(req.Query)),
		"s=" + strings.Join(normalizeNames(req.Sources), ","),
		"l=" + fmt.Sprint(req.Limit),
		"o=" + fmt.Sprint(req.Offset),
		"sb=" + string(req.SortBy),
	}, "|")
}

func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Lookup returns a cached result for req, if any, along with whether a
// background refresh should now be triggered (the entry is stale but still
// servable).
func (c *ResultCache) Lookup(ctx context.Context, req Request) (Result, bool, bool) {
	key := cacheKey(req)

	if c.redis != nil {
		if res, found, err := c.redis.Get(ctx, key); err == nil && found {
			metrics.CacheHitsTotal.Inc()
			c.storeMemoryOnly(key, res, time.Now())
			return res, true, false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return Result{}, false, false
	}

	now := time.Now()
	if now.Before(entry.expiresAt) {
		metrics.CacheHitsTotal.Inc()
		return entry.result, true, false
	}
	if now.Before(entry.staleUntil) {
		metrics.CacheHitsTotal.Inc()
		needsRefresh := false
		entry.refreshOnce.Do(func() { needsRefresh = true })
		return entry.result, true, needsRefresh
	}

	metrics.CacheMissesTotal.Inc()
	delete(c.entries, key)
	delete(c.popular, key)
	return Result{}, false, false
}

// Store saves res for req and, for first-page queries, records popularity so
// the warmer can pre-refresh it before it expires.
func (c *ResultCache) Store(ctx context.Context, req Request, res Result) {
	key := cacheKey(req)
	now := time.Now()

	if c.redis != nil {
		_ = c.redis.Set(ctx, key, res, c.cfg.TTL)
	}
	c.storeMemoryOnly(key, res, now)

	if req.Offset == 0 {
		c.markPopular(key, req, now)
	}
}

func (c *ResultCache) storeMemoryOnly(key string, res Result, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cachedResult{
		result:     res,
		updatedAt:  now,
		expiresAt:  now.Add(c.cfg.TTL),
		staleUntil: now.Add(c.cfg.StaleTTL),
	}
	c.trimLocked(now)
}

func (c *ResultCache) markPopular(key string, req Request, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pop, ok := c.popular[key]
	if !ok {
		c.popular[key] = &popularRequest{request: req, hits: 1, lastSeen: now}
	} else {
		pop.hits++
		pop.lastSeen = now
		pop.request = req
	}

	limit := c.cfg.PopularMaxEntries
	if limit <= 0 {
		limit = defaultPopularMaxEntries
	}
	if len(c.popular) <= limit {
		return
	}
	type pair struct {
		key   string
		value *popularRequest
	}
	items := make([]pair, 0, len(c.popular))
	for k, v := range c.popular {
		items = append(items, pair{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].value.hits != items[j].value.hits {
			return items[i].value.hits < items[j].value.hits
		}
		return items[i].value.lastSeen.Before(items[j].value.lastSeen)
	})
	for i := 0; i < len(items)-limit; i++ {
		delete(c.popular, items[i].key)
	}
}

func (c *ResultCache) trimLocked(now time.Time) {
	maxEntries := c.cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	for key, entry := range c.entries {
		if now.After(entry.staleUntil) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= maxEntries {
		return
	}
	type pair struct {
		key   string
		entry *cachedResult
	}
	items := make([]pair, 0, len(c.entries))
	for k, e := range c.entries {
		items = append(items, pair{k, e})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].entry.updatedAt.Before(items[j].entry.updatedAt) })
	for i := 0; i < len(items)-maxEntries; i++ {
		delete(c.entries, items[i].key)
	}
}

// RunWarmer periodically re-runs refresh for the most popular first-page
// queries that are approaching expiry, until ctx is cancelled. refresh is
// expected to be the orchestrator's uncached Search.
func (c *ResultCache) RunWarmer(ctx context.Context, refresh func(context.Context, Request) (Result, error)) {
	interval := c.cfg.WarmInterval
	if interval <= 0 {
		interval = defaultWarmInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runWarmCycle(ctx, refresh)
		}
	}
}

func (c *ResultCache) runWarmCycle(ctx context.Context, refresh func(context.Context, Request) (Result, error)) {
	now := time.Now()
	specs := c.collectWarmSpecs(now)
	if len(specs) == 0 {
		return
	}

	sem := semaphore.NewWeighted(maxConcurrentWarmRefreshes)
	var wg sync.WaitGroup
	for _, req := range specs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			refreshCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			defer cancel()
			if res, err := refresh(refreshCtx, req); err == nil {
				c.Store(refreshCtx, req, res)
			}
		}(req)
	}
	wg.Wait()
}

func (c *ResultCache) collectWarmSpecs(now time.Time) []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.popular) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.popular))
	for k := range c.popular {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.popular[keys[i]], c.popular[keys[j]]
		if a.hits != b.hits {
			return a.hits > b.hits
		}
		return a.lastSeen.After(b.lastSeen)
	})

	limit := c.cfg.WarmTopQueries
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}

	out := make([]Request, 0, limit)
	for _, key := range keys[:limit] {
		pop := c.popular[key]
		if !pop.lastWarm.IsZero() && now.Sub(pop.lastWarm) < c.cfg.WarmInterval/2 {
			continue
		}
		if entry, ok := c.entries[key]; ok && now.Before(entry.expiresAt) {
			continue
		}
		pop.lastWarm = now
		out = append(out, pop.request)
	}
	return out
}
