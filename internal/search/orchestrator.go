// Package search implements the multi-source search orchestrator: concurrent
// fan-out across active plugins, timeout-isolated per source, with
// deduplication, ranking, and pagination.
package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/metrics"
	"github.com/animegrab/animegrab/internal/plugin"
)

var tracer = otel.Tracer("animegrab/search")

// Request parameterizes a single orchestrated search.
type Request struct {
	Query   string
	Sources []string // optional source-name filter
	Limit   int
	Offset  int
	SortBy  SortBy
}

// Result is the orchestrator's response: a ranked, deduplicated page plus
// per-plugin status for diagnostics.
type Result struct {
	Items      []domain.AnimeResult
	Statuses   []PluginStatus
	TotalItems int
	ElapsedMS  int64
}

type PluginStatus struct {
	Name  string
	OK    bool
	Count int
	Error string
}

// Orchestrator owns the plugin registry, the per-plugin timeout, and the
// concurrency cap applied across a single search's fan-out.
type Orchestrator struct {
	registry      *plugin.Registry
	searchTimeout time.Duration
	maxConcurrent int64
	health        *HealthTracker
	logger        *slog.Logger
	cache         *ResultCache
}

func NewOrchestrator(registry *plugin.Registry, searchTimeout time.Duration, maxConcurrentPlugins int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:      registry,
		searchTimeout: searchTimeout,
		maxConcurrent: int64(maxConcurrentPlugins),
		health:        NewHealthTracker(),
		logger:        logger,
	}
}

// WithCache attaches a result cache. When set, Search consults it before
// fanning out and stores fresh results after. Call StartWarmer separately to
// keep popular first-page queries warm.
func (o *Orchestrator) WithCache(cache *ResultCache) *Orchestrator {
	o.cache = cache
	return o
}

// StartWarmer runs the attached cache's warm cycle in the background using
// searchUncached as the refresh function. No-op if no cache is attached.
func (o *Orchestrator) StartWarmer(ctx context.Context) {
	if o.cache == nil {
		return
	}
	go o.cache.RunWarmer(ctx, o.searchUncached)
}

// Search serves req from the attached cache when possible (triggering a
// background refresh on a stale-but-servable hit), falling back to
// searchUncached on a miss.
func (o *Orchestrator) Search(ctx context.Context, req Request) (Result, error) {
	if o.cache == nil {
		return o.searchUncached(ctx, req)
	}

	if res, found, needsRefresh := o.cache.Lookup(ctx, req); found {
		if needsRefresh {
			go func() {
				refreshCtx, cancel := context.WithTimeout(context.Background(), o.searchTimeout+2*time.Second)
				defer cancel()
				if fresh, err := o.searchUncached(refreshCtx, req); err == nil {
					o.cache.Store(refreshCtx, req, fresh)
				}
			}()
		}
		return res, nil
	}

	res, err := o.searchUncached(ctx, req)
	if err == nil {
		o.cache.Store(ctx, req, res)
	}
	return res, err
}

// searchUncached snapshots the active plugin set (honoring req.Sources),
// fans out one independent, timeout-bounded task per plugin, and returns a
// ranked, deduplicated page. A per-plugin failure is logged and treated as
// an empty result; it never aborts peer tasks.
func (o *Orchestrator) searchUncached(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "search.orchestrate", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("query", req.Query)))
	defer span.End()

	if req.Query == "" {
		err := &domain.SearchError{Reason: "query must not be empty"}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	plugins := o.registry.Active(req.Sources)
	if len(plugins) == 0 {
		err := &domain.SearchError{Reason: "No active plugins"}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("plugins.count", len(plugins)))

	startedAt := time.Now()
	statuses := make([]PluginStatus, len(plugins))
	var all []domain.AnimeResult
	var mu sync.Mutex

	sem := semaphore.NewWeighted(o.maxConcurrent)
	var wg sync.WaitGroup
	for i, p := range plugins {
		wg.Add(1)
		go func(index int, p plugin.Plugin) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				statuses[index] = PluginStatus{Name: p.Metadata().Name, Error: "context cancelled"}
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			name := p.Metadata().Name
			if blocked, until := o.health.Blocked(name, time.Now()); blocked {
				mu.Lock()
				statuses[index] = PluginStatus{Name: name, Error: "temporarily unhealthy until " + until.Format(time.RFC3339)}
				mu.Unlock()
				return
			}

			taskCtx, cancel := context.WithTimeout(ctx, o.searchTimeout)
			defer cancel()
			taskCtx, pluginSpan := tracer.Start(taskCtx, "search.plugin", trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attribute.String("plugin", name)))
			defer pluginSpan.End()

			started := time.Now()
			results, err := p.Search(taskCtx, req.Query)
			o.health.RecordResult(name, err)
			metrics.RecordPluginSearch(name, err == nil, time.Since(started))

			status := PluginStatus{Name: name, OK: err == nil, Count: len(results)}
			if err != nil {
				status.Error = err.Error()
				pluginSpan.RecordError(err)
				pluginSpan.SetStatus(codes.Error, err.Error())
				o.logger.Warn("plugin search failed", slog.String("plugin", name), slog.String("error", err.Error()))
			} else {
				pluginSpan.SetAttributes(attribute.Int("results.count", len(results)))
			}

			mu.Lock()
			statuses[index] = status
			all = append(all, results...)
			mu.Unlock()
		}(i, p)
	}
	wg.Wait()

	deduped := Dedup(all)
	sortPolicy := req.SortBy
	if sortPolicy == "" {
		sortPolicy = SortRelevance
	}
	Rank(deduped, sortPolicy)

	total := len(deduped)
	page := Paginate(deduped, req.Offset, req.Limit)
	span.SetAttributes(attribute.Int("results.total", total))

	return Result{
		Items:      page,
		Statuses:   statuses,
		TotalItems: total,
		ElapsedMS:  time.Since(startedAt).Milliseconds(),
	}, nil
}
