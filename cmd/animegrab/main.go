// Command animegrab searches anime sources, lists an anime's episodes, and
// downloads one episode or a whole run. This file only wires components
// together (config, logger, metrics, tracing, plugin registry, search
// orchestrator, download engine) and dispatches the small CLI surface; the
// actual search/download/progress logic lives in internal/.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/animegrab/animegrab/internal/config"
	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/download"
	"github.com/animegrab/animegrab/internal/metrics"
	"github.com/animegrab/animegrab/internal/plugin"
	"github.com/animegrab/animegrab/internal/plugins/apivault"
	"github.com/animegrab/animegrab/internal/plugins/jsgated"
	"github.com/animegrab/animegrab/internal/plugins/sampleindex"
	"github.com/animegrab/animegrab/internal/progress"
	"github.com/animegrab/animegrab/internal/search"
	"github.com/animegrab/animegrab/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "animegrab")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.Duration("searchTimeout", cfg.SearchTimeout),
		slog.Int("maxConcurrentPlugins", cfg.MaxConcurrentPlugins),
		slog.Int("concurrentDownloads", cfg.ConcurrentDownloads),
		slog.Int("chunkSizeBytes", cfg.ChunkSizeBytes),
		slog.Duration("httpTimeout", cfg.HTTPTimeout),
		slog.Bool("hasAccelerator", strings.TrimSpace(cfg.AcceleratorPath) != ""),
		slog.Bool("headlessBrowserEnabled", cfg.HeadlessBrowserEnabled),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
	)

	registry := plugin.NewRegistry(logger)
	registerPlugins(registry)
	registry.Load()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer registry.Shutdown()

	metricsServer := startMetricsServer(cfg.MetricsAddr, logger)
	if metricsServer != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	orchestrator := search.NewOrchestrator(registry, cfg.SearchTimeout, cfg.MaxConcurrentPlugins, logger)
	if cache := buildResultCache(cfg, logger); cache != nil {
		orchestrator.WithCache(cache)
		orchestrator.StartWarmer(rootCtx)
	}

	aggregator := progress.NewAggregator(func(snapshots []progress.Snapshot) {
		printProgress(snapshots)
	})
	go aggregator.Run(rootCtx)

	engine := download.NewEngine(download.Config{
		ConcurrentDownloads:    cfg.ConcurrentDownloads,
		ChunkSizeBytes:         cfg.ChunkSizeBytes,
		HTTPTimeout:            cfg.HTTPTimeout,
		MaxRetries:             cfg.MaxRetries,
		AcceleratorPath:        cfg.AcceleratorPath,
		AcceleratorConnections: cfg.AcceleratorConnections,
		AcceleratorSplit:       cfg.AcceleratorSplit,
		FragmentRetries:        cfg.FragmentRetries,
	}, aggregator, logger)
	defer engine.Close()

	if err := dispatch(rootCtx, os.Args[1:], registry, orchestrator, engine, logger); err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		aggregator.Wait()
		os.Exit(1)
	}
	aggregator.Wait()
}

// registerPlugins wires the three reference plugins with no Options set.
// This is illustrative registration, not a runnable default: every plugin's
// New() requires a "base_url" entry and New() will fail with a
// ConfigurationError until an operator supplies real per-plugin config, e.g.
// from sources.json.
func registerPlugins(registry *plugin.Registry) {
	registry.Register("sampleindex", sampleindex.New, domain.SourceConfig{Enabled: true, Priority: 10})
	registry.Register("apivault", apivault.New, domain.SourceConfig{Enabled: true, Priority: 20})
	registry.Register("jsgated", jsgated.New, domain.SourceConfig{Enabled: true, Priority: 30})
}

// dispatch implements the core-visible CLI subset: search, episodes,
// download episode, and download batch. Full flag parsing, interactive
// prompts, and config-file editing are out of scope for this binary.
func dispatch(ctx context.Context, args []string, registry *plugin.Registry, orchestrator *search.Orchestrator, engine *download.Engine, logger *slog.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: animegrab <search|episodes|download> ...")
	}

	switch args[0] {
	case "search":
		return runSearch(ctx, args[1:], orchestrator)
	case "episodes":
		return runEpisodes(ctx, args[1:], registry)
	case "download":
		return runDownload(ctx, args[1:], registry, engine)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runSearch(ctx context.Context, args []string, orchestrator *search.Orchestrator) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: animegrab search <query>")
	}
	query := strings.Join(args, " ")

	result, err := orchestrator.Search(ctx, search.Request{Query: query, Limit: 20})
	if err != nil {
		return err
	}

	for _, item := range result.Items {
		fmt.Printf("%-40s  %-12s  %d episodes\n", item.Title, item.Source, item.EpisodeCount)
	}
	for _, status := range result.Statuses {
		if !status.OK {
			fmt.Fprintf(os.Stderr, "source %s: %s\n", status.Name, status.Error)
		}
	}
	return nil
}

func runEpisodes(ctx context.Context, args []string, registry *plugin.Registry) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: animegrab episodes <source> <anime-url>")
	}
	source, animeURL := args[0], args[1]

	p, ok := registry.ByName(source)
	if !ok {
		return fmt.Errorf("no active plugin named %q", source)
	}

	episodes, err := p.Episodes(ctx, animeURL)
	if err != nil {
		return err
	}
	for _, ep := range episodes {
		fmt.Printf("%3d  %-40s  best=%s\n", ep.Number, ep.Title, ep.BestQuality())
	}
	return nil
}

func runDownload(ctx context.Context, args []string, registry *plugin.Registry, engine *download.Engine) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: animegrab download episode <source> <anime-url> <episode-number> <quality> <out-dir>\n       animegrab download batch <source> <anime-url> <quality> <out-dir>")
	}

	switch args[0] {
	case "episode":
		return runDownloadEpisode(ctx, args[1:], registry, engine)
	case "batch":
		return runDownloadBatch(ctx, args[1:], registry, engine)
	default:
		return fmt.Errorf("unknown download mode %q", args[0])
	}
}

func runDownloadEpisode(ctx context.Context, args []string, registry *plugin.Registry, engine *download.Engine) error {
	if len(args) != 5 {
		return fmt.Errorf("usage: animegrab download episode <source> <anime-url> <episode-number> <quality> <out-dir>")
	}
	source, animeURL, numberRaw, qualityRaw, outDir := args[0], args[1], args[2], args[3], args[4]

	p, ok := registry.ByName(source)
	if !ok {
		return fmt.Errorf("no active plugin named %q", source)
	}
	number, err := strconv.Atoi(numberRaw)
	if err != nil {
		return fmt.Errorf("invalid episode number %q: %w", numberRaw, err)
	}
	quality, ok := domain.ParseQuality(qualityRaw)
	if !ok {
		return fmt.Errorf("unrecognized quality %q", qualityRaw)
	}

	episodes, err := p.Episodes(ctx, animeURL)
	if err != nil {
		return err
	}
	episode, ok := findEpisode(episodes, number)
	if !ok {
		return fmt.Errorf("episode %d not found", number)
	}

	outputPath := filepath.Join(outDir, download.SanitizeFilename(fmt.Sprintf("%s - %03d.mp4", episode.Title, episode.Number)))
	task := download.NewTask(episode, quality, outputPath)
	if err := engine.DownloadEpisode(ctx, p, task); err != nil {
		return err
	}
	fmt.Printf("saved %s\n", task.OutputPath)
	return nil
}

func runDownloadBatch(ctx context.Context, args []string, registry *plugin.Registry, engine *download.Engine) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: animegrab download batch <source> <anime-url> <quality> <out-dir>")
	}
	source, animeURL, qualityRaw, outDir := args[0], args[1], args[2], args[3]

	p, ok := registry.ByName(source)
	if !ok {
		return fmt.Errorf("no active plugin named %q", source)
	}
	quality, ok := domain.ParseQuality(qualityRaw)
	if !ok {
		return fmt.Errorf("unrecognized quality %q", qualityRaw)
	}

	episodes, err := p.Episodes(ctx, animeURL)
	if err != nil {
		return err
	}

	var firstErr error
	for _, episode := range episodes {
		outputPath := filepath.Join(outDir, download.SanitizeFilename(fmt.Sprintf("%s - %03d.mp4", episode.Title, episode.Number)))
		task := download.NewTask(episode, quality, outputPath)
		if err := engine.DownloadEpisode(ctx, p, task); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			fmt.Fprintf(os.Stderr, "episode %d: %v\n", episode.Number, err)
			continue
		}
		fmt.Printf("saved %s\n", task.OutputPath)
	}
	return firstErr
}

func findEpisode(episodes []domain.Episode, number int) (domain.Episode, bool) {
	for _, ep := range episodes {
		if ep.Number == number {
			return ep, true
		}
	}
	return domain.Episode{}, false
}

func printProgress(snapshots []progress.Snapshot) {
	for _, s := range snapshots {
		if s.Status != domain.StatusDownloading {
			continue
		}
		fmt.Fprintf(os.Stderr, "\r%-40s %5.1f%%  %8.1f KiB/s", s.TaskKey, s.Percent, s.SpeedBPS/1024)
	}
}

// startMetricsServer exposes the registered Prometheus metrics on
// cfg.MetricsAddr's /metrics path. Returns nil (no server) when addr is
// empty. Bind failures are logged, not fatal: a CLI invocation shouldn't
// abort over a diagnostics endpoint it doesn't strictly need.
func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics server listening", slog.String("addr", addr))
	return server
}

func buildResultCache(cfg config.Config, logger *slog.Logger) *search.ResultCache {
	if cfg.CacheDisabled {
		return nil
	}
	cacheCfg := search.DefaultCacheConfig()
	if cfg.CacheTTL > 0 {
		cacheCfg.TTL = cfg.CacheTTL
	}

	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return search.NewResultCache(cacheCfg, nil)
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
		return search.NewResultCache(cacheCfg, nil)
	}
	redisClient := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
		return search.NewResultCache(cacheCfg, nil)
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return search.NewResultCache(cacheCfg, search.NewRedisCacheBackend(redisClient))
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
