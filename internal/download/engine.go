// Package download implements the per-episode download engine: the
// per-task pipeline (resolve stream, route by URL shape, retry with
// backoff), the three fetch strategies it routes between (HLS assembler,
// external accelerator, direct HTTP streaming), and filename sanitization
// for output paths.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/metrics"
	"github.com/animegrab/animegrab/internal/plugin"
	"github.com/animegrab/animegrab/internal/progress"
	"github.com/animegrab/animegrab/internal/transport"
)

var tracer = otel.Tracer("animegrab/download")

// Config controls the engine's concurrency cap and the three fetch
// strategies' own tunables. Values are expected to already be clamped by
// internal/config.
type Config struct {
	ConcurrentDownloads int
	ChunkSizeBytes      int
	HTTPTimeout         time.Duration
	MaxRetries          int

	AcceleratorPath        string
	AcceleratorConnections int
	AcceleratorSplit       int

	FragmentRetries int
}

// Engine runs DownloadTask pipelines bounded by a concurrent_downloads
// semaphore. One Engine is typically shared across an entire CLI
// invocation or batch.
type Engine struct {
	cfg         Config
	client      *transport.Client
	accelerator *Accelerator
	aggregator  *progress.Aggregator
	sem         *semaphore.Weighted
	logger      *slog.Logger
}

// NewEngine constructs an Engine. aggregator may be nil, in which case
// progress events are simply discarded.
func NewEngine(cfg Config, aggregator *progress.Aggregator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.ConcurrentDownloads
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Engine{
		cfg:         cfg,
		client:      transport.NewClient(cfg.HTTPTimeout, 0, 0, time.Second),
		accelerator: NewAccelerator(cfg.AcceleratorPath, cfg.AcceleratorConnections, cfg.AcceleratorSplit),
		aggregator:  aggregator,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      logger,
	}
}

// NewTask builds a DownloadTask for the given episode, normalizing quality
// to episode.BestQuality() when the requested rung isn't among the
// episode's available options.
func NewTask(episode domain.Episode, quality domain.Quality, outputPath string) *domain.DownloadTask {
	normalized := quality
	available := false
	for _, q := range episode.QualityOptions {
		if q == quality {
			available = true
			break
		}
	}
	if !available && len(episode.QualityOptions) > 0 {
		normalized = episode.BestQuality()
	}
	return &domain.DownloadTask{
		Episode:    episode,
		Quality:    normalized,
		OutputPath: outputPath,
		Status:     domain.StatusPending,
	}
}

// DownloadEpisode runs one task's full pipeline: resolve stream via p,
// route by URL shape, retry transient failures with 2^attempt-second
// backoff up to cfg.MaxRetries, and mark the task's terminal state. It
// acquires a permit from the engine's concurrent_downloads semaphore for
// its duration, so callers may submit a whole batch concurrently and rely
// on the semaphore to serialize beyond the configured cap.
func (e *Engine) DownloadEpisode(ctx context.Context, p plugin.Plugin, task *domain.DownloadTask) error {
	ctx, span := tracer.Start(ctx, "download.episode", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("episode.title", task.Episode.Title),
			attribute.String("quality", task.Quality.String()),
		))
	defer span.End()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer e.sem.Release(1)

	task.Status = domain.StatusDownloading
	task.StartedAt = time.Now()
	e.publish(task, "")
	metrics.DownloadsActive.Inc()
	defer metrics.DownloadsActive.Dec()

	streamURL, headers, err := p.ResolveStream(ctx, task.Episode.URL, task.Quality)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(task, err)
	}
	task.StreamURL = streamURL
	task.RequestHeaders = headers
	span.SetAttributes(attribute.String("delivery.path", deliveryPath(streamURL)))

	attemptErr := e.runWithBackoff(ctx, task)
	if attemptErr != nil {
		if errors.Is(attemptErr, context.Canceled) {
			task.Status = domain.StatusCancelled
			task.EndedAt = time.Now()
			e.publish(task, "")
			metrics.RecordDownload("cancelled", deliveryPath(task.StreamURL), task.DownloadedBytes)
			span.SetStatus(codes.Error, "cancelled")
			return attemptErr
		}
		span.RecordError(attemptErr)
		span.SetStatus(codes.Error, attemptErr.Error())
		return e.fail(task, attemptErr)
	}

	task.MarkCompleted(time.Now())
	e.publish(task, "")
	metrics.RecordDownload("completed", deliveryPath(task.StreamURL), task.DownloadedBytes)
	span.SetAttributes(attribute.Int64("bytes.downloaded", task.DownloadedBytes))
	return nil
}

// deliveryPath labels a completed/failed download by which fetch strategy
// served it, for the download_bytes_total/downloads_total metrics.
func deliveryPath(streamURL string) string {
	if looksLikeHLS(streamURL) {
		return "hls"
	}
	return "direct"
}

// runWithBackoff retries runOnce on a transient failure with backoff
// 2^attempt seconds, up to cfg.MaxRetries additional attempts beyond the
// first. A non-transient failure (4xx, filesystem error) or task
// cancellation stops immediately.
func (e *Engine) runWithBackoff(ctx context.Context, task *domain.DownloadTask) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if task.Status == domain.StatusCancelled {
			return nil
		}
		task.RetryCount = attempt
		lastErr = e.runOnce(ctx, task)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTaskRetryable(lastErr) {
			return lastErr
		}
		if attempt == e.cfg.MaxRetries {
			break
		}
		wait := time.Duration(1<<uint(attempt)) * time.Second
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// runOnce routes task.StreamURL to the matching fetch strategy exactly
// once; retries are handled by the caller's RetryWithBackoff loop.
func (e *Engine) runOnce(ctx context.Context, task *domain.DownloadTask) error {
	ctx, span := tracer.Start(ctx, "download.attempt", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("retry.count", task.RetryCount)))
	defer span.End()

	err := e.runOnceTraced(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Engine) runOnceTraced(ctx context.Context, task *domain.DownloadTask) error {
	publish := func(evt progress.Event) { e.aggregatorPublish(evt) }

	switch {
	case looksLikeHLS(task.StreamURL):
		return hlsDownload(ctx, e.client, task, task.OutputPath, e.cfg.AcceleratorConnections, e.cfg.FragmentRetries, publish)
	case e.accelerator != nil && !e.accelerator.Unavailable():
		err := e.accelerator.Download(ctx, task, task.OutputPath, e.cfg.HTTPTimeout, publish)
		if errors.Is(err, errAcceleratorNotFound) {
			if e.accelerator.ShouldLogUnavailable() {
				e.logger.Warn("accelerator binary unavailable, falling back to direct HTTP for the remainder of the session",
					slog.String("path", e.cfg.AcceleratorPath))
			}
			return directDownload(ctx, e.client, task, task.OutputPath, e.cfg.ChunkSizeBytes, publish)
		}
		return err
	default:
		return directDownload(ctx, e.client, task, task.OutputPath, e.cfg.ChunkSizeBytes, publish)
	}
}

func isTaskRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return isDirectRetryable(err)
}

func (e *Engine) fail(task *domain.DownloadTask, err error) error {
	task.Status = domain.StatusFailed
	task.EndedAt = time.Now()
	task.LastError = err.Error()
	e.publish(task, err.Error())
	metrics.RecordDownload("failed", deliveryPath(task.StreamURL), task.DownloadedBytes)
	return fmt.Errorf("download failed for %s: %w", task.Episode.Title, err)
}

func (e *Engine) publish(task *domain.DownloadTask, errText string) {
	e.aggregatorPublish(progress.Event{
		TaskKey:    task.Key(),
		Status:     task.Status,
		Downloaded: task.DownloadedBytes,
		Total:      task.TotalBytes,
		SpeedBPS:   task.SpeedBytesPerSec,
		Err:        errText,
	})
}

func (e *Engine) aggregatorPublish(evt progress.Event) {
	if e.aggregator == nil {
		return
	}
	e.aggregator.Publish(evt)
}

// Cancel marks task CANCELLED; the owning worker observes this at its next
// chunk boundary and unwinds, leaving the partial file in place.
func Cancel(task *domain.DownloadTask) {
	task.Status = domain.StatusCancelled
}

// Close releases the engine's HTTP client resources.
func (e *Engine) Close() {
	e.client.Close()
}
