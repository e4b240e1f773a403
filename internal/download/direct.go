package download

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/progress"
	"github.com/animegrab/animegrab/internal/transport"
)

// directDownload opens a single GET, streaming the response into outputPath
// in chunks of chunkSize, reporting progress after each chunk. It is the
// fallback path when a stream is neither HLS nor eligible for the external
// accelerator.
func directDownload(ctx context.Context, client *transport.Client, task *domain.DownloadTask, outputPath string, chunkSize int, publish func(progress.Event)) error {
	resp, err := client.Stream(ctx, task.StreamURL, task.RequestHeaders)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	total := resp.ContentLength
	if total > 0 {
		task.TotalBytes = total
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return &domain.DownloadError{Path: outputPath, Reason: "failed to create output directory", Err: err}
	}
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &domain.DownloadError{Path: outputPath, Reason: "failed to open output file", Err: err}
	}
	defer func() { _ = out.Close() }()

	buf := make([]byte, chunkSize)
	var downloaded int64
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return &domain.DownloadError{Path: outputPath, Reason: "write failed", Err: writeErr}
			}
			downloaded += int64(n)

			elapsed := time.Since(start).Seconds()
			speed := 0.0
			if elapsed > 0 {
				speed = float64(downloaded) / elapsed
			}
			task.ApplyProgress(downloaded, total)
			task.SpeedBytesPerSec = speed
			if total > 0 && speed > 0 {
				task.ETASeconds = int64(float64(total-downloaded) / speed)
			}
			publish(progress.Event{
				TaskKey:    task.Key(),
				Status:     domain.StatusDownloading,
				Downloaded: downloaded,
				Total:      total,
				SpeedBPS:   speed,
			})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &domain.NetworkError{URL: task.StreamURL, Err: readErr}
		}
	}

	return nil
}

// isDirectRetryable reports whether err is a transient failure the
// per-task retry policy should retry rather than fail the task outright.
// 4xx responses and filesystem errors are non-retryable per the download
// engine's failure semantics.
func isDirectRetryable(err error) bool {
	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		return netErr.StatusCode == 0 || netErr.StatusCode >= 500
	}
	var downloadErr *domain.DownloadError
	if errors.As(err, &downloadErr) {
		return false
	}
	return true
}
