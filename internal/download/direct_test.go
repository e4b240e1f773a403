package download

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/progress"
	"github.com/animegrab/animegrab/internal/transport"
)

func TestDirectDownloadWritesFileAndReportsContentLength(t *testing.T) {
	const size = 1048576 // spec scenario 3: 1,048,576-byte file
	payload := strings.Repeat("x", size)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	client := transport.NewClient(10*time.Second, 0, 0, 10*time.Millisecond)
	defer client.Close()

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "episode-1.mp4")

	task := &domain.DownloadTask{
		Episode: domain.Episode{Source: "test", URL: "episode-1"},
		StreamURL: srv.URL,
	}

	var events []progress.Event
	err := directDownload(t.Context(), client, task, outputPath, 8*1024, func(e progress.Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		t.Fatalf("expected output file to exist: %v", statErr)
	}
	if info.Size() != size {
		t.Fatalf("expected %d bytes written, got %d", size, info.Size())
	}
	if task.TotalBytes != size {
		t.Fatalf("expected TotalBytes=%d, got %d", size, task.TotalBytes)
	}
	if len(events) == 0 {
		t.Fatalf("expected at least one progress event")
	}
	last := events[len(events)-1]
	if last.Downloaded != size {
		t.Fatalf("expected final event to report %d downloaded, got %d", size, last.Downloaded)
	}
}

func TestDirectDownloadHandlesZeroByteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
	}))
	defer srv.Close()

	client := transport.NewClient(10*time.Second, 0, 0, 10*time.Millisecond)
	defer client.Close()

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "empty.mp4")
	task := &domain.DownloadTask{StreamURL: srv.URL}

	err := directDownload(t.Context(), client, task, outputPath, 8*1024, func(progress.Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task.MarkCompleted(time.Now())
	if task.Progress != 100.0 {
		t.Fatalf("expected 0-byte download to reach 100%% progress on completion, got %v", task.Progress)
	}
}

func TestIsDirectRetryableClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"4xx not retryable", &domain.NetworkError{StatusCode: 404}, false},
		{"5xx retryable", &domain.NetworkError{StatusCode: 503}, true},
		{"connect failure retryable", &domain.NetworkError{}, true},
		{"filesystem error not retryable", &domain.DownloadError{Reason: "permission denied"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isDirectRetryable(c.err); got != c.want {
				t.Fatalf("expected %v, got %v", c.want, got)
			}
		})
	}
}
