package domain

import "time"

// AnimeResult is one hit from a source. Immutable after a plugin's Search
// step returns it.
type AnimeResult struct {
	Title         string
	URL           string
	Source        string
	EpisodeCount  int // 0 means unknown
	Description   string
	ThumbnailURL  string
	Year          int // 0 means unknown
	Genres        []string
	Rating        float64 // 0.0-10.0, 0 means unknown
	Status        string
}

// Episode describes one episode of an anime, as returned by a plugin's
// Episodes step.
type Episode struct {
	Number          int
	Title           string
	URL             string
	Source          string
	QualityOptions  []Quality // unique, sorted descending by rung
	Duration        string    // "MM:SS" or "HH:MM:SS"
	Description     string
	ThumbnailURL    string
	AirDate         string
	Filler          bool
}

// BestQuality returns the first (highest) entry of QualityOptions.
// QualityOptions must be non-empty.
func (e Episode) BestQuality() Quality {
	return e.QualityOptions[0]
}

// DownloadStatus is the lifecycle state of a DownloadTask.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "PENDING"
	StatusDownloading DownloadStatus = "DOWNLOADING"
	StatusPaused      DownloadStatus = "PAUSED"
	StatusCompleted   DownloadStatus = "COMPLETED"
	StatusFailed      DownloadStatus = "FAILED"
	StatusCancelled   DownloadStatus = "CANCELLED"
)

// DownloadTask is a mutable record owned exclusively by the download engine
// for the duration of its terminal-state transition.
type DownloadTask struct {
	Episode          Episode
	Quality          Quality
	OutputPath       string
	StreamURL        string
	RequestHeaders   map[string]string

	Progress         float64 // 0.0-100.0
	Status           DownloadStatus
	TotalBytes       int64 // 0 means unknown
	DownloadedBytes  int64
	SpeedBytesPerSec float64
	ETASeconds       int64 // -1 means unknown

	StartedAt  time.Time
	EndedAt    time.Time
	LastError  string
	RetryCount int
}

// Key is the stable identity used by the progress aggregator and UI to key
// this task regardless of completion order.
func (t *DownloadTask) Key() string {
	return t.Episode.Source + "|" + t.Episode.URL + "|" + t.Quality.String()
}

// ApplyProgress recomputes Progress from DownloadedBytes/TotalBytes, honoring
// the invariant that downloaded <= total when total is known and that
// percent never reported here exceeds 100 except by explicit completion.
func (t *DownloadTask) ApplyProgress(downloaded, total int64) {
	t.DownloadedBytes = downloaded
	if total > 0 {
		t.TotalBytes = total
		pct := float64(downloaded) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
		t.Progress = pct
	}
}

// MarkCompleted transitions the task to COMPLETED, forcing Progress to 100.
func (t *DownloadTask) MarkCompleted(endedAt time.Time) {
	t.Status = StatusCompleted
	t.Progress = 100.0
	t.EndedAt = endedAt
	if t.TotalBytes == 0 {
		t.TotalBytes = t.DownloadedBytes
	}
}

// PluginMetadata is read-only after plugin instantiation.
type PluginMetadata struct {
	Name              string
	Version           string
	Author            string
	Description       string
	Website           string
	SupportedQuality  []Quality
	RateLimit         time.Duration // minimum inter-request gap
	RequiresAuth      bool
	// AlternateHosts lists additional hostnames this plugin should be
	// treated as owning (spec's host-equivalence concern, e.g. a site
	// reachable at both a .to and a .cc domain).
	AlternateHosts []string
}

// SourceConfig is the external collaborator describing how a plugin should
// be enabled and prioritized. The core only reads it; persistence is out of
// scope.
type SourceConfig struct {
	Enabled  bool
	Priority int // 1-100, lower = higher priority
	Options  map[string]string
}
