// Package progress decouples download workers, which update byte counters
// at high frequency from arbitrary execution contexts (including the
// accelerator subprocess's output-parsing goroutine), from whatever
// renders task state to a user. A bounded, non-blocking queue of events
// feeds a single consumer that applies updates to a shared task-state
// table and notifies subscribers at a bounded refresh rate.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/animegrab/animegrab/internal/domain"
)

// Event is one progress sample. Producers enqueue with drop-on-full
// semantics: losing a sample is acceptable because the next sample carries
// the cumulative state, not a delta.
type Event struct {
	TaskKey   string
	Status    domain.DownloadStatus
	Downloaded int64
	Total      int64 // 0 means unknown
	SpeedBPS   float64
	Err        string
}

const defaultQueueSize = 256

// refreshInterval bounds how often Aggregator notifies subscribers,
// matching the spec's ~4Hz UI update rate.
const refreshInterval = 250 * time.Millisecond

// Snapshot is a read-only view of one task's state, safe to hold after the
// aggregator moves on.
type Snapshot struct {
	TaskKey    string
	Status     domain.DownloadStatus
	Downloaded int64
	Total      int64
	Percent    float64
	SpeedBPS   float64
	Err        string
}

// Aggregator drains a bounded event queue with a single consumer goroutine,
// folding events into a shared task-state table and notifying subscribers
// at a bounded rate. Safe for concurrent Publish calls from many producers.
type Aggregator struct {
	events chan Event
	notify func([]Snapshot)

	mu    sync.Mutex
	tasks map[string]*Snapshot

	done chan struct{}
}

// NewAggregator constructs an Aggregator. notify is invoked from the
// consumer goroutine at most once per refreshInterval with a snapshot of
// every known task; it must not block.
func NewAggregator(notify func([]Snapshot)) *Aggregator {
	if notify == nil {
		notify = func([]Snapshot) {}
	}
	return &Aggregator{
		events: make(chan Event, defaultQueueSize),
		notify: notify,
		tasks:  make(map[string]*Snapshot),
		done:   make(chan struct{}),
	}
}

// Publish enqueues an event. If the queue is full the event is dropped
// rather than blocking the producer; the next event for the same task
// carries forward the cumulative byte count, so no information is lost
// beyond momentary UI staleness.
func (a *Aggregator) Publish(evt Event) {
	select {
	case a.events <- evt:
	default:
	}
}

// Run drains the event queue until ctx is cancelled and every known task has
// reached a terminal status. It is intended to run in its own goroutine for
// the lifetime of a batch.
func (a *Aggregator) Run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case evt := <-a.events:
			a.apply(evt)
			dirty = true
			if a.allTerminal() {
				a.flush()
				return
			}
		case <-ticker.C:
			if dirty {
				a.flush()
				dirty = false
			}
		case <-ctx.Done():
			a.flush()
			return
		}
	}
}

// Wait blocks until Run has returned.
func (a *Aggregator) Wait() {
	<-a.done
}

func (a *Aggregator) apply(evt Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap, ok := a.tasks[evt.TaskKey]
	if !ok {
		snap = &Snapshot{TaskKey: evt.TaskKey}
		a.tasks[evt.TaskKey] = snap
	}
	snap.Status = evt.Status
	snap.Downloaded = evt.Downloaded
	snap.SpeedBPS = evt.SpeedBPS
	snap.Err = evt.Err
	if evt.Total > 0 {
		snap.Total = evt.Total
	}
	snap.Percent = percentFor(snap.Status, snap.Downloaded, snap.Total)
}

// percentFor derives a display percentage. When total is known it is a
// plain ratio. When total is unknown (the common case for HLS streams
// before the playlist segment count is known), it applies the spec's
// indeterminate-progress rule: min(95, MB*2) until the task completes,
// at which point percent is forced to 100 regardless of byte counts.
func percentFor(status domain.DownloadStatus, downloaded, total int64) float64 {
	if status == domain.StatusCompleted {
		return 100.0
	}
	if total > 0 {
		pct := float64(downloaded) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
		return pct
	}
	mb := float64(downloaded) / (1024 * 1024)
	pct := mb * 2
	if pct > 95 {
		pct = 95
	}
	return pct
}

func (a *Aggregator) allTerminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.tasks) == 0 {
		return false
	}
	for _, snap := range a.tasks {
		switch snap.Status {
		case domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled:
		default:
			return false
		}
	}
	return true
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	snapshots := make([]Snapshot, 0, len(a.tasks))
	for _, snap := range a.tasks {
		snapshots = append(snapshots, *snap)
	}
	a.mu.Unlock()
	a.notify(snapshots)
}
