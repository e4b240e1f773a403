package search

import (
	"errors"
	"testing"
	"time"
)

func TestHealthTrackerBlocksAfterThreshold(t *testing.T) {
	h := NewHealthTracker()
	now := time.Now()
	for i := 0; i < pluginFailureThreshold-1; i++ {
		h.RecordResult("sampleindex", errors.New("boom"))
	}
	if blocked, _ := h.Blocked("sampleindex", now); blocked {
		t.Fatalf("expected plugin not yet blocked below threshold")
	}
	h.RecordResult("sampleindex", errors.New("boom"))
	if blocked, until := h.Blocked("sampleindex", now); !blocked || !until.After(now) {
		t.Fatalf("expected plugin blocked at threshold, blocked=%v until=%v", blocked, until)
	}
}

func TestHealthTrackerRecoversOnSuccess(t *testing.T) {
	h := NewHealthTracker()
	for i := 0; i < pluginFailureThreshold; i++ {
		h.RecordResult("apivault", errors.New("boom"))
	}
	h.RecordResult("apivault", nil)
	if blocked, _ := h.Blocked("apivault", time.Now()); blocked {
		t.Fatalf("expected health to reset after a success")
	}
}

func TestHealthTrackerBackoffCappedAtMax(t *testing.T) {
	h := NewHealthTracker()
	now := time.Now()
	for i := 0; i < pluginFailureThreshold+10; i++ {
		h.RecordResult("jsgated", errors.New("boom"))
	}
	_, until := h.Blocked("jsgated", now)
	if until.Sub(now) > pluginBlockMax+time.Second {
		t.Fatalf("expected backoff capped at %v, got %v", pluginBlockMax, until.Sub(now))
	}
}
