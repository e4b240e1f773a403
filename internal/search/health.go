package search

import (
	"strings"
	"sync"
	"time"
)

// Provider health / circuit breaking, generalized from the teacher
// search-aggregator's per-provider circuit breaker to per-plugin: after
// providerFailureThreshold consecutive failures a plugin is temporarily
// skipped by the orchestrator, with exponential backoff capped at
// providerBlockMax. Recovered from _examples/original_source/aniplux's
// "skip a source after repeated failures within a session" behavior, which
// the distilled spec left unspecified.
const (
	pluginFailureThreshold = 3
	pluginBlockBase        = 2 * time.Minute
	pluginBlockMax         = 15 * time.Minute
)

type pluginHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
}

// HealthTracker records per-plugin success/failure and decides whether a
// plugin should be temporarily skipped.
type HealthTracker struct {
	mu     sync.Mutex
	byName map[string]*pluginHealth
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{byName: make(map[string]*pluginHealth)}
}

// Blocked reports whether name is currently circuit-broken, and until when.
func (h *HealthTracker) Blocked(name string, now time.Time) (bool, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.byName[strings.ToLower(name)]
	if !ok || state.blockedUntil.IsZero() {
		return false, time.Time{}
	}
	if now.After(state.blockedUntil) {
		return false, time.Time{}
	}
	return true, state.blockedUntil
}

// RecordResult updates the plugin's consecutive-failure count and, once the
// threshold is crossed, sets an exponentially growing block window.
func (h *HealthTracker) RecordResult(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := strings.ToLower(name)
	state, ok := h.byName[key]
	if !ok {
		state = &pluginHealth{}
		h.byName[key] = state
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		return
	}

	state.consecutiveFailures++
	state.lastError = err.Error()
	if state.consecutiveFailures >= pluginFailureThreshold {
		backoffSteps := state.consecutiveFailures - pluginFailureThreshold
		block := pluginBlockBase << uint(backoffSteps)
		if block > pluginBlockMax || block <= 0 {
			block = pluginBlockMax
		}
		state.blockedUntil = time.Now().Add(block)
	}
}
