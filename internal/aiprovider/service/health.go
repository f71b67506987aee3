package service

import (
	"sync"
	"time"

	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	"github.com/smallbiznis/reviewdesk/internal/clock"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthTracker is a per-backend circuit breaker. A backend with three
// failures inside five minutes is skipped for thirty seconds.
type HealthTracker struct {
	mu       sync.Mutex
	clock    clock.Clock
	backends map[string]*backendHealth
}

type backendHealth struct {
	failures    []time.Time
	unhealthyAt time.Time
	unhealthy   bool
}

func NewHealthTracker(clk clock.Clock) *HealthTracker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &HealthTracker{
		clock:    clk,
		backends: make(map[string]*backendHealth),
	}
}

func (h *HealthTracker) Healthy(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	bh, ok := h.backends[name]
	if !ok || !bh.unhealthy {
		return true
	}
	// Half-open once the cool-down elapsed; the next failure trips it again.
	if h.clock.Now().Sub(bh.unhealthyAt) >= healthUnhealthyPeriod {
		bh.unhealthy = false
		bh.failures = bh.failures[:0]
		return true
	}
	return false
}

func (h *HealthTracker) RecordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bh := h.getOrCreate(name)
	bh.unhealthy = false
	bh.failures = bh.failures[:0]
}

func (h *HealthTracker) RecordFailure(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bh := h.getOrCreate(name)
	if bh.unhealthy {
		return
	}

	now := h.clock.Now()
	cutoff := now.Add(-healthFailureWindow)
	valid := bh.failures[:0]
	for _, t := range bh.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	bh.failures = append(valid, now)

	if len(bh.failures) >= healthFailureThreshold {
		bh.unhealthy = true
		bh.unhealthyAt = now
	}
}

// Order returns healthy backends in priority order. When none is healthy
// the full list is returned so a request still gets a chance.
func (h *HealthTracker) Order(backends aidomain.Backends) aidomain.Backends {
	healthy := make(aidomain.Backends, 0, len(backends))
	for _, b := range backends {
		if h.Healthy(b.Name()) {
			healthy = append(healthy, b)
		}
	}
	if len(healthy) == 0 {
		return backends
	}
	return healthy
}

func (h *HealthTracker) getOrCreate(name string) *backendHealth {
	bh, ok := h.backends[name]
	if !ok {
		bh = &backendHealth{}
		h.backends[name] = bh
	}
	return bh
}
