// Package health runs the background probe loop. Each tick it probes every
// backend and feeds the outcomes straight into the circuit breakers, so an
// open circuit can recover without waiting for user traffic to volunteer as
// the half-open probe.
package health

import (
	"context"
	"sync"
	"time"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/logger"
	"dividend-orchestrator/internal/gateway"
	"dividend-orchestrator/internal/resilience"
)

// Monitor probes gateways on a fixed interval.
type Monitor struct {
	gateways []gateway.Gateway
	svc      *resilience.Service
	interval time.Duration
	timeout  time.Duration
	log      logger.Logger

	mu         sync.RWMutex
	lastPass   map[string]ProbeStatus
	lastPassAt time.Time
}

// ProbeStatus is the most recent probe outcome for one backend.
type ProbeStatus struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

func NewMonitor(cfg config.HealthConfig, gateways []gateway.Gateway, svc *resilience.Service, log logger.Logger) *Monitor {
	return &Monitor{
		gateways: gateways,
		svc:      svc,
		interval: cfg.ProbeIntervalDuration(),
		timeout:  cfg.ProbeTimeoutDuration(),
		log:      log.With(map[string]interface{}{"component": "health"}),
		lastPass: make(map[string]ProbeStatus),
	}
}

// Run blocks until ctx is canceled, probing every interval. The first pass
// runs immediately so health state is populated before the first request.
func (m *Monitor) Run(ctx context.Context) {
	m.runOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, gw := range m.gateways {
		wg.Add(1)
		go func(gw gateway.Gateway) {
			defer wg.Done()
			m.probe(ctx, gw)
		}(gw)
	}
	wg.Wait()

	m.mu.Lock()
	m.lastPassAt = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Monitor) probe(ctx context.Context, gw gateway.Gateway) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := gw.Probe(probeCtx)
	status := ProbeStatus{
		Healthy:   err == nil,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
		m.log.Warn("Backend probe failed", map[string]interface{}{
			"backend": gw.ID(),
			"error":   err.Error(),
		})
	}

	m.mu.Lock()
	m.lastPass[gw.ID()] = status
	m.mu.Unlock()

	m.applyToBreaker(gw.ID(), err == nil)
}

// applyToBreaker feeds the probe outcome into the breaker. Probe failures
// count against the same threshold as request-path failures, and a healthy
// probe closes an open circuit immediately, without waiting out the cooldown.
func (m *Monitor) applyToBreaker(backendID string, healthy bool) {
	if breaker := m.svc.Breaker(backendID); breaker != nil {
		breaker.ProbeOutcome(healthy)
	}
}

// LastPassAt returns when the most recent probe pass completed, or the zero
// time before the first pass finishes.
func (m *Monitor) LastPassAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPassAt
}

// LastPass returns a snapshot of the most recent probe outcomes.
func (m *Monitor) LastPass() map[string]ProbeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ProbeStatus, len(m.lastPass))
	for k, v := range m.lastPass {
		out[k] = v
	}
	return out
}
