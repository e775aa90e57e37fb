package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
	"dividend-orchestrator/internal/gateway"
	"dividend-orchestrator/internal/resilience"
)

type probeGateway struct {
	id       string
	probeErr error
}

func (p *probeGateway) ID() string      { return p.id }
func (p *probeGateway) Cacheable() bool { return false }
func (p *probeGateway) Probe(ctx context.Context) error {
	return p.probeErr
}
func (p *probeGateway) Fetch(ctx context.Context, req *gateway.Request) (*gateway.Result, error) {
	return nil, errors.NewPermanentBackendError(p.id, "not used in probes")
}

func newMonitorFixture(t *testing.T, gateways ...gateway.Gateway) (*Monitor, *resilience.Service) {
	t.Helper()

	backends := map[string]config.BackendConfig{}
	for _, gw := range gateways {
		backends[gw.ID()] = config.BackendConfig{
			Timeout: 1000, MaxAttempts: 1, RateCapacity: 10, RateRefill: 10,
		}
	}
	svc := resilience.NewService(&config.Config{
		Backends: backends,
		Resilience: config.ResilienceConfig{
			FailureThreshold: 1,
			Cooldown:         60000, // probes close circuits without waiting this out
			RateWait:         100,
			BackoffBase:      1,
			BackoffCap:       2,
		},
	}, nil, logger.NewTestLogger(t), nil)

	m := NewMonitor(config.HealthConfig{ProbeInterval: 60000, ProbeTimeout: 1000},
		gateways, svc, logger.NewTestLogger(t))
	return m, svc
}

func TestMonitorRecordsProbeOutcomes(t *testing.T) {
	healthy := &probeGateway{id: "market_data"}
	sick := &probeGateway{id: "sentiment", probeErr: errors.NewTransientBackendError("sentiment", assert.AnError)}

	m, _ := newMonitorFixture(t, healthy, sick)
	m.runOnce(context.Background())

	pass := m.LastPass()
	require.Len(t, pass, 2)
	assert.True(t, pass["market_data"].Healthy)
	assert.False(t, pass["sentiment"].Healthy)
	assert.NotEmpty(t, pass["sentiment"].Error)
	assert.False(t, pass["market_data"].CheckedAt.IsZero())
	assert.False(t, m.LastPassAt().IsZero())
}

func TestMonitorRecoversOpenBreaker(t *testing.T) {
	gw := &probeGateway{id: "market_data"}
	m, svc := newMonitorFixture(t, gw)

	breaker := svc.Breaker("market_data")
	breaker.RecordFailure()
	require.Equal(t, resilience.StateOpen, breaker.State())

	m.runOnce(context.Background())
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestMonitorFailedProbeKeepsBreakerOpen(t *testing.T) {
	gw := &probeGateway{id: "market_data", probeErr: errors.NewTransientBackendError("market_data", assert.AnError)}
	m, svc := newMonitorFixture(t, gw)

	breaker := svc.Breaker("market_data")
	breaker.RecordFailure()
	require.Equal(t, resilience.StateOpen, breaker.State())

	m.runOnce(context.Background())
	assert.Equal(t, resilience.StateOpen, breaker.State())
}

func TestMonitorUnhealthyProbeOpensClosedBreakerAtThreshold(t *testing.T) {
	gw := &probeGateway{id: "market_data", probeErr: errors.NewTransientBackendError("market_data", assert.AnError)}
	m, svc := newMonitorFixture(t, gw)

	require.Equal(t, resilience.StateClosed, svc.Breaker("market_data").State())
	m.runOnce(context.Background())
	assert.Equal(t, resilience.StateOpen, svc.Breaker("market_data").State())
}
