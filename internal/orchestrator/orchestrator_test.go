package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividend-orchestrator/internal/classifier"
	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
	"dividend-orchestrator/internal/gateway"
	"dividend-orchestrator/internal/resilience"
	"dividend-orchestrator/internal/stream"
	"dividend-orchestrator/internal/synthesizer"
)

type stubGateway struct {
	id     string
	source string
	err    error
	calls  int
}

func (s *stubGateway) ID() string                          { return s.id }
func (s *stubGateway) Cacheable() bool                     { return false }
func (s *stubGateway) Probe(ctx context.Context) error     { return nil }
func (s *stubGateway) Fetch(ctx context.Context, req *gateway.Request) (*gateway.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &gateway.Result{
		Source:  s.source,
		Payload: json.RawMessage(`{"rows":[{"ticker":"KO"}]}`),
	}, nil
}

type stubGenerator struct {
	tokens []string
	err    error
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string, findings json.RawMessage) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tokens, nil
}

func newFixture(t *testing.T, gen Generator, gateways ...gateway.Gateway) *Orchestrator {
	t.Helper()

	backends := map[string]config.BackendConfig{}
	for _, id := range config.KnownBackends {
		backends[id] = config.BackendConfig{
			Timeout: 1000, MaxAttempts: 1, RateCapacity: 100, RateRefill: 100,
		}
	}
	cfg := &config.Config{
		Server:   config.ServerConfig{RequestDeadline: 5000},
		Backends: backends,
		Resilience: config.ResilienceConfig{
			FailureThreshold: 5, Cooldown: 60000, RateWait: 100,
			BackoffBase: 1, BackoffCap: 2,
		},
	}
	svc := resilience.NewService(cfg, nil, logger.NewTestLogger(t), nil)
	return New(cfg, svc, gateways, gen, logger.NewTestLogger(t), nil)
}

func userMessage(text string) *ChatRequest {
	return &ChatRequest{Messages: []classifier.Message{{Role: "user", Content: text}}}
}

func userMessageWithRawData(text string) *ChatRequest {
	req := userMessage(text)
	req.IncludeRawData = true
	return req
}

func kinds(events []stream.Event) []stream.Kind {
	out := make([]stream.Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestRespondHappyPathOrdering(t *testing.T) {
	structured := &stubGateway{id: config.BackendStructured, source: synthesizer.ViewDividendHistory}
	market := &stubGateway{id: config.BackendMarketData, source: config.BackendMarketData}
	o := newFixture(t, &stubGenerator{tokens: []string{"KO ", "pays quarterly."}}, structured, market)

	sink := stream.NewBufferSink()
	err := o.Respond(context.Background(), userMessageWithRawData("what is the dividend yield for (NYSE:KO)?"), stream.NewEmitter(sink))
	require.NoError(t, err)

	events := sink.Events()
	assert.Equal(t, []stream.Kind{
		stream.KindDataBlock, // dividend_history_curated
		stream.KindDataBlock, // market_data
		stream.KindToken,
		stream.KindToken,
		stream.KindToken, // disclaimer
		stream.KindDone,
	}, kinds(events))

	for i, e := range events {
		assert.Equal(t, i+1, e.Sequence)
	}

	// Curated view outranks the live quote regardless of completion order.
	var first struct {
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &first))
	assert.Equal(t, synthesizer.ViewDividendHistory, first.Source)

	assert.Equal(t, 1, structured.calls)
	assert.Equal(t, 1, market.calls)
}

func TestRespondGenerationFailureDegradesToTemplate(t *testing.T) {
	structured := &stubGateway{id: config.BackendStructured, source: synthesizer.ViewDividendHistory}
	market := &stubGateway{id: config.BackendMarketData, source: config.BackendMarketData}
	o := newFixture(t, &stubGenerator{err: errors.NewTransientBackendError("generation", assert.AnError)},
		structured, market)

	sink := stream.NewBufferSink()
	err := o.Respond(context.Background(), userMessage("dividend history for (NYSE:KO)"), stream.NewEmitter(sink))
	require.NoError(t, err, "generation failure must not fail the request")

	events := sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, stream.KindDone, events[len(events)-1].Kind)

	var sawToken bool
	for _, e := range events {
		if e.Kind == stream.KindToken {
			sawToken = true
		}
	}
	assert.True(t, sawToken, "fallback narrative must still produce tokens")
}

func TestRespondConversationalSkipsBackends(t *testing.T) {
	structured := &stubGateway{id: config.BackendStructured, source: synthesizer.ViewDividendHistory}
	o := newFixture(t, &stubGenerator{tokens: []string{"Hi! Ask me about dividends."}}, structured)

	sink := stream.NewBufferSink()
	err := o.Respond(context.Background(), userMessage("hello there"), stream.NewEmitter(sink))
	require.NoError(t, err)

	assert.Equal(t, 0, structured.calls)
	assert.Equal(t, []stream.Kind{stream.KindToken, stream.KindDone}, kinds(sink.Events()))
}

func TestRespondAllSourcesFailedIsHardFailure(t *testing.T) {
	structured := &stubGateway{
		id:  config.BackendStructured,
		err: errors.NewPermanentBackendError(config.BackendStructured, "broken"),
	}
	market := &stubGateway{
		id:  config.BackendMarketData,
		err: errors.NewPermanentBackendError(config.BackendMarketData, "broken"),
	}
	o := newFixture(t, &stubGenerator{tokens: []string{"unused"}}, structured, market)

	sink := stream.NewBufferSink()
	err := o.Respond(context.Background(), userMessage("dividend yield for (NYSE:KO)?"), stream.NewEmitter(sink))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAnalysisFailed, errors.CodeOf(err))
	assert.Empty(t, sink.Events(), "nothing is emitted when analysis fails outright")
}

func TestRespondPartialFailureDegrades(t *testing.T) {
	structured := &stubGateway{id: config.BackendStructured, source: synthesizer.ViewDividendHistory}
	market := &stubGateway{
		id:  config.BackendMarketData,
		err: errors.NewCircuitOpenError(config.BackendMarketData),
	}
	o := newFixture(t, &stubGenerator{tokens: []string{"partial answer"}}, structured, market)

	sink := stream.NewBufferSink()
	err := o.Respond(context.Background(), userMessageWithRawData("dividend yield for (NYSE:KO)?"), stream.NewEmitter(sink))
	require.NoError(t, err)

	events := sink.Events()
	assert.Equal(t, stream.KindDataBlock, events[0].Kind)
	assert.Equal(t, stream.KindDone, events[len(events)-1].Kind)
}

func TestRespondOmitsRawDataByDefault(t *testing.T) {
	structured := &stubGateway{id: config.BackendStructured, source: synthesizer.ViewDividendHistory}
	market := &stubGateway{id: config.BackendMarketData, source: config.BackendMarketData}
	o := newFixture(t, &stubGenerator{tokens: []string{"KO ", "pays quarterly."}}, structured, market)

	sink := stream.NewBufferSink()
	err := o.Respond(context.Background(), userMessage("what is the dividend yield for (NYSE:KO)?"), stream.NewEmitter(sink))
	require.NoError(t, err)

	events := sink.Events()
	for _, e := range events {
		assert.NotEqual(t, stream.KindDataBlock, e.Kind, "raw data must be opt-in")
	}
	assert.Equal(t, []stream.Kind{
		stream.KindToken,
		stream.KindToken,
		stream.KindToken, // disclaimer
		stream.KindDone,
	}, kinds(events))

	// The backends are still consulted; only the emission is gated.
	assert.Equal(t, 1, structured.calls)
	assert.Equal(t, 1, market.calls)
}

func TestRespondValidation(t *testing.T) {
	o := newFixture(t, &stubGenerator{tokens: []string{"x"}})

	err := o.Respond(context.Background(), &ChatRequest{}, stream.NewEmitter(stream.NewBufferSink()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	err = o.Respond(context.Background(), &ChatRequest{
		Messages: []classifier.Message{{Role: "assistant", Content: "hi"}},
	}, stream.NewEmitter(stream.NewBufferSink()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}
