package aggregator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/gateway"
	"dividend-orchestrator/internal/synthesizer"
)

func ok(backend, source string, payload string) SourceResult {
	return SourceResult{
		Backend: backend,
		Result: &gateway.Result{
			Source:  source,
			Payload: json.RawMessage(payload),
		},
	}
}

func TestAggregateOrdersByPriorityNotArrival(t *testing.T) {
	// Deliberately delivered in reverse authority order.
	results := []SourceResult{
		ok(config.BackendWebSearch, config.BackendWebSearch, `{"results":[]}`),
		ok(config.BackendSentiment, config.BackendSentiment, `{"average_score":0.1}`),
		ok(config.BackendMarketData, config.BackendMarketData, `{"price":60.1}`),
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
	}

	agg, err := Aggregate("KO", results)
	require.NoError(t, err)

	sources := make([]string, 0, len(agg.Findings))
	for _, f := range agg.Findings {
		sources = append(sources, f.Source)
	}
	assert.Equal(t, []string{
		synthesizer.ViewDividendHistory,
		config.BackendMarketData,
		config.BackendSentiment,
		config.BackendWebSearch,
	}, sources)
}

func TestAggregateAllFailedIsAnalysisFailed(t *testing.T) {
	results := []SourceResult{
		{Backend: config.BackendStructured, Err: errors.NewTransientBackendError(config.BackendStructured, assert.AnError)},
		{Backend: config.BackendWebSearch, Err: errors.NewPermanentBackendError(config.BackendWebSearch, "bad")},
	}

	_, err := Aggregate("KO", results)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAnalysisFailed, errors.CodeOf(err))
}

func TestAggregateSkipsDegradeInsteadOfFailing(t *testing.T) {
	results := []SourceResult{
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
		{Backend: config.BackendSentiment, Err: errors.NewCircuitOpenError(config.BackendSentiment)},
		{Backend: config.BackendPrediction, Err: errors.NewRateLimitExceededError(config.BackendPrediction)},
	}

	agg, err := Aggregate("KO", results)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{config.BackendSentiment, config.BackendPrediction}, agg.Degraded)
	assert.Empty(t, agg.Failed)
	assert.Equal(t, RecommendMonitor, agg.Recommendation)
}

func TestAggregateConfidenceBounds(t *testing.T) {
	// Worst case: one success from cache plus many skips stays >= 0.
	worst := []SourceResult{
		{Backend: config.BackendStructured, Result: &gateway.Result{
			Source:  synthesizer.ViewDividendSignals,
			Payload: json.RawMessage(`{}`),
			Cached:  true,
		}},
		{Backend: "a", Err: errors.NewCircuitOpenError("a")},
		{Backend: "b", Err: errors.NewCircuitOpenError("b")},
		{Backend: "c", Err: errors.NewCircuitOpenError("c")},
		{Backend: "d", Err: errors.NewCircuitOpenError("d")},
		{Backend: "e", Err: errors.NewCircuitOpenError("e")},
	}
	agg, err := Aggregate("KO", worst)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, agg.Confidence, 0.0)
	assert.LessOrEqual(t, agg.Confidence, 1.0)

	// Best case: broad corroborated coverage stays <= 1.
	best := []SourceResult{
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
		ok(config.BackendMarketData, config.BackendMarketData, `{"price":60.1}`),
		ok(config.BackendSentiment, config.BackendSentiment, `{"average_score":0.5}`),
		ok(config.BackendPrediction, config.BackendPrediction, `{"model_confidence":0.8}`),
	}
	agg, err = Aggregate("KO", best)
	require.NoError(t, err)
	assert.LessOrEqual(t, agg.Confidence, 1.0)
	assert.Greater(t, agg.Confidence, 0.9)
}

func TestAggregateDeterministicForSameResults(t *testing.T) {
	results := []SourceResult{
		ok(config.BackendSentiment, config.BackendSentiment, `{"average_score":0.3}`),
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
	}
	reversed := []SourceResult{results[1], results[0]}

	a, err := Aggregate("KO", results)
	require.NoError(t, err)
	b, err := Aggregate("KO", reversed)
	require.NoError(t, err)

	assert.Equal(t, a.Confidence, b.Confidence)
	assert.Equal(t, a.Recommendation, b.Recommendation)
	assert.Equal(t, a.Findings, b.Findings)
}

func TestRecommendationCategories(t *testing.T) {
	positive := []SourceResult{
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
		ok(config.BackendSentiment, config.BackendSentiment, `{"average_score":0.6}`),
	}
	agg, err := Aggregate("KO", positive)
	require.NoError(t, err)
	assert.Equal(t, RecommendAccumulate, agg.Recommendation)

	negative := []SourceResult{
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
		ok(config.BackendSentiment, config.BackendSentiment, `{"average_score":-0.6}`),
	}
	agg, err = Aggregate("KO", negative)
	require.NoError(t, err)
	assert.Equal(t, RecommendReduce, agg.Recommendation)

	neutral := []SourceResult{
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
	}
	agg, err = Aggregate("KO", neutral)
	require.NoError(t, err)
	assert.Equal(t, RecommendHold, agg.Recommendation)
}

func TestAggregateNegativeSentimentBlocksCorroboration(t *testing.T) {
	contradicted := []SourceResult{
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
		ok(config.BackendSentiment, config.BackendSentiment, `{"average_score":-0.8}`),
	}
	aligned := []SourceResult{
		ok(config.BackendStructured, synthesizer.ViewDividendHistory, `{"rows":[{}]}`),
		ok(config.BackendSentiment, config.BackendSentiment, `{"average_score":0.8}`),
	}

	a, err := Aggregate("KO", contradicted)
	require.NoError(t, err)
	b, err := Aggregate("KO", aligned)
	require.NoError(t, err)

	assert.Less(t, a.Confidence, b.Confidence)
}
