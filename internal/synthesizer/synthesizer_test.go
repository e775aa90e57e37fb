package synthesizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividend-orchestrator/internal/classifier"
	"dividend-orchestrator/internal/common/errors"
)

func TestSynthesizeFallbackOrder(t *testing.T) {
	plan := classifier.Classify("dividend history for (ARCX:NVDY)", nil)

	sets, err := Synthesize(plan)
	require.NoError(t, err)
	require.Len(t, sets, 1)

	set := sets[0]
	assert.Equal(t, "NVDY", set.Ticker)
	require.Len(t, set.Queries, 3)
	assert.Equal(t, ViewDividendHistory, set.Queries[0].Source)
	assert.Equal(t, ViewDividendSchedule, set.Queries[1].Source)
	assert.Equal(t, ViewDividendSignals, set.Queries[2].Source)

	for _, q := range set.Queries {
		assert.Equal(t, []interface{}{"NVDY", defaultRowLimit}, q.Args)
		assert.NotContains(t, q.SQL, "NVDY", "ticker must travel as a bind argument")
	}
}

func TestSynthesizeAmbiguousAliasFansOut(t *testing.T) {
	plan := classifier.Classify("what is alphabet's dividend yield?", nil)

	sets, err := Synthesize(plan)
	require.NoError(t, err)

	tickers := make([]string, 0, len(sets))
	for _, s := range sets {
		tickers = append(tickers, s.Ticker)
	}
	assert.Contains(t, tickers, "GOOGL")
	assert.Contains(t, tickers, "GOOG")
}

func TestSynthesizeNoTickerIsValidationError(t *testing.T) {
	plan := classifier.QueryPlan{
		RawText: "what is the dividend yield?",
		Intents: []classifier.Intent{classifier.IntentStructuredLookup},
	}

	_, err := Synthesize(plan)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}

func TestSynthesizeSkipsNonStructuredPlans(t *testing.T) {
	plan := classifier.Classify("hello there", nil)

	sets, err := Synthesize(plan)
	require.NoError(t, err)
	assert.Empty(t, sets)
}
