// Package synthesizer converts a classified query plan into parameterized SQL
// against the curated dividend views. Queries are generated in a fixed
// fallback order per ticker; the structured gateway executes them until one
// returns rows.
package synthesizer

import (
	"fmt"

	"dividend-orchestrator/internal/classifier"
	"dividend-orchestrator/internal/common/errors"
)

// View names, ordered from richest to sparsest. The curated view carries
// amounts, dates and yield; the schedule view only forward-looking dates; the
// signals view derived indicators.
const (
	ViewDividendHistory  = "dividend_history_curated"
	ViewDividendSchedule = "dividend_schedule"
	ViewDividendSignals  = "dividend_signals"
)

const defaultRowLimit = 12

// Query is one parameterized statement against a single view. SQL never
// contains interpolated user input; the ticker travels in Args.
type Query struct {
	Source string
	SQL    string
	Args   []interface{}
}

// QuerySet holds the fallback-ordered queries for one candidate ticker.
type QuerySet struct {
	Ticker  string
	Queries []Query
}

// Synthesize builds one QuerySet per candidate ticker in the plan. It fails
// only when the plan asks for structured data without naming any instrument.
func Synthesize(plan classifier.QueryPlan) ([]QuerySet, error) {
	if !plan.HasIntent(classifier.IntentStructuredLookup) {
		return nil, nil
	}
	if len(plan.Tickers) == 0 {
		return nil, errors.NewValidationError(
			"cannot build a data query without a ticker symbol")
	}

	var sets []QuerySet
	seen := map[string]bool{}
	for _, raw := range plan.Tickers {
		for _, ticker := range classifier.CandidatesFor(raw) {
			if seen[ticker] {
				continue
			}
			seen[ticker] = true
			sets = append(sets, QuerySet{
				Ticker:  ticker,
				Queries: queriesFor(ticker),
			})
		}
	}
	return sets, nil
}

func queriesFor(ticker string) []Query {
	return []Query{
		{
			Source: ViewDividendHistory,
			SQL: fmt.Sprintf(`SELECT ticker, ex_date, pay_date, amount, currency, yield_pct
FROM %s
WHERE ticker = $1
ORDER BY ex_date DESC
LIMIT $2`, ViewDividendHistory),
			Args: []interface{}{ticker, defaultRowLimit},
		},
		{
			Source: ViewDividendSchedule,
			SQL: fmt.Sprintf(`SELECT ticker, ex_date, pay_date, frequency
FROM %s
WHERE ticker = $1
ORDER BY ex_date ASC
LIMIT $2`, ViewDividendSchedule),
			Args: []interface{}{ticker, defaultRowLimit},
		},
		{
			Source: ViewDividendSignals,
			SQL: fmt.Sprintf(`SELECT ticker, signal, value, as_of
FROM %s
WHERE ticker = $1
ORDER BY as_of DESC
LIMIT $2`, ViewDividendSignals),
			Args: []interface{}{ticker, defaultRowLimit},
		},
	}
}
