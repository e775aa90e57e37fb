// Package aggregator merges the fan-out results from the backend sources into
// one ranked answer with a confidence score. Ordering is by source authority,
// never by arrival time, so the same set of results always aggregates
// identically.
package aggregator

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"dividend-orchestrator/internal/classifier"
	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/gateway"
	"dividend-orchestrator/internal/synthesizer"
)

// sourcePriority ranks sources by authority; lower is more trusted. Curated
// database views outrank live quotes, which outrank derived and external
// sources.
var sourcePriority = map[string]int{
	synthesizer.ViewDividendHistory:  0,
	synthesizer.ViewDividendSchedule: 1,
	synthesizer.ViewDividendSignals:  2,
	config.BackendMarketData:         3,
	config.BackendSentiment:          4,
	config.BackendPrediction:         5,
	config.BackendWebSearch:          6,
}

const unknownSourcePriority = 100

// SourceResult is one source's outcome from the fan-out.
type SourceResult struct {
	Backend string
	Result  *gateway.Result
	Err     error
}

// Finding is one successful source's contribution, in priority order.
type Finding struct {
	Source         string          `json:"source"`
	Payload        json.RawMessage `json:"payload"`
	Cached         bool            `json:"cached"`
	ConfidenceHint float64         `json:"confidence_hint"`
}

// Aggregated is the merged answer handed to the narrative layer.
type Aggregated struct {
	Ticker         string    `json:"ticker"`
	Findings       []Finding `json:"findings"`
	Confidence     float64   `json:"confidence"`
	Recommendation string    `json:"recommendation"`
	Degraded       []string  `json:"degraded,omitempty"`
	Failed         []string  `json:"failed,omitempty"`
}

// Recommendation categories, shared with the standalone analysis verdict.
// The orchestrator frames these as observations, never as advice.
const (
	RecommendAccumulate = classifier.RecommendAccumulate
	RecommendHold       = classifier.RecommendHold
	RecommendMonitor    = classifier.RecommendMonitor
	RecommendReduce     = classifier.RecommendReduce
)

// Aggregate merges fan-out results. It fails only when every dispatched
// source failed outright; skipped sources (open circuits, exhausted rate
// budgets) degrade the answer instead.
func Aggregate(ticker string, results []SourceResult) (*Aggregated, error) {
	agg := &Aggregated{Ticker: ticker}

	var successes, failures, skips int
	for _, r := range results {
		switch {
		case r.Err == nil && r.Result != nil:
			successes++
			agg.Findings = append(agg.Findings, Finding{
				Source:         r.Result.Source,
				Payload:        r.Result.Payload,
				Cached:         r.Result.Cached,
				ConfidenceHint: r.Result.ConfidenceHint,
			})
		case errors.IsSkipped(r.Err):
			skips++
			agg.Degraded = append(agg.Degraded, r.Backend)
		default:
			failures++
			agg.Failed = append(agg.Failed, r.Backend)
		}
	}

	if successes == 0 && len(results) > 0 {
		return nil, errors.NewAnalysisFailedError("no data source produced a result")
	}

	sort.SliceStable(agg.Findings, func(i, j int) bool {
		return priorityOf(agg.Findings[i].Source) < priorityOf(agg.Findings[j].Source)
	})
	sort.Strings(agg.Degraded)
	sort.Strings(agg.Failed)

	agg.Confidence = confidence(agg.Findings, successes, failures, skips)
	agg.Recommendation = recommend(agg)
	return agg, nil
}

// confidence combines coverage, corroboration, and degradation into [0, 1]:
// a base of 0.35, up to 0.45 for source coverage, 0.15 when independent
// sources corroborate, minus penalties for skipped and failed sources and
// for a primary finding that came from cache rather than a live read.
func confidence(findings []Finding, successes, failures, skips int) float64 {
	score := 0.35
	score += 0.15 * math.Min(float64(successes), 3)
	if corroborated(findings) {
		score += 0.15
	}
	score -= 0.10 * float64(skips)
	score -= 0.05 * float64(failures)
	if len(findings) > 0 && findings[0].Cached {
		score -= 0.05
	}
	return math.Max(0, math.Min(1, score))
}

// corroborated reports whether at least two independent sources succeeded
// and the sentiment source, when present, does not contradict the rest.
func corroborated(findings []Finding) bool {
	if len(findings) < 2 {
		return false
	}
	for _, f := range findings {
		if f.Source != config.BackendSentiment {
			continue
		}
		if score, ok := sentimentScore(f.Payload); ok && score < -0.3 {
			return false
		}
	}
	return true
}

func recommend(agg *Aggregated) string {
	sentiment, hasSentiment := findingSentiment(agg.Findings)
	hasStructured := false
	for _, f := range agg.Findings {
		if strings.HasPrefix(f.Source, "dividend_") {
			hasStructured = true
			break
		}
	}

	switch {
	case hasSentiment && sentiment < -0.2:
		return RecommendReduce
	case len(agg.Degraded) > 0 || len(agg.Failed) > 0:
		return RecommendMonitor
	case hasStructured && hasSentiment && sentiment > 0.2:
		return RecommendAccumulate
	default:
		return RecommendHold
	}
}

func findingSentiment(findings []Finding) (float64, bool) {
	for _, f := range findings {
		if f.Source == config.BackendSentiment {
			return sentimentScore(f.Payload)
		}
	}
	return 0, false
}

func sentimentScore(payload json.RawMessage) (float64, bool) {
	var parsed struct {
		AverageScore *float64 `json:"average_score"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil || parsed.AverageScore == nil {
		return 0, false
	}
	return *parsed.AverageScore, true
}

func priorityOf(source string) int {
	if p, ok := sourcePriority[source]; ok {
		return p
	}
	return unknownSourcePriority
}
