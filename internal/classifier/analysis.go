package classifier

import (
	"math"
	"strings"
)

// Recommendation categories for the analysis verdict. The aggregator frames a
// full answer with the same set, so the two surfaces never disagree on
// vocabulary.
const (
	RecommendAccumulate = "accumulate"
	RecommendHold       = "hold"
	RecommendMonitor    = "monitor"
	RecommendReduce     = "reduce"
)

// Impact levels for the analysis verdict.
const (
	ImpactHigh   = "high"
	ImpactMedium = "medium"
	ImpactLow    = "low"
)

// Analysis is the standalone text-analysis result: how relevant the text is
// to the dividend domain, its lexicon sentiment, the tickers it mentions, and
// the verdict derived from them.
type Analysis struct {
	RelevanceScore float64  `json:"relevance_score"`
	SentimentScore float64  `json:"sentiment_score"`
	TickersFound   []string `json:"tickers_found"`
	Intents        []string `json:"intents"`
	Tone           string   `json:"tone"`
	Verdict        Verdict  `json:"analysis"`
}

// Verdict is the framing derived from relevance and sentiment.
type Verdict struct {
	ImpactLevel        string `json:"impact_level"`
	Recommendation     string `json:"recommendation"`
	RequiresDisclaimer bool   `json:"requires_disclaimer"`
}

var positiveWords = []string{
	"growth", "increase", "increased", "raise", "raised", "strong",
	"beat", "record", "consistent", "reliable", "stable", "safe",
	"great", "good", "bullish", "upside", "outperform",
}

var negativeWords = []string{
	"cut", "cuts", "suspend", "suspended", "decline", "declined",
	"miss", "missed", "weak", "risky", "bearish", "downside", "drop",
	"dropped", "loss", "losses", "bad", "underperform",
}

// Analyze runs classification plus relevance and sentiment scoring over a
// single text and derives the verdict.
func Analyze(text string) Analysis {
	plan := Classify(text, nil)

	intents := make([]string, 0, len(plan.Intents))
	for _, i := range plan.Intents {
		intents = append(intents, i.String())
	}

	sentiment := SentimentScore(text)
	relevance := RelevanceScore(text)

	return Analysis{
		RelevanceScore: relevance,
		SentimentScore: sentiment,
		TickersFound:   plan.Tickers,
		Intents:        intents,
		Tone:           toneFor(sentiment),
		Verdict: Verdict{
			ImpactLevel:        impactLevel(relevance, sentiment),
			Recommendation:     recommendationFor(plan, sentiment),
			RequiresDisclaimer: plan.RequiresDisclaimer,
		},
	}
}

// SentimentScore returns a value in [-1, 1]: the balance of positive versus
// negative lexicon hits, normalized by total hits. Zero hits scores neutral.
func SentimentScore(text string) float64 {
	lower := strings.ToLower(text)

	var pos, neg int
	for _, w := range positiveWords {
		pos += strings.Count(lower, w)
	}
	for _, w := range negativeWords {
		neg += strings.Count(lower, w)
	}

	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}

// RelevanceScore measures dividend-vocabulary density in [0, 1]: keyword
// hits per word, with a bump when the text names an instrument.
func RelevanceScore(text string) float64 {
	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))
	if words == 0 {
		return 0
	}

	var hits int
	for _, kw := range dividendKeywords {
		hits += strings.Count(lower, kw)
	}

	score := 3 * float64(hits) / float64(words)
	if len(ExtractTickers(text)) > 0 {
		score += 0.2
	}
	return math.Min(1, score)
}

func toneFor(score float64) string {
	switch {
	case score > 0.2:
		return "positive"
	case score < -0.2:
		return "negative"
	default:
		return "neutral"
	}
}

func impactLevel(relevance, sentiment float64) string {
	magnitude := math.Abs(sentiment)
	switch {
	case relevance >= 0.5 && magnitude >= 0.5:
		return ImpactHigh
	case relevance >= 0.3 || magnitude > 0.2:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// recommendationFor maps sentiment language onto the fixed category set:
// cut/suspend language reads as reduce, increase language around a named
// instrument as accumulate.
func recommendationFor(plan QueryPlan, sentiment float64) string {
	switch {
	case sentiment < -0.2:
		return RecommendReduce
	case sentiment > 0.2 && len(plan.Tickers) > 0:
		return RecommendAccumulate
	case sentiment > 0.2:
		return RecommendMonitor
	default:
		return RecommendHold
	}
}
