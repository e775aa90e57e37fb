// Package classifier turns raw user text plus recent conversation history
// into a QueryPlan: the ordered set of intents, extracted tickers, and routing
// flags consumed by the rest of the pipeline. Classification is a pure
// function of its inputs and never fails; anything it cannot place gets the
// conversational intent as a safe default.
package classifier

import (
	"regexp"
	"strings"
)

// Intent identifies a class of backend work. The dispatcher switches over
// this type exhaustively, so adding a backend means adding a case there.
type Intent int

const (
	IntentConversational Intent = iota
	IntentStructuredLookup
	IntentPrediction
	IntentSentiment
	IntentWebFallback
)

func (i Intent) String() string {
	switch i {
	case IntentConversational:
		return "conversational"
	case IntentStructuredLookup:
		return "structured_lookup"
	case IntentPrediction:
		return "prediction"
	case IntentSentiment:
		return "sentiment"
	case IntentWebFallback:
		return "web_fallback"
	default:
		return "unknown"
	}
}

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryPlan is the immutable classification result for one request.
type QueryPlan struct {
	RawText            string
	Intents            []Intent
	Tickers            []string
	RequiresDisclaimer bool
}

// HasIntent reports whether the plan contains the given intent.
func (p QueryPlan) HasIntent(intent Intent) bool {
	for _, i := range p.Intents {
		if i == intent {
			return true
		}
	}
	return false
}

// historyCharBudget bounds how much conversation history is scanned when the
// current message carries no ticker of its own.
const historyCharBudget = 2000

var (
	// An exchange-qualified symbol like (ARCX:NVDY) names the instrument
	// precisely; when one is present, bare uppercase tokens are ignored.
	exchangeTickerRe = regexp.MustCompile(`\(([A-Z]{2,8}):([A-Z]{1,5})\)`)
	bareTickerRe     = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
)

// tickerStopwords are all-caps tokens that look like symbols but aren't.
var tickerStopwords = map[string]bool{
	"A": true, "I": true, "AM": true, "PM": true, "OK": true, "US": true,
	"USA": true, "UK": true, "CEO": true, "CFO": true, "ETF": true,
	"IPO": true, "EPS": true, "PE": true, "AI": true, "FAQ": true,
	"NYSE": true, "ARCA": true, "ARCX": true, "DIV": true, "YTD": true,
	"USD": true, "Q": true, "REIT": true, "API": true,
}

// companyAliases maps well-known company names to their symbols. Entries with
// more than one symbol are genuinely ambiguous; the synthesizer queries every
// candidate and the aggregator's confidence scoring picks the winner.
var companyAliases = map[string][]string{
	"apple":      {"AAPL"},
	"microsoft":  {"MSFT"},
	"nvidia":     {"NVDA"},
	"amazon":     {"AMZN"},
	"tesla":      {"TSLA"},
	"alphabet":   {"GOOGL", "GOOG"},
	"google":     {"GOOGL", "GOOG"},
	"meta":       {"META"},
	"coca-cola":  {"KO"},
	"coca cola":  {"KO"},
	"johnson & johnson": {"JNJ"},
	"exxon":      {"XOM"},
	"chevron":    {"CVX"},
	"verizon":    {"VZ"},
	"realty income":    {"O"},
	"altria":     {"MO"},
	"at&t":       {"T"},
}

var dividendKeywords = []string{
	"dividend", "dividends", "yield", "payout", "ex-date", "ex date",
	"distribution", "distributions", "declared", "payment history",
	"record date", "pay date",
}

var predictionKeywords = []string{
	"forecast", "predict", "prediction", "projection", "will it pay",
	"next payout", "expected", "outlook for next",
}

var sentimentKeywords = []string{
	"sentiment", "news", "headline", "headlines", "buzz", "opinion",
	"how is the market feeling",
}

var marketKeywords = []string{
	"price", "quote", "trading at", "market cap", "share price",
}

var adviceKeywords = []string{
	"should i", "buy", "sell", "invest", "worth holding", "recommend",
}

// Classify maps raw text plus bounded conversation history to a QueryPlan.
func Classify(rawText string, history []Message) QueryPlan {
	lower := strings.ToLower(rawText)

	tickers := ExtractTickers(rawText)
	if len(tickers) == 0 {
		tickers = tickersFromHistory(history)
	}

	webForced := strings.HasPrefix(strings.TrimSpace(rawText), "/web") ||
		strings.Contains(lower, "search the web") ||
		strings.Contains(lower, "search online")

	wantsDividends := containsAny(lower, dividendKeywords)
	wantsPrediction := containsAny(lower, predictionKeywords)
	wantsSentiment := containsAny(lower, sentimentKeywords)
	wantsMarket := containsAny(lower, marketKeywords)
	wantsAdvice := containsAny(lower, adviceKeywords)

	// Intents assemble in a fixed order so plans are deterministic for the
	// same input regardless of which keyword matched first.
	var intents []Intent
	if len(tickers) > 0 && (wantsDividends || wantsMarket || wantsAdvice) {
		intents = append(intents, IntentStructuredLookup)
	}
	if len(tickers) > 0 && wantsPrediction {
		intents = append(intents, IntentPrediction)
	}
	if len(tickers) > 0 && wantsSentiment {
		intents = append(intents, IntentSentiment)
	}
	if webForced {
		intents = append(intents, IntentWebFallback)
	}

	if len(intents) == 0 {
		intents = []Intent{IntentConversational}
	}

	return QueryPlan{
		RawText:            rawText,
		Intents:            intents,
		Tickers:            tickers,
		RequiresDisclaimer: wantsDividends || wantsAdvice,
	}
}

// ExtractTickers pulls ticker symbols out of free-form text. An
// exchange-qualified form like (ARCX:NVDY) takes precedence over bare
// uppercase tokens, which are noisy in fund names.
func ExtractTickers(text string) []string {
	var out []string
	seen := map[string]bool{}

	add := func(sym string) {
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}

	if matches := exchangeTickerRe.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		for _, m := range matches {
			add(m[2])
		}
		return out
	}

	for _, tok := range bareTickerRe.FindAllString(text, -1) {
		if !tickerStopwords[tok] {
			add(tok)
		}
	}

	lower := strings.ToLower(text)
	for alias, symbols := range companyAliases {
		if strings.Contains(lower, alias) {
			for _, sym := range symbols {
				add(sym)
			}
		}
	}

	return out
}

// CandidatesFor returns every symbol a raw token could mean. Unambiguous
// tickers map to themselves.
func CandidatesFor(ticker string) []string {
	if symbols, ok := companyAliases[strings.ToLower(ticker)]; ok {
		return symbols
	}
	return []string{ticker}
}

func tickersFromHistory(history []Message) []string {
	// Walk backwards within the character budget; most recent mention wins.
	budget := historyCharBudget
	for i := len(history) - 1; i >= 0 && budget > 0; i-- {
		msg := history[i]
		budget -= len(msg.Content)
		if tickers := ExtractTickers(msg.Content); len(tickers) > 0 {
			return tickers
		}
	}
	return nil
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
