// Package orchestrator ties the pipeline together: classify the message,
// synthesize queries, fan out to the backends through the resilience
// envelope, aggregate, and emit the answer as an ordered stream.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"dividend-orchestrator/internal/aggregator"
	"dividend-orchestrator/internal/classifier"
	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
	"dividend-orchestrator/internal/common/observability"
	"dividend-orchestrator/internal/gateway"
	"dividend-orchestrator/internal/resilience"
	"dividend-orchestrator/internal/stream"
	"dividend-orchestrator/internal/synthesizer"
)

const disclaimerText = "This information is for educational purposes only and is not investment advice."

// Generator produces conversational prose from aggregated findings.
type Generator interface {
	Generate(ctx context.Context, prompt string, findings json.RawMessage) ([]string, error)
}

// ChatRequest is the inbound conversational request. IncludeRawData opts in
// to per-source DATA_BLOCK events ahead of the narrative; the default is
// prose only.
type ChatRequest struct {
	Messages       []classifier.Message `json:"messages"`
	Stream         bool                 `json:"stream"`
	IncludeRawData bool                 `json:"include_raw_data"`
}

// Orchestrator runs the full pipeline for one request at a time; it is safe
// for concurrent use.
type Orchestrator struct {
	cfg      *config.Config
	svc      *resilience.Service
	gateways map[string]gateway.Gateway
	gen      Generator
	log      logger.Logger
	obs      *observability.Observability
}

func New(cfg *config.Config, svc *resilience.Service, gateways []gateway.Gateway, gen Generator, log logger.Logger, obs *observability.Observability) *Orchestrator {
	byID := make(map[string]gateway.Gateway, len(gateways))
	for _, gw := range gateways {
		byID[gw.ID()] = gw
	}
	return &Orchestrator{
		cfg:      cfg,
		svc:      svc,
		gateways: byID,
		gen:      gen,
		log:      log.With(map[string]interface{}{"component": "orchestrator"}),
		obs:      obs,
	}
}

// Respond processes one chat request and emits the answer onto the emitter.
// A returned error means nothing useful was produced; the caller translates
// it to the transport (stream error event or HTTP status).
func (o *Orchestrator) Respond(ctx context.Context, req *ChatRequest, emitter *stream.Emitter) error {
	start := time.Now()

	if err := validate(req); err != nil {
		o.obs.RecordRequest(ctx, "invalid", time.Since(start))
		return err
	}

	last := req.Messages[len(req.Messages)-1]
	plan := classifier.Classify(last.Content, req.Messages[:len(req.Messages)-1])

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Server.RequestDeadlineDuration())
	defer cancel()

	o.log.Info("Processing chat request", map[string]interface{}{
		"intents": intentNames(plan),
		"tickers": plan.Tickers,
	})

	results, dispatched, err := o.fanOut(ctx, plan)
	if err != nil {
		o.obs.RecordRequest(ctx, "invalid", time.Since(start))
		return err
	}

	var agg *aggregator.Aggregated
	if dispatched > 0 {
		agg, err = aggregator.Aggregate(primaryTicker(plan), results)
		if err != nil {
			o.obs.RecordRequest(ctx, "failed", time.Since(start))
			return err
		}
		if req.IncludeRawData {
			for _, finding := range agg.Findings {
				if err := emitter.DataBlock(finding.Source, finding.Payload); err != nil {
					return err
				}
			}
		}
	}

	if err := o.narrate(ctx, plan, agg, emitter); err != nil {
		return err
	}
	if plan.RequiresDisclaimer {
		if err := emitter.Token(disclaimerText); err != nil {
			return err
		}
	}
	if err := emitter.Done(); err != nil {
		return err
	}

	o.maybeSendAlert(plan, agg)
	o.obs.RecordRequest(ctx, "success", time.Since(start))
	return nil
}

func validate(req *ChatRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return errors.NewValidationError("messages must not be empty")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return errors.NewValidationError("last message must be from the user")
	}
	if strings.TrimSpace(last.Content) == "" {
		return errors.NewValidationError("message content must not be empty")
	}
	return nil
}

// fanOut dispatches every intent to its backends concurrently through the
// resilience envelope. The returned count is how many backend calls were
// dispatched; zero means a purely conversational turn.
func (o *Orchestrator) fanOut(ctx context.Context, plan classifier.QueryPlan) ([]aggregator.SourceResult, int, error) {
	type job struct {
		backendID string
		req       *gateway.Request
	}
	var jobs []job

	for _, intent := range plan.Intents {
		switch intent {
		case classifier.IntentConversational:
			// No backend work; the narrative layer answers directly.

		case classifier.IntentStructuredLookup:
			sets, err := synthesizer.Synthesize(plan)
			if err != nil {
				return nil, 0, err
			}
			for i := range sets {
				jobs = append(jobs, job{config.BackendStructured, &gateway.Request{
					Ticker:   sets[i].Ticker,
					QuerySet: &sets[i],
				}})
			}
			if ticker := primaryTicker(plan); ticker != "" {
				jobs = append(jobs, job{config.BackendMarketData, &gateway.Request{Ticker: ticker}})
			}

		case classifier.IntentPrediction:
			if ticker := primaryTicker(plan); ticker != "" {
				jobs = append(jobs, job{config.BackendPrediction, &gateway.Request{Ticker: ticker}})
			}

		case classifier.IntentSentiment:
			if ticker := primaryTicker(plan); ticker != "" {
				jobs = append(jobs, job{config.BackendSentiment, &gateway.Request{Ticker: ticker}})
			}

		case classifier.IntentWebFallback:
			jobs = append(jobs, job{config.BackendWebSearch, &gateway.Request{
				Text: strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(plan.RawText), "/web")),
			}})
		}
	}

	if len(jobs) == 0 {
		return nil, 0, nil
	}

	results := make([]aggregator.SourceResult, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		gw, ok := o.gateways[j.backendID]
		if !ok {
			results[i] = aggregator.SourceResult{
				Backend: j.backendID,
				Err:     errors.NewPermanentBackendError(j.backendID, "backend not configured"),
			}
			continue
		}
		wg.Add(1)
		go func(i int, gw gateway.Gateway, req *gateway.Request) {
			defer wg.Done()
			result, err := o.svc.Call(ctx, gw, req)
			results[i] = aggregator.SourceResult{Backend: gw.ID(), Result: result, Err: err}
		}(i, gw, j.req)
	}
	wg.Wait()

	return results, len(jobs), nil
}

// narrate produces the token portion of the answer. Generation failure is
// not fatal: the answer degrades to a templated narrative built from the
// aggregate.
func (o *Orchestrator) narrate(ctx context.Context, plan classifier.QueryPlan, agg *aggregator.Aggregated, emitter *stream.Emitter) error {
	var findings json.RawMessage
	if agg != nil {
		findings, _ = json.Marshal(agg)
	}

	if o.gen != nil {
		tokens, err := o.gen.Generate(ctx, plan.RawText, findings)
		if err == nil {
			for _, token := range tokens {
				if emitErr := emitter.Token(token); emitErr != nil {
					return emitErr
				}
			}
			return nil
		}
		o.log.Warn("Generation failed, falling back to templated narrative", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return emitter.Token(fallbackNarrative(plan, agg))
}

func fallbackNarrative(plan classifier.QueryPlan, agg *aggregator.Aggregated) string {
	if agg == nil {
		return "I can answer questions about dividend history, schedules, yields, and payout outlooks. Mention a ticker symbol to get started."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here is what the data shows for %s. ", agg.Ticker)
	for _, f := range agg.Findings {
		fmt.Fprintf(&b, "The %s source returned results. ", f.Source)
	}
	if len(agg.Degraded) > 0 {
		fmt.Fprintf(&b, "Some sources were temporarily unavailable (%s), so this picture may be incomplete. ",
			strings.Join(agg.Degraded, ", "))
	}
	fmt.Fprintf(&b, "Based on the available data this position looks like one to %s. Confidence: %.2f.",
		agg.Recommendation, agg.Confidence)
	return b.String()
}

// maybeSendAlert delivers a dividend alert for watched tickers in the
// background. Delivery failures only log; they never affect the response.
func (o *Orchestrator) maybeSendAlert(plan classifier.QueryPlan, agg *aggregator.Aggregated) {
	if agg == nil || !o.cfg.Alerts.Enabled {
		return
	}
	gw, ok := o.gateways[config.BackendAlerts]
	if !ok || !watched(o.cfg.Alerts.WatchedTickers, agg.Ticker) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err := o.svc.Call(ctx, gw, &gateway.Request{
			Params: map[string]interface{}{
				"ticker":  agg.Ticker,
				"subject": fmt.Sprintf("Dividend activity: %s", agg.Ticker),
				"body": fmt.Sprintf("A query about %s completed with recommendation %q (confidence %.2f).",
					agg.Ticker, agg.Recommendation, agg.Confidence),
			},
		})
		if err != nil {
			o.log.Warn("Alert delivery failed", map[string]interface{}{
				"ticker": agg.Ticker,
				"error":  err.Error(),
			})
		}
	}()
}

func watched(tickers []string, ticker string) bool {
	for _, t := range tickers {
		if strings.EqualFold(t, ticker) {
			return true
		}
	}
	return false
}

func primaryTicker(plan classifier.QueryPlan) string {
	if len(plan.Tickers) == 0 {
		return ""
	}
	return plan.Tickers[0]
}

func intentNames(plan classifier.QueryPlan) []string {
	out := make([]string, 0, len(plan.Intents))
	for _, i := range plan.Intents {
		out = append(out, i.String())
	}
	return out
}
