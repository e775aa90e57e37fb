package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
)

// marketQuoteSchema rejects structurally broken quote responses before they
// reach the aggregator. A response that fails validation is permanent: the
// backend answered, it just answered garbage.
const marketQuoteSchema = `{
	"type": "object",
	"required": ["ticker", "price", "currency"],
	"properties": {
		"ticker":   {"type": "string", "minLength": 1},
		"price":    {"type": "number", "minimum": 0},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3},
		"change_pct": {"type": "number"},
		"as_of":    {"type": "string"}
	}
}`

// MarketGateway fetches real-time quotes from the market data HTTP API.
type MarketGateway struct {
	cfg    config.BackendConfig
	client *http.Client
	schema *gojsonschema.Schema
	log    logger.Logger
}

func NewMarketGateway(cfg config.BackendConfig, log logger.Logger) (*MarketGateway, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(marketQuoteSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile market quote schema: %w", err)
	}
	return &MarketGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.TimeoutDuration()},
		schema: schema,
		log:    log.With(map[string]interface{}{"gateway": config.BackendMarketData}),
	}, nil
}

func (g *MarketGateway) ID() string      { return config.BackendMarketData }
func (g *MarketGateway) Cacheable() bool { return true }

func (g *MarketGateway) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if req.Ticker == "" {
		return nil, errors.NewValidationError("market quote requires a ticker")
	}

	start := time.Now()
	url := fmt.Sprintf("%s/v1/quote/%s", g.cfg.BaseURL, req.Ticker)
	body, err := g.get(ctx, url)
	if err != nil {
		return nil, err
	}

	result, err := g.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(), fmt.Sprintf("quote is not valid JSON: %v", err))
	}
	if !result.Valid() {
		return nil, errors.NewPermanentBackendError(g.ID(),
			fmt.Sprintf("quote failed schema validation: %v", result.Errors()))
	}

	return &Result{
		Source:         g.ID(),
		Payload:        json.RawMessage(body),
		Latency:        time.Since(start),
		ConfidenceHint: 0.8,
	}, nil
}

func (g *MarketGateway) Probe(ctx context.Context) error {
	_, err := g.get(ctx, g.cfg.BaseURL+"/v1/health")
	return err
}

func (g *MarketGateway) get(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(), err.Error())
	}
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewTransientBackendError(g.ID(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewTransientBackendError(g.ID(), err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.NewTransientBackendError(g.ID(),
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	case resp.StatusCode >= 400:
		return nil, errors.NewPermanentBackendError(g.ID(),
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
