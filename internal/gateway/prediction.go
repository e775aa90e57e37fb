package gateway

import (
	"bytes"
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

// predictionSchema validates the model service response. The model_confidence
// field feeds straight into the aggregator's scoring.
const predictionSchema = `{
	"type": "object",
	"required": ["ticker", "projected_payouts", "model_confidence"],
	"properties": {
		"ticker": {"type": "string", "minLength": 1},
		"projected_payouts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["ex_date", "amount"],
				"properties": {
					"ex_date": {"type": "string"},
					"amount":  {"type": "number", "minimum": 0}
				}
			}
		},
		"model_confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"model_version":    {"type": "string"}
	}
}`

// PredictionGateway calls the payout projection model service. Inference is
// slow, so this gateway runs with a much longer per-attempt timeout than the
// other HTTP backends.
type PredictionGateway struct {
	cfg    config.BackendConfig
	client *http.Client
	schema *gojsonschema.Schema
	log    logger.Logger
}

func NewPredictionGateway(cfg config.BackendConfig, log logger.Logger) (*PredictionGateway, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(predictionSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile prediction schema: %w", err)
	}
	return &PredictionGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.TimeoutDuration()},
		schema: schema,
		log:    log.With(map[string]interface{}{"gateway": config.BackendPrediction}),
	}, nil
}

func (g *PredictionGateway) ID() string      { return config.BackendPrediction }
func (g *PredictionGateway) Cacheable() bool { return true }

func (g *PredictionGateway) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if req.Ticker == "" {
		return nil, errors.NewValidationError("prediction requires a ticker")
	}

	start := time.Now()

	reqBody, _ := json.Marshal(map[string]interface{}{
		"ticker":  req.Ticker,
		"horizon": "4q",
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/v1/predict", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(), err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
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

	validation, err := g.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(),
			fmt.Sprintf("prediction is not valid JSON: %v", err))
	}
	if !validation.Valid() {
		return nil, errors.NewPermanentBackendError(g.ID(),
			fmt.Sprintf("prediction failed schema validation: %v", validation.Errors()))
	}

	var parsed struct {
		ModelConfidence float64 `json:"model_confidence"`
	}
	_ = json.Unmarshal(body, &parsed)

	return &Result{
		Source:         g.ID(),
		Payload:        json.RawMessage(body),
		Latency:        time.Since(start),
		ConfidenceHint: parsed.ModelConfidence,
	}, nil
}

func (g *PredictionGateway) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.cfg.BaseURL+"/v1/health", nil)
	if err != nil {
		return errors.NewPermanentBackendError(g.ID(), err.Error())
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return errors.NewTransientBackendError(g.ID(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errors.NewTransientBackendError(g.ID(),
			fmt.Errorf("health returned status %d", resp.StatusCode))
	}
	return nil
}
