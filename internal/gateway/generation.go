package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
)

// GenerationClient turns aggregated findings into conversational prose via
// the text generation service. It sits outside the resilience envelope:
// generation failure degrades the answer to a templated narrative instead of
// failing the request, so the envelope's skip/retry machinery does not apply.
type GenerationClient struct {
	cfg    config.GenAIConfig
	client *http.Client
	log    logger.Logger
}

func NewGenerationClient(cfg config.GenAIConfig, log logger.Logger) *GenerationClient {
	return &GenerationClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.TimeoutDuration()},
		log:    log.With(map[string]interface{}{"component": "generation"}),
	}
}

// Generate produces answer tokens for the given prompt and findings. The
// returned slice preserves the service's token order.
func (c *GenerationClient) Generate(ctx context.Context, prompt string, findings json.RawMessage) ([]string, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"prompt":   prompt,
		"findings": findings,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewPermanentBackendError("generation", err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewTransientBackendError("generation", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.NewTransientBackendError("generation", err)
	}
	if resp.StatusCode >= 400 {
		return nil, errors.NewTransientBackendError("generation",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}

	var parsed struct {
		Tokens []string `json:"tokens"`
		Text   string   `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.NewPermanentBackendError("generation",
			fmt.Sprintf("unparseable generation response: %v", err))
	}

	if len(parsed.Tokens) > 0 {
		return parsed.Tokens, nil
	}
	if parsed.Text != "" {
		return []string{parsed.Text}, nil
	}
	return nil, errors.NewPermanentBackendError("generation", "empty generation response")
}
