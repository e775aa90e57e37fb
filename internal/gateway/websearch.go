package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
)

// WebSearchGateway queries a programmable web search API. It is the lowest
// priority source; its results only reach the answer as supplementary
// context or when every higher backend came up empty.
type WebSearchGateway struct {
	cfg    config.BackendConfig
	client *http.Client
	log    logger.Logger
}

// WebSearchPayload is the normalized search response.
type WebSearchPayload struct {
	Query   string            `json:"query"`
	Results []WebSearchResult `json:"results"`
}

type WebSearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func NewWebSearchGateway(cfg config.BackendConfig, log logger.Logger) *WebSearchGateway {
	return &WebSearchGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.TimeoutDuration()},
		log:    log.With(map[string]interface{}{"gateway": config.BackendWebSearch}),
	}
}

func (g *WebSearchGateway) ID() string      { return config.BackendWebSearch }
func (g *WebSearchGateway) Cacheable() bool { return true }

func (g *WebSearchGateway) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if req.Text == "" {
		return nil, errors.NewValidationError("web search requires query text")
	}

	start := time.Now()

	params := url.Values{}
	params.Set("key", g.cfg.APIKey)
	params.Set("cx", g.cfg.EngineID)
	params.Set("q", req.Text)
	params.Set("num", "5")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.cfg.BaseURL+"/customsearch/v1?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(), err.Error())
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

	var parsed struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(),
			fmt.Sprintf("unparseable search response: %v", err))
	}

	payload := WebSearchPayload{Query: req.Text}
	for _, item := range parsed.Items {
		payload.Results = append(payload.Results, WebSearchResult(item))
	}
	raw, _ := json.Marshal(payload)

	hint := 0.4
	if len(payload.Results) == 0 {
		hint = 0.1
	}
	return &Result{
		Source:         g.ID(),
		Payload:        raw,
		Latency:        time.Since(start),
		ConfidenceHint: hint,
	}, nil
}

func (g *WebSearchGateway) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, g.cfg.BaseURL, nil)
	if err != nil {
		return errors.NewPermanentBackendError(g.ID(), err.Error())
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return errors.NewTransientBackendError(g.ID(), err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return errors.NewTransientBackendError(g.ID(),
			fmt.Errorf("probe returned status %d", resp.StatusCode))
	}
	return nil
}
