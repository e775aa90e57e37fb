package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
)

func TestWebSearchGatewayParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "latest NVDY distribution news", r.URL.Query().Get("q"))
		assert.Equal(t, "engine-1", r.URL.Query().Get("cx"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]string{
				{"title": "NVDY declares distribution", "link": "https://example.com/a", "snippet": "..."},
				{"title": "Fund payout update", "link": "https://example.com/b", "snippet": "..."},
			},
		})
	}))
	t.Cleanup(srv.Close)

	g := NewWebSearchGateway(config.BackendConfig{
		BaseURL:  srv.URL,
		APIKey:   "key",
		EngineID: "engine-1",
		Timeout:  2000,
	}, logger.NewTestLogger(t))

	result, err := g.Fetch(context.Background(), &Request{Text: "latest NVDY distribution news"})
	require.NoError(t, err)

	var payload WebSearchPayload
	require.NoError(t, json.Unmarshal(result.Payload, &payload))
	require.Len(t, payload.Results, 2)
	assert.Equal(t, "NVDY declares distribution", payload.Results[0].Title)
	assert.InDelta(t, 0.4, result.ConfidenceHint, 1e-9)
}

func TestWebSearchGatewayEmptyResultsLowerHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	t.Cleanup(srv.Close)

	g := NewWebSearchGateway(config.BackendConfig{BaseURL: srv.URL, Timeout: 2000},
		logger.NewTestLogger(t))

	result, err := g.Fetch(context.Background(), &Request{Text: "anything"})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, result.ConfidenceHint, 1e-9)
}

func TestWebSearchGatewayRequiresText(t *testing.T) {
	g := NewWebSearchGateway(config.BackendConfig{BaseURL: "http://unused", Timeout: 2000},
		logger.NewTestLogger(t))

	_, err := g.Fetch(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}
