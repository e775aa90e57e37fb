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

func marketServer(t *testing.T, handler http.HandlerFunc) (*MarketGateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewMarketGateway(config.BackendConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 2000,
	}, logger.NewTestLogger(t))
	require.NoError(t, err)
	return g, srv
}

func TestMarketGatewayValidQuote(t *testing.T) {
	g, _ := marketServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote/AAPL", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ticker":     "AAPL",
			"price":      231.44,
			"currency":   "USD",
			"change_pct": -0.3,
		})
	})

	result, err := g.Fetch(context.Background(), &Request{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, config.BackendMarketData, result.Source)

	var quote map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Payload, &quote))
	assert.Equal(t, "AAPL", quote["ticker"])
}

func TestMarketGatewaySchemaViolationIsPermanent(t *testing.T) {
	g, _ := marketServer(t, func(w http.ResponseWriter, r *http.Request) {
		// price missing: backend answered but the answer is unusable
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ticker":   "AAPL",
			"currency": "USD",
		})
	})

	_, err := g.Fetch(context.Background(), &Request{Ticker: "AAPL"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePermanentBackend, errors.CodeOf(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestMarketGatewayServerErrorIsTransient(t *testing.T) {
	g, _ := marketServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	_, err := g.Fetch(context.Background(), &Request{Ticker: "AAPL"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTransientBackend, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestMarketGatewayClientErrorIsPermanent(t *testing.T) {
	g, _ := marketServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown ticker", http.StatusNotFound)
	})

	_, err := g.Fetch(context.Background(), &Request{Ticker: "ZZZZ"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePermanentBackend, errors.CodeOf(err))
}

func TestMarketGatewayMissingTicker(t *testing.T) {
	g, _ := marketServer(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := g.Fetch(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}
