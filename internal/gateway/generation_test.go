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
	"dividend-orchestrator/internal/common/logger"
)

func TestGenerationClientReturnsTokensInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tokens": []string{"KO ", "pays ", "quarterly."},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewGenerationClient(config.GenAIConfig{BaseURL: srv.URL, Timeout: 2000},
		logger.NewTestLogger(t))

	tokens, err := c.Generate(context.Background(), "summarize", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"KO ", "pays ", "quarterly."}, tokens)
}

func TestGenerationClientFallsBackToTextField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"text": "full answer"})
	}))
	t.Cleanup(srv.Close)

	c := NewGenerationClient(config.GenAIConfig{BaseURL: srv.URL, Timeout: 2000},
		logger.NewTestLogger(t))

	tokens, err := c.Generate(context.Background(), "summarize", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"full answer"}, tokens)
}

func TestGenerationClientErrorSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewGenerationClient(config.GenAIConfig{BaseURL: srv.URL, Timeout: 2000},
		logger.NewTestLogger(t))

	_, err := c.Generate(context.Background(), "summarize", nil)
	require.Error(t, err)
}
