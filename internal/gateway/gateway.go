// Package gateway holds the backend adapters. Each gateway translates a
// generic Request into one backend protocol (SQL, HTTP, Elasticsearch, SES)
// and normalizes failures into the standard error taxonomy so the resilience
// envelope can make retry decisions without knowing the protocol.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"dividend-orchestrator/internal/synthesizer"
)

// Request is the backend-agnostic unit of work handed to a gateway. Exactly
// one of the payload fields is populated depending on the target backend.
type Request struct {
	Ticker   string                 `json:"ticker,omitempty"`
	Text     string                 `json:"text,omitempty"`
	QuerySet *synthesizer.QuerySet  `json:"query_set,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// Result is the normalized gateway response.
type Result struct {
	Source         string          `json:"source"`
	Payload        json.RawMessage `json:"payload"`
	Latency        time.Duration   `json:"latency_ms"`
	ConfidenceHint float64         `json:"confidence_hint"`
	Cached         bool            `json:"cached"`
}

// Gateway is the contract every backend adapter satisfies. Fetch must honor
// context cancellation and return *errors.StandardError values; Probe is a
// lightweight liveness check used by the health monitor.
type Gateway interface {
	ID() string
	Fetch(ctx context.Context, req *Request) (*Result, error)
	Probe(ctx context.Context) error
	Cacheable() bool
}
