package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
	"dividend-orchestrator/internal/synthesizer"
)

// StructuredGateway executes the synthesizer's fallback-ordered queries
// against the curated dividend views. The first view that returns rows wins;
// sparser views are never consulted once a richer one answered.
type StructuredGateway struct {
	db  *sql.DB
	log logger.Logger
}

// StructuredPayload is the JSON shape the aggregator receives from this
// gateway: which view answered plus its rows as generic records.
type StructuredPayload struct {
	Ticker string                   `json:"ticker"`
	View   string                   `json:"view"`
	Rows   []map[string]interface{} `json:"rows"`
}

func NewStructuredGateway(db *sql.DB, log logger.Logger) *StructuredGateway {
	return &StructuredGateway{
		db:  db,
		log: log.With(map[string]interface{}{"gateway": config.BackendStructured}),
	}
}

func (g *StructuredGateway) ID() string      { return config.BackendStructured }
func (g *StructuredGateway) Cacheable() bool { return true }

func (g *StructuredGateway) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if req.QuerySet == nil || len(req.QuerySet.Queries) == 0 {
		return nil, errors.NewValidationError("structured lookup requires a query set")
	}

	start := time.Now()
	for _, q := range req.QuerySet.Queries {
		rows, err := g.runQuery(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			g.log.Debug("View returned no rows, falling back", map[string]interface{}{
				"ticker": req.QuerySet.Ticker,
				"view":   q.Source,
			})
			continue
		}

		payload, err := json.Marshal(StructuredPayload{
			Ticker: req.QuerySet.Ticker,
			View:   q.Source,
			Rows:   rows,
		})
		if err != nil {
			return nil, errors.NewPermanentBackendError(g.ID(), err.Error())
		}

		return &Result{
			Source:         q.Source,
			Payload:        payload,
			Latency:        time.Since(start),
			ConfidenceHint: confidenceForView(q.Source),
		}, nil
	}

	// All views empty: a definitive no-data answer, not a failure.
	payload, _ := json.Marshal(StructuredPayload{
		Ticker: req.QuerySet.Ticker,
		View:   "",
		Rows:   []map[string]interface{}{},
	})
	return &Result{
		Source:         synthesizer.ViewDividendHistory,
		Payload:        payload,
		Latency:        time.Since(start),
		ConfidenceHint: 0.2,
	}, nil
}

func (g *StructuredGateway) runQuery(ctx context.Context, q synthesizer.Query) ([]map[string]interface{}, error) {
	rows, err := g.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewTransientBackendError(g.ID(), ctx.Err())
		}
		return nil, errors.NewTransientBackendError(g.ID(), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.NewTransientBackendError(g.ID(), err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.NewTransientBackendError(g.ID(), err)
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			record[col] = normalizeValue(values[i])
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientBackendError(g.ID(), err)
	}
	return out, nil
}

func (g *StructuredGateway) Probe(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return errors.NewTransientBackendError(g.ID(), err)
	}
	return nil
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

func confidenceForView(view string) float64 {
	switch view {
	case synthesizer.ViewDividendHistory:
		return 0.9
	case synthesizer.ViewDividendSchedule:
		return 0.7
	case synthesizer.ViewDividendSignals:
		return 0.5
	default:
		return 0.2
	}
}
