package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
)

// SentimentGateway searches the news sentiment index for recent scored
// articles mentioning a ticker.
type SentimentGateway struct {
	es    *elasticsearch.Client
	index string
	log   logger.Logger
}

// SentimentPayload is the normalized sentiment response.
type SentimentPayload struct {
	Ticker       string             `json:"ticker"`
	ArticleCount int                `json:"article_count"`
	AverageScore float64            `json:"average_score"`
	Articles     []SentimentArticle `json:"articles"`
}

type SentimentArticle struct {
	Headline    string  `json:"headline"`
	Score       float64 `json:"score"`
	PublishedAt string  `json:"published_at"`
	URL         string  `json:"url,omitempty"`
}

func NewSentimentGateway(es *elasticsearch.Client, index string, log logger.Logger) *SentimentGateway {
	return &SentimentGateway{
		es:    es,
		index: index,
		log:   log.With(map[string]interface{}{"gateway": config.BackendSentiment}),
	}
}

func (g *SentimentGateway) ID() string      { return config.BackendSentiment }
func (g *SentimentGateway) Cacheable() bool { return true }

func (g *SentimentGateway) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if req.Ticker == "" {
		return nil, errors.NewValidationError("sentiment search requires a ticker")
	}

	start := time.Now()

	query := map[string]interface{}{
		"size": 10,
		"sort": []map[string]interface{}{
			{"published_at": map[string]string{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"term": map[string]interface{}{"tickers": req.Ticker}},
				},
				"filter": []map[string]interface{}{
					{"range": map[string]interface{}{
						"published_at": map[string]string{"gte": "now-7d/d"},
					}},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(), err.Error())
	}

	res, err := g.es.Search(
		g.es.Search.WithContext(ctx),
		g.es.Search.WithIndex(g.index),
		g.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, errors.NewTransientBackendError(g.ID(), err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		if res.StatusCode >= 500 {
			return nil, errors.NewTransientBackendError(g.ID(),
				fmt.Errorf("search returned %s: %s", res.Status(), body))
		}
		return nil, errors.NewPermanentBackendError(g.ID(),
			fmt.Sprintf("search returned %s: %s", res.Status(), body))
	}

	payload, err := g.parseResponse(req.Ticker, res)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(), err.Error())
	}

	hint := 0.6
	if payload.ArticleCount == 0 {
		hint = 0.3
	}
	return &Result{
		Source:         g.ID(),
		Payload:        raw,
		Latency:        time.Since(start),
		ConfidenceHint: hint,
	}, nil
}

func (g *SentimentGateway) parseResponse(ticker string, res *esapi.Response) (*SentimentPayload, error) {
	var envelope struct {
		Hits struct {
			Hits []struct {
				Source SentimentArticle `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, errors.NewPermanentBackendError(g.ID(),
			fmt.Sprintf("unparseable search response: %v", err))
	}

	payload := &SentimentPayload{Ticker: ticker}
	var sum float64
	for _, hit := range envelope.Hits.Hits {
		payload.Articles = append(payload.Articles, hit.Source)
		sum += hit.Source.Score
	}
	payload.ArticleCount = len(payload.Articles)
	if payload.ArticleCount > 0 {
		payload.AverageScore = sum / float64(payload.ArticleCount)
	}
	return payload, nil
}

func (g *SentimentGateway) Probe(ctx context.Context) error {
	res, err := g.es.Ping(g.es.Ping.WithContext(ctx))
	if err != nil {
		return errors.NewTransientBackendError(g.ID(), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.NewTransientBackendError(g.ID(),
			fmt.Errorf("ping returned %s", res.Status()))
	}
	return nil
}
