package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider      *metric.MeterProvider
	meter              otelmetric.Meter
	requestCounter     otelmetric.Int64Counter
	requestDuration    otelmetric.Float64Histogram
	backendCalls       otelmetric.Int64Counter
	backendDuration    otelmetric.Float64Histogram
	circuitTransitions otelmetric.Int64Counter
	cacheLookups       otelmetric.Int64Counter
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	requestCounter, _ := meter.Int64Counter(
		"requests.processed",
		otelmetric.WithDescription("Number of orchestrated requests processed"),
	)

	requestDuration, _ := meter.Float64Histogram(
		"requests.duration",
		otelmetric.WithDescription("End-to-end request duration"),
		otelmetric.WithUnit("ms"),
	)

	backendCalls, _ := meter.Int64Counter(
		"backend.calls",
		otelmetric.WithDescription("Number of backend calls by outcome"),
	)

	backendDuration, _ := meter.Float64Histogram(
		"backend.duration",
		otelmetric.WithDescription("Backend call duration"),
		otelmetric.WithUnit("ms"),
	)

	circuitTransitions, _ := meter.Int64Counter(
		"circuit.transitions",
		otelmetric.WithDescription("Circuit breaker state transitions"),
	)

	cacheLookups, _ := meter.Int64Counter(
		"cache.lookups",
		otelmetric.WithDescription("Cache lookups by hit/miss"),
	)

	return &Observability{
		meterProvider:      provider,
		meter:              meter,
		requestCounter:     requestCounter,
		requestDuration:    requestDuration,
		backendCalls:       backendCalls,
		backendDuration:    backendDuration,
		circuitTransitions: circuitTransitions,
		cacheLookups:       cacheLookups,
	}
}

func (o *Observability) RecordRequest(ctx context.Context, status string, duration time.Duration) {
	if o == nil {
		return
	}
	if o.requestCounter != nil {
		o.requestCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
	if o.requestDuration != nil {
		o.requestDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordBackendCall(ctx context.Context, backend, status string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	if o.backendCalls != nil {
		o.backendCalls.Add(ctx, 1, attrs)
	}
	if o.backendDuration != nil {
		o.backendDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordCircuitTransition(ctx context.Context, backend, from, to string) {
	if o == nil || o.circuitTransitions == nil {
		return
	}
	o.circuitTransitions.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (o *Observability) RecordCacheLookup(ctx context.Context, backend string, hit bool) {
	if o == nil || o.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	o.cacheLookups.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("result", result),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.meterProvider.Shutdown(ctx)
}
