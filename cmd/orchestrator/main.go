// cmd/orchestrator/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dividend-orchestrator/internal/common/aws"
	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/database"
	"dividend-orchestrator/internal/common/logger"
	"dividend-orchestrator/internal/common/observability"
	"dividend-orchestrator/internal/gateway"
	"dividend-orchestrator/internal/health"
	"dividend-orchestrator/internal/orchestrator"
	"dividend-orchestrator/internal/resilience"
	"dividend-orchestrator/internal/server"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting dividend orchestrator...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Build Backend Gateways ---
	structuredGW := gateway.NewStructuredGateway(pg.DB, log)

	marketGW, err := gateway.NewMarketGateway(cfg.Backends[config.BackendMarketData], log)
	if err != nil {
		zapLog.Fatal("market gateway failed", zap.Error(err))
	}

	sentimentGW := gateway.NewSentimentGateway(esClient.Client, cfg.Database.Elasticsearch.Index, log)

	predictionGW, err := gateway.NewPredictionGateway(cfg.Backends[config.BackendPrediction], log)
	if err != nil {
		zapLog.Fatal("prediction gateway failed", zap.Error(err))
	}

	webSearchGW := gateway.NewWebSearchGateway(cfg.Backends[config.BackendWebSearch], log)

	gateways := []gateway.Gateway{structuredGW, marketGW, sentimentGW, predictionGW, webSearchGW}

	if cfg.Alerts.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Alerts.Region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		snsClient, err := aws.NewSNSClient(ctx, cfg.Alerts.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		gateways = append(gateways, gateway.NewAlertsGateway(cfg.Alerts, sesClient, snsClient, log))
		zapLog.Info("Alerts gateway enabled", zap.String("region", cfg.Alerts.Region))
	}

	// --- Resilience Envelope + Orchestrator ---
	svc := resilience.NewService(cfg, redisClient.Client, log, obs)
	gen := gateway.NewGenerationClient(cfg.GenAI, log)
	orch := orchestrator.New(cfg, svc, gateways, gen, log, obs)

	// --- Background Health Monitor ---
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitor := health.NewMonitor(cfg.Health, gateways, svc, log)
	go monitor.Run(monitorCtx)
	zapLog.Info("Health monitor started",
		zap.Int("probe_interval_ms", cfg.Health.ProbeInterval))

	// --- Ops Server (metrics + pprof + per-backend health detail) ---
	go func() {
		opsMux := http.NewServeMux()
		opsMux.Handle("/metrics", promhttp.Handler())
		opsMux.Handle("/debug/pprof/", http.DefaultServeMux)
		opsMux.HandleFunc("/debug/circuits", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"circuits": svc.States(),
				"probes":   monitor.LastPass(),
			})
		})
		zapLog.Info("Ops server listening", zap.String("address", cfg.Server.OpsAddress))
		if err := http.ListenAndServe(cfg.Server.OpsAddress, opsMux); err != nil {
			zapLog.Error("Ops server failed", zap.Error(err))
		}
	}()

	// --- Public API Server ---
	srv := server.New(cfg.Server, orch, svc, monitor, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down API server", zap.Error(err))
	}

	zapLog.Info("Orchestrator stopped gracefully")
}
