// Package server exposes the orchestrator over HTTP: the chat endpoint with
// optional server-sent event streaming, the standalone text analysis
// endpoint, and the health surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dividend-orchestrator/internal/classifier"
	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
	"dividend-orchestrator/internal/health"
	"dividend-orchestrator/internal/orchestrator"
	"dividend-orchestrator/internal/resilience"
	"dividend-orchestrator/internal/stream"
)

// Responder runs the pipeline for one chat request.
type Responder interface {
	Respond(ctx context.Context, req *orchestrator.ChatRequest, emitter *stream.Emitter) error
}

// Server is the public HTTP surface.
type Server struct {
	cfg       config.ServerConfig
	responder Responder
	svc       *resilience.Service
	monitor   *health.Monitor
	log       logger.Logger
	http      *http.Server
}

func New(cfg config.ServerConfig, responder Responder, svc *resilience.Service, monitor *health.Monitor, log logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		responder: responder,
		svc:       svc,
		monitor:   monitor,
		log:       log.With(map[string]interface{}{"component": "server"}),
	}
	s.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the handler tree. Health stays unauthenticated so load
// balancers can reach it.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.authenticated(s.handleChat))
	mux.HandleFunc("POST /api/analyze", s.authenticated(s.handleAnalyze))
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.requestID(mux)
}

// requestID tags every request with a correlation ID for log stitching,
// honoring one supplied by an upstream proxy.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		s.log.Debug("Request received", map[string]interface{}{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("HTTP server listening", map[string]interface{}{"address": s.cfg.Address})
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// authenticated enforces the X-API-Key header. The rejection body is uniform
// so probing the endpoint reveals nothing about why the key was rejected.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "malformed request body",
		})
		return
	}

	if req.Stream {
		s.handleChatStream(w, r, &req)
		return
	}

	sink := stream.NewBufferSink()
	if err := s.responder.Respond(r.Context(), &req, stream.NewEmitter(sink)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  sink.Events(),
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, req *orchestrator.ChatRequest) {
	sink, err := stream.NewSSESink(w)
	if err != nil {
		s.writeError(w, err)
		return
	}

	emitter := stream.NewEmitter(sink)
	if err := s.responder.Respond(r.Context(), req, emitter); err != nil {
		// Headers are gone; the failure travels in-band as the terminal
		// stream event.
		message := "Analysis failed"
		if errors.CodeOf(err) == errors.ErrCodeValidation {
			message = err.Error()
		}
		if emitErr := emitter.Error(message); emitErr != nil && emitErr != stream.ErrStreamClosed {
			s.log.Warn("Failed to emit stream error", map[string]interface{}{
				"error": emitErr.Error(),
			})
		}
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "text is required",
		})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		classifier.Analysis
	}{Success: true, Analysis: classifier.Analyze(req.Text)})
}

// handleHealth reports aggregate health only; per-backend circuit and probe
// detail stays on the ops surface.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	for _, state := range s.svc.States() {
		if state != resilience.StateClosed.String() {
			status = "degraded"
			break
		}
	}

	body := map[string]interface{}{"status": status}
	if s.monitor != nil {
		if at := s.monitor.LastPassAt(); !at.IsZero() {
			body["last_pass"] = at
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	message := "Analysis failed"
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation, errors.ErrCodeRateLimitExceeded:
		message = err.Error()
	}
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
