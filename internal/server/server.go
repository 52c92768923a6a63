// Package server exposes the HTTP surface: webhook intake, the query
// endpoint, repository listing, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelearth/codechat/internal/observability"
	"github.com/modelearth/codechat/internal/query"
	"github.com/modelearth/codechat/internal/vectorstore"
	"github.com/modelearth/codechat/internal/webhook"
)

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query         string   `json:"query"`
	Repositories  []string `json:"repositories,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	PerNamespaceK int      `json:"per_namespace_k,omitempty"`
	MinScore      float32  `json:"min_score,omitempty"`
}

// QueryResponse is the success body of POST /query.
type QueryResponse struct {
	Content string `json:"content"`
}

// Server wires the HTTP handlers. All collaborators are injected.
type Server struct {
	planner  *query.Planner
	executor *query.Executor
	composer *query.Composer
	store    vectorstore.Store
	webhook  *webhook.Handler
	logger   *observability.Logger
	metrics  *observability.MetricsCollector

	metricsEnabled bool
	metricsPath    string

	httpServer *http.Server
}

// New creates a Server listening on addr.
func New(
	addr string,
	planner *query.Planner,
	executor *query.Executor,
	composer *query.Composer,
	store vectorstore.Store,
	webhookHandler *webhook.Handler,
	logger *observability.Logger,
	metrics *observability.MetricsCollector,
	metricsEnabled bool,
	metricsPath string,
) *Server {
	s := &Server{
		planner:        planner,
		executor:       executor,
		composer:       composer,
		store:          store,
		webhook:        webhookHandler,
		logger:         logger,
		metrics:        metrics,
		metricsEnabled: metricsEnabled,
		metricsPath:    metricsPath,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/github", s.handleWebhook)
	mux.HandleFunc("/query", s.withCORS(s.handleQuery))
	mux.HandleFunc("/repositories", s.withCORS(s.handleRepositories))
	mux.HandleFunc("/healthz", s.handleHealth)
	if metricsEnabled {
		mux.Handle(metricsPath, promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.webhook.ServeHTTP(w, r)
}

// withCORS applies the permissive CORS policy of the public query surface.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "OPTIONS,GET,POST")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 || req.TopK > 50 {
		writeError(w, http.StatusBadRequest, "top_k must be in [0, 50]")
		return
	}
	if req.PerNamespaceK < 0 || req.PerNamespaceK > 20 {
		writeError(w, http.StatusBadRequest, "per_namespace_k must be in [0, 20]")
		return
	}
	if req.MinScore < 0 || req.MinScore > 1 {
		writeError(w, http.StatusBadRequest, "min_score must be in [0, 1]")
		return
	}

	ctx := r.Context()
	start := time.Now()

	namespaces := req.Repositories
	if len(namespaces) == 0 {
		known, err := s.store.Describe(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "namespace discovery failed", "error", err)
			writeError(w, http.StatusInternalServerError, "vector store unavailable")
			return
		}
		namespaces = known
	}
	if len(namespaces) == 0 {
		writeJSON(w, http.StatusOK, QueryResponse{Content: "not available in the indexed codebase (no repositories indexed)"})
		return
	}

	analysis := s.planner.Analyze(req.Query)
	strategies := s.planner.Plan(analysis, namespaces)

	results, err := s.executor.Execute(ctx, req.Query, analysis, strategies, query.ExecOptions{
		TopK:          req.TopK,
		PerNamespaceK: req.PerNamespaceK,
		MinScore:      req.MinScore,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "retrieval failed", "error", err)
		s.queryMetric(string(analysis.Query), "failed", start)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	answer, err := s.composer.Compose(ctx, req.Query, results, namespaces)
	if err != nil {
		s.logger.ErrorContext(ctx, "composition failed", "error", err)
		s.queryMetric(string(analysis.Query), "failed", start)
		writeError(w, http.StatusInternalServerError, "answer composition failed")
		return
	}

	s.logger.LogQuery(ctx, string(analysis.Query), len(namespaces), len(results), time.Since(start))
	s.queryMetric(string(analysis.Query), "ok", start)
	writeJSON(w, http.StatusOK, QueryResponse{Content: answer})
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	namespaces, err := s.store.Describe(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "namespace discovery failed", "error", err)
		writeError(w, http.StatusInternalServerError, "vector store unavailable")
		return
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	writeJSON(w, http.StatusOK, namespaces)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if _, err := s.store.Describe(ctx); err != nil {
		status["status"] = "degraded"
		status["vector_store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) queryMetric(queryType, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(queryType, status).Inc()
	if status == "ok" {
		s.metrics.QueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
