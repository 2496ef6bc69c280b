// Package api serves the operator surface over HTTP: the request
// gateway, agent lifecycle controls, forensic and audit inspection,
// policy management, approvals, a live WebSocket event feed, and the
// embedded dashboard.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/intentguard/intentguard/internal/approval"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/dashboard"
	"github.com/intentguard/intentguard/internal/hub"
	"github.com/intentguard/intentguard/internal/metrics"
	"github.com/intentguard/intentguard/internal/orchestrator"
	"github.com/intentguard/intentguard/internal/tirs"
)

// Deps are the subsystems the API exposes. Gateway, Risk, Compliance,
// and Chain are required; the rest degrade gracefully when nil.
type Deps struct {
	Gateway    *orchestrator.Gateway
	Risk       *tirs.Service
	Compliance *compliance.Engine
	Chain      *audit.Chain
	Approvals  *approval.Queue
	Hub        *hub.Hub
	Metrics    *metrics.Metrics

	// ReloadRules re-reads the operator rules file into the engine.
	// Nil when no rules file is configured.
	ReloadRules func() error

	Logger *slog.Logger
}

// Server is the management API + dashboard server.
type Server struct {
	config     config.ServerConfig
	deps       Deps
	events     *EventHub
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new management API server.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api.Server")

	s := &Server{
		config: cfg,
		deps:   deps,
		events: NewEventHub(logger, cfg.CORS),
		mux:    http.NewServeMux(),
		logger: logger,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Gateway — the execution surface lives under /v1, the operator
	// surface under /api.
	s.mux.HandleFunc("POST /v1/requests", s.handleProcessRequest)
	s.mux.HandleFunc("POST /v1/workflows", s.handleCreateWorkflow)
	s.mux.HandleFunc("POST /v1/workflows/{id}/run", s.handleRunWorkflow)

	// Agents
	s.mux.HandleFunc("GET /api/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/pause", s.handlePauseAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/resume", s.handleResumeAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/kill", s.handleKillAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/resurrect", s.handleResurrectAgent)

	// Forensic snapshots
	s.mux.HandleFunc("GET /api/snapshots", s.handleListSnapshots)
	s.mux.HandleFunc("POST /api/snapshots/{agent}/verify", s.handleVerifySnapshots)
	s.mux.HandleFunc("GET /api/snapshots/{agent}/export", s.handleExportSnapshots)

	// Policies
	s.mux.HandleFunc("GET /api/policies", s.handleListPolicies)
	s.mux.HandleFunc("GET /api/policies/stats", s.handlePolicyStats)
	s.mux.HandleFunc("POST /api/policies/reload", s.handleReloadPolicies)
	s.mux.HandleFunc("POST /api/policies/{id}/enable", s.handleEnablePolicy)
	s.mux.HandleFunc("POST /api/policies/{id}/disable", s.handleDisablePolicy)

	// Workflows
	s.mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)

	// Approvals
	s.mux.HandleFunc("GET /api/approvals", s.handleListApprovals)
	s.mux.HandleFunc("POST /api/approvals/{id}/resolve", s.handleResolveApproval)

	// Audit chain
	s.mux.HandleFunc("GET /api/audit", s.handleListAudit)
	s.mux.HandleFunc("GET /api/audit/verify", s.handleVerifyAudit)

	// System — health is always public
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	// WebSocket event feed
	s.mux.HandleFunc("GET /ws", s.events.HandleWebSocket)

	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	if s.config.Dashboard {
		s.mux.Handle("/dashboard/", dashboard.Handler())
		s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/dashboard/", http.StatusFound)
		})
	}
}

// Handler returns the HTTP handler (for tests and embedding).
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Events returns the WebSocket hub so the runtime can register it as
// an alert channel.
func (s *Server) Events() *EventHub {
	return s.events
}

// Start starts the API server on the given address.
func (s *Server) Start(addr string) error {
	go s.events.Run()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("management API listening", "addr", addr, "dashboard", s.config.Dashboard)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIAddr makes a listen address from a port number.
func APIAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
