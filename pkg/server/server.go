// Package server exposes the knowledge base service over HTTP.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/kbai/pkg/auth"
	"github.com/platinummonkey/kbai/pkg/config"
	"github.com/platinummonkey/kbai/pkg/extract"
	"github.com/platinummonkey/kbai/pkg/httputil"
	"github.com/platinummonkey/kbai/pkg/index"
	"github.com/platinummonkey/kbai/pkg/middleware"
	"github.com/platinummonkey/kbai/pkg/observability"
	"github.com/platinummonkey/kbai/pkg/query"
	"github.com/platinummonkey/kbai/pkg/storage"
	"github.com/platinummonkey/kbai/pkg/tools"
	"github.com/platinummonkey/kbai/pkg/trace"
)

// Services bundles everything the HTTP layer depends on.
type Services struct {
	Storage      storage.Storage
	Gate         *auth.Gate
	Manager      *index.Manager
	Registry     *tools.Registry
	Orchestrator *query.Orchestrator
	Extractor    *extract.Extractor
	Ring         *trace.Ring
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
	Logger       *observability.Logger
}

// Server represents the API server
type Server struct {
	cfg    *config.Config
	svc    Services
	router *mux.Router
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, svc Services) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(httputil.CORSMiddleware(s.cfg.Server.CORSOrigins))
	s.router.Use(httputil.MaxBytesMiddleware(s.cfg.Server.MaxBodyBytes))
	if s.svc.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.svc.Metrics))
	}

	// Probes and scrape endpoint stay unauthenticated.
	s.router.HandleFunc("/healthz", s.svc.Health.Liveness).Methods("GET")
	s.router.HandleFunc("/readyz", s.svc.Health.Readiness).Methods("GET")
	if s.svc.Metrics != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.svc.Metrics.Registry())).Methods("GET")
	}

	// Token issuance authenticates via the API key in the body, so it
	// sits outside the auth middleware. Still traced.
	traced := middleware.Trace(s.svc.Ring)
	s.router.Handle("/v1/auth/token", traced(http.HandlerFunc(s.issueToken))).Methods("POST")
	s.router.Handle("/v1/auth/modes", traced(http.HandlerFunc(s.authModes))).Methods("GET")

	// Everything else under /v1 requires credentials.
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.Trace(s.svc.Ring))
	v1.Use(middleware.Auth(s.svc.Gate))

	v1.HandleFunc("/auth/revoke", s.revokeToken).Methods("POST")

	// Project routes
	v1.HandleFunc("/projects", middleware.RequireScope(auth.ScopeRead, s.listProjects)).Methods("GET")
	v1.HandleFunc("/projects", middleware.RequireScope(auth.ScopeWrite, s.createProject)).Methods("POST")
	v1.HandleFunc("/projects/{projectID}", middleware.RequireScope(auth.ScopeRead, s.getProject)).Methods("GET")
	v1.HandleFunc("/projects/{projectID}", middleware.RequireScope(auth.ScopeWrite, s.updateProject)).Methods("PUT")
	v1.HandleFunc("/projects/{projectID}", middleware.RequireScope(auth.ScopeWrite, s.deactivateProject)).Methods("DELETE")

	// FAQ routes
	v1.HandleFunc("/projects/{projectID}/faqs", middleware.RequireScope(auth.ScopeRead, s.listFAQs)).Methods("GET")
	v1.HandleFunc("/projects/{projectID}/faqs", middleware.RequireScope(auth.ScopeWrite, s.putFAQs)).Methods("POST")
	v1.HandleFunc("/projects/{projectID}/faqs/add", middleware.RequireScope(auth.ScopeWrite, s.addFAQ)).Methods("POST")
	v1.HandleFunc("/projects/{projectID}/faqs/{faqID}", middleware.RequireScope(auth.ScopeWrite, s.deleteFAQ)).Methods("DELETE")

	// KB routes
	v1.HandleFunc("/projects/{projectID}/kb", middleware.RequireScope(auth.ScopeRead, s.listKB)).Methods("GET")
	v1.HandleFunc("/projects/{projectID}/kb", middleware.RequireScope(auth.ScopeWrite, s.putKB)).Methods("POST")
	v1.HandleFunc("/projects/{projectID}/kb/{entryID}", middleware.RequireScope(auth.ScopeRead, s.getKB)).Methods("GET")
	v1.HandleFunc("/projects/{projectID}/kb/{entryID}", middleware.RequireScope(auth.ScopeWrite, s.deleteKB)).Methods("DELETE")
	v1.HandleFunc("/projects/{projectID}/kb/{entryID}/attachment", middleware.RequireScope(auth.ScopeRead, s.getAttachment)).Methods("GET")

	// Document upload
	v1.HandleFunc("/projects/{projectID}/documents", middleware.RequireScope(auth.ScopeWrite, s.uploadDocument)).Methods("POST")

	// Index routes
	v1.HandleFunc("/projects/{projectID}/rebuild-indexes", middleware.RequireScope(auth.ScopeWrite, s.rebuildIndexes)).Methods("POST")
	v1.HandleFunc("/projects/{projectID}/build-status", middleware.RequireScope(auth.ScopeRead, s.buildStatus)).Methods("GET")

	// Query routes
	v1.HandleFunc("/query", middleware.RequireScope(auth.ScopeQuery, s.answerQuery)).Methods("POST")

	// Tool routes
	v1.HandleFunc("/tools", middleware.RequireScope(auth.ScopeQuery, s.listTools)).Methods("GET")
	v1.HandleFunc("/tools/{name}", middleware.RequireScope(auth.ScopeQuery, s.executeTool)).Methods("POST")

	// Trace routes
	v1.HandleFunc("/traces", middleware.RequireScope(auth.ScopeTraces, s.listTraces)).Methods("GET")
	v1.HandleFunc("/traces/{traceID}", middleware.RequireScope(auth.ScopeTraces, s.getTrace)).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
