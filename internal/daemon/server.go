package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/felixgeelhaar/codehub/internal/auth"
	"github.com/felixgeelhaar/codehub/internal/config"
	"github.com/felixgeelhaar/codehub/internal/generation"
	"github.com/felixgeelhaar/codehub/internal/history"
	"github.com/felixgeelhaar/codehub/internal/queue"
)

// ErrHistoryDisabled is returned by history and job routes when no history
// store is configured.
var ErrHistoryDisabled = errors.New("generation history is disabled")

// JobPublisher enqueues async generation jobs
type JobPublisher interface {
	PublishJob(ctx context.Context, job *queue.GenerationJob) error
}

// Server represents the codehub daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	server  *http.Server
	router  *http.ServeMux
	handler http.Handler

	generation *generation.Service
	history    history.Store
	jobs       JobPublisher
	verifier   *auth.Verifier
	providers  []string

	version   string
	startedAt time.Time
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config     *config.LocalConfig
	Generation *generation.Service
	History    history.Store  // nil disables history and job status routes
	Jobs       JobPublisher   // nil disables POST /v1/jobs
	Verifier   *auth.Verifier // nil disables bearer auth
	Providers  []string       // registered provider names, for status
	Version    string
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Generation == nil {
		return nil, errors.New("generation service is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:        cfg.Config,
		router:     http.NewServeMux(),
		generation: cfg.Generation,
		history:    cfg.History,
		jobs:       cfg.Jobs,
		verifier:   cfg.Verifier,
		providers:  cfg.Providers,
		version:    cfg.Version,
		startedAt:  time.Now(),
	}

	s.setupRoutes()

	s.handler = middlewareChain(s.verifier, s.router)

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: MaxRequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)
	s.router.HandleFunc("GET /v1/config", s.handleGetConfig)

	// Generation, bare artifact responses
	s.router.HandleFunc("POST /generate-exercise", s.handleGenerateExercise)
	s.router.HandleFunc("POST /generate-tutorial", s.handleGenerateTutorial)

	// Generation, result envelopes
	s.router.HandleFunc("POST /v1/generate/exercise", s.handleGenerateExerciseV1)
	s.router.HandleFunc("POST /v1/generate/tutorial", s.handleGenerateTutorialV1)
	s.router.HandleFunc("POST /v1/prompt/preview", s.handlePreviewPrompt)
	s.router.HandleFunc("GET /v1/models", s.handleListModels)

	// Async jobs
	s.router.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.router.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)

	// History
	s.router.HandleFunc("GET /v1/history", s.handleListHistory)
	s.router.HandleFunc("GET /v1/history/{id}", s.handleGetHistory)
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting codehub daemon",
		"addr", s.server.Addr,
		"llm_providers", s.providers,
		"history", s.history != nil,
		"jobs", s.jobs != nil,
		"auth", s.verifier != nil,
	)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	return s.server.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":         "running",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"llm_providers":  s.providers,
		"history":        s.historyDriver(),
		"jobs":           s.jobs != nil,
		"cache":          s.cfg.Cache.Enabled,
		"auth":           s.verifier != nil,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	// Secrets and connection strings stay out of the response
	names := make([]string, 0, len(s.cfg.LLM.Providers))
	for name := range s.cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	providers := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		p := s.cfg.LLM.Providers[name]
		providers = append(providers, map[string]interface{}{
			"name":       name,
			"enabled":    p.Enabled,
			"model":      p.Model,
			"configured": p.APIKey != "" || config.ProviderKeyEnv(name) == "",
		})
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"daemon": s.cfg.Daemon,
		"llm": map[string]interface{}{
			"default_provider": s.cfg.LLM.DefaultProvider,
			"direct_routing":   s.cfg.LLM.DirectRouting,
			"providers":        providers,
			"resilience":       s.cfg.LLM.Resilience,
		},
		"generation": s.cfg.Generation,
		"history":    map[string]interface{}{"driver": s.historyDriver()},
		"queue": map[string]interface{}{
			"enabled": s.cfg.Queue.Enabled,
			"workers": s.cfg.Queue.Workers,
		},
		"cache": map[string]interface{}{
			"enabled":     s.cfg.Cache.Enabled,
			"ttl_seconds": s.cfg.Cache.TTLSeconds,
		},
		"auth": map[string]interface{}{
			"enabled": s.verifier != nil,
			"issuer":  s.cfg.Auth.Issuer,
		},
		"tracing": s.cfg.Tracing,
	})
}

func (s *Server) historyDriver() string {
	if s.history == nil {
		return "none"
	}
	if s.cfg.History.Driver == "" {
		return "sqlite"
	}
	return s.cfg.History.Driver
}

// Helper methods

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// errorResponse is the body of every non-2xx answer
type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, details []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message, Details: details}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	var details []string
	if err != nil {
		details = []string{err.Error()}
	}
	writeError(w, status, message, details)
}

// generationError maps a pipeline error to its status and body
func (s *Server) generationError(w http.ResponseWriter, r *http.Request, err error) {
	status := generation.StatusCode(err)
	message, details := generation.ErrorBody(err)
	if status >= 500 {
		slog.Error("generation failed",
			"correlation_id", GetCorrelationID(r.Context()),
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, message, details)
}
