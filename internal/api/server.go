package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/mapcompute/internal/compute"
	"github.com/JakeFAU/mapcompute/internal/config"
	"github.com/JakeFAU/mapcompute/internal/metrics"
	"github.com/JakeFAU/mapcompute/internal/store"
)

const requestTimeout = 30 * time.Second

// Runner is the part of compute.Runner the API drives.
type Runner interface {
	Compute(ctx context.Context, job compute.Job) bool
	Status() compute.Status
}

// Pinger checks that a dependency is reachable for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Options wires the server's collaborators. Runs, Objects, Progress and Ready are optional.
type Options struct {
	Runner   Runner
	Runs     store.RunRepository
	Objects  store.ObjectStore
	Progress http.Handler
	Ready    Pinger
	Auth     config.AuthConfig
	Logger   *zap.Logger
	// BaseContext outlives requests and bounds started jobs.
	BaseContext context.Context
}

// Server routes control API requests.
type Server struct {
	router  chi.Router
	runner  Runner
	objects store.ObjectStore
	ready   Pinger
	logger  *zap.Logger
	baseCtx context.Context
}

// NewServer builds the router with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	s := &Server{
		runner:  opts.Runner,
		objects: opts.Objects,
		ready:   opts.Ready,
		logger:  logger,
		baseCtx: baseCtx,
	}
	runs := NewRunHandler(opts.Runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth.Enabled {
			r.Use(apiKeyMiddleware(opts.Auth.APIKey))
		}
		if opts.Progress != nil {
			r.Method(http.MethodGet, "/progress/ws", opts.Progress)
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Post("/compute/{job}", s.startCompute)
			r.Get("/status", s.status)
			r.Get("/runs", runs.ListRuns)
			r.Get("/runs/{run_id}", runs.GetRun)
			r.Get("/objects", s.listObjects)
			r.Get("/objects/{name}", s.getObject)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "backend unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Debug("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
