// Package api exposes the agent orchestration core over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/relay/internal/dispatch"
	"github.com/zulandar/relay/internal/memory"
	"github.com/zulandar/relay/internal/registry"
	"github.com/zulandar/relay/internal/store"
	"github.com/zulandar/relay/internal/task"
)

// Server holds the HTTP layer's dependencies. Handlers live in routes.go.
type Server struct {
	coord    *dispatch.Coordinator
	registry *registry.Registry
	tasks    *task.Manager
	memory   *memory.Store
	store    *store.Store
	log      *slog.Logger
	version  string
	started  time.Time
}

// Opts holds Server dependencies.
type Opts struct {
	Coordinator *dispatch.Coordinator
	Registry    *registry.Registry
	Tasks       *task.Manager
	Memory      *memory.Store
	Store       *store.Store
	Version     string
	Logger      *slog.Logger // optional
}

// New creates a Server.
func New(opts Opts) (*Server, error) {
	if opts.Coordinator == nil || opts.Registry == nil || opts.Tasks == nil {
		return nil, fmt.Errorf("api: coordinator, registry, and tasks are required")
	}
	if opts.Memory == nil || opts.Store == nil {
		return nil, fmt.Errorf("api: memory and store are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		coord:    opts.Coordinator,
		registry: opts.Registry,
		tasks:    opts.Tasks,
		memory:   opts.Memory,
		store:    opts.Store,
		log:      log,
		version:  opts.Version,
		started:  time.Now(),
	}, nil
}

// Router builds the Gin router with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	return router
}

// Start runs the HTTP server on addr. It blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown", "error", err)
		}
	}()

	s.log.Info("http server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
