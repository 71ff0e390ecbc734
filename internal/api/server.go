// Package api is the HTTP request surface: one endpoint per core operation
// plus liveness and readiness probes. Framing, authentication and request
// validation live here; the operations themselves live in package app.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mschirtzinger/tasksync/internal/app"
	"github.com/Mschirtzinger/tasksync/internal/logging"
)

// Config holds server configuration.
type Config struct {
	Addr string

	// APIKey is compared against the X-API-Key header of every operation
	// request. Operations are refused when it is empty.
	APIKey string

	// Feed, when set, is mounted under /feed/ (the progress WebSocket).
	Feed http.Handler

	Logger *log.Logger
}

// Server serves the operations of an App over HTTP.
type Server struct {
	app    *app.App
	cfg    Config
	router *gin.Engine
	logger *log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates the router and registers every route.
func NewServer(a *app.App, cfg Config) *Server {
	logger := logging.OrDefault(cfg.Logger, "api")

	router := gin.New()
	s := &Server{app: a, cfg: cfg, router: router, logger: logger}

	router.Use(gin.Recovery(), requestID(), s.accessLog())

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)

	ops := router.Group("/", s.requireAPIKey())
	{
		ops.POST("/sync-task", s.handleSync)
		ops.POST("/undo-sync-task", s.handleUndo)
		ops.POST("/sync-project", s.handleSyncProject)
		ops.GET("/runs", s.handleListRuns)
		ops.GET("/runs/:id", s.handleGetRun)
	}

	if cfg.Feed != nil {
		router.Any("/feed/*path", gin.WrapH(http.StripPrefix("/feed", cfg.Feed)))
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	go func() {
		s.logger.Printf("API listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop waits up to the context deadline for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Println("API stopped")
	return nil
}
