// Package server exposes the optimization read model, cancellation and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/pkg/models"
)

const shutdownTimeout = 10 * time.Second

// Canceller cancels an optimization by uuid
type Canceller interface {
	Cancel(ctx context.Context, optimizationUUID string) (*models.Optimization, error)
}

// JobLister lists the jobs known to the queue
type JobLister interface {
	List() []queue.Job
}

// Server serves the HTTP API
type Server struct {
	store     *store.Store
	canceller Canceller
	jobs      JobLister
	logger    *slog.Logger
	engine    *gin.Engine
}

// New creates the server and its routes. mode is the gin mode.
func New(s *store.Store, canceller Canceller, jobs JobLister, mode string, logger *slog.Logger) *Server {
	gin.SetMode(mode)

	srv := &Server{
		store:     s,
		canceller: canceller,
		jobs:      jobs,
		logger:    logger,
		engine:    gin.New(),
	}
	srv.engine.Use(gin.Recovery(), srv.requestLogger())
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		optimizations := api.Group("/optimizations")
		{
			optimizations.GET("/:uuid", s.getOptimization)
			optimizations.POST("/:uuid/cancel", s.cancelOptimization)
		}

		api.GET("/jobs", s.listJobs)
	}
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
