// Package server exposes the importer over a small JSON HTTP API for the
// dashboard: start, stop, reset, and two read endpoints for status and
// per-account progress.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/OnlineSolution24/trading-dashboard-sub000/internal/errors"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/importer"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/storage"
)

// Server wires the import controller into HTTP handlers.
type Server struct {
	controller *importer.Controller
	store      storage.FullStorage
	logger     *slog.Logger
	engine     *gin.Engine
}

// StartRequest is the body of POST /api/import/start.
type StartRequest struct {
	// Account restricts the import to one account by name. Empty means all
	// configured accounts.
	Account string `json:"account"`

	// Resume continues from saved cursors instead of re-importing the full
	// lookback window.
	Resume bool `json:"resume"`
}

// New creates the HTTP server.
func New(controller *importer.Controller, store storage.FullStorage, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		controller: controller,
		store:      store,
		logger:     logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes(engine)
	s.engine = engine

	return s
}

// Handler returns the http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.handleHealth)

	api := engine.Group("/api/import")
	{
		api.POST("/start", s.handleStart)
		api.POST("/stop", s.handleStop)
		api.POST("/reset", s.handleReset)
		api.GET("/status", s.handleStatus)
		api.GET("/progress", s.handleProgress)
		api.GET("/metrics", s.handleMetrics)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleStart(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	sessionID, err := s.controller.StartImport(req.Account, req.Resume)
	if err != nil {
		if errors.Is(err, apperrors.ErrImportRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": sessionID,
		"resume":     req.Resume,
	})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.controller.StopImport(); err != nil {
		if errors.Is(err, apperrors.ErrNoImportRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "stop requested"})
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.controller.ResetImport(c.Request.Context()); err != nil {
		if errors.Is(err, apperrors.ErrResetWhileRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "import state reset"})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := importer.StatusOf(c.Request.Context(), s.controller, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleProgress(c *gin.Context) {
	status, err := importer.StatusOf(c.Request.Context(), s.controller, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Metrics().Snapshot())
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
