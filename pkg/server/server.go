// Package server is the HTTP edge. It validates untyped JSON into model
// types before anything reaches the orchestrator.
package server

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrisonrobin/chronos/pkg/extract"
	"github.com/harrisonrobin/chronos/pkg/ingest"
	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/store"
)

const (
	ownerHeader    = "X-Owner-ID"
	ownerKey       = "owner_id"
	maxDocumentLen = 10 << 20
	shutdownGrace  = 10 * time.Second
	pingTimeout    = 2 * time.Second
)

// Tasks is the orchestrator as seen by the handlers.
type Tasks interface {
	Submit(ctx context.Context, id model.Identity, in model.Input) (ingest.Result, error)
	SubmitAll(ctx context.Context, id model.Identity, drafts iter.Seq2[model.Draft, error]) (ingest.Result, error)
	Update(ctx context.Context, id model.Identity, taskID string, p ingest.Patch) (model.Task, error)
	Delete(ctx context.Context, id model.Identity, taskID string, version int64) (ingest.Ack, error)
	Query(ctx context.Context, id model.Identity, f ingest.Filter) ([]model.Task, error)
	Resync(ctx context.Context, id model.Identity, taskID string) (model.Task, error)
	SuggestSlots(ctx context.Context, id model.Identity, r ingest.SlotRequest) ([]time.Time, error)
	History(ctx context.Context, id model.Identity, taskID string) ([]store.AuditEvent, error)
}

// Pinger reports whether the task store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Interpreter interface {
	Interpret(ctx context.Context, ownerID, text string) (model.Intent, error)
}

type Linker interface {
	AuthURL(ownerID string) (string, error)
	Callback(ctx context.Context, state, code string) (string, error)
}

// Deps are the collaborators behind the routes. Linker may be nil when no
// Google client is configured; its routes then answer 404. DB backs
// /healthz and may be nil.
type Deps struct {
	DB          Pinger
	Tasks       Tasks
	Interpreter Interpreter
	Text        extract.Adapter
	Document    extract.Adapter
	Linker      Linker
	Location    *time.Location
}

type Server struct {
	log    *slog.Logger
	deps   Deps
	router *gin.Engine
}

func New(log *slog.Logger, deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	s := &Server{log: log, deps: deps, router: router}

	router.GET("/healthz", s.handleHealth)
	router.GET("/v1/google/callback", s.handleGoogleCallback)

	v1 := router.Group("/v1", requireOwner())
	{
		v1.POST("/drafts", s.handleDrafts)
		v1.POST("/extract/text", s.handleExtractText)
		v1.POST("/extract/document", s.handleExtractDocument)
		v1.POST("/agent", s.handleAgent)
		v1.GET("/tasks", s.handleListTasks)
		v1.PATCH("/tasks/:id", s.handleUpdateTask)
		v1.DELETE("/tasks/:id", s.handleDeleteTask)
		v1.POST("/tasks/:id/resync", s.handleResync)
		v1.GET("/tasks/:id/history", s.handleHistory)
		v1.GET("/slots", s.handleSlots)
		v1.GET("/google/auth-url", s.handleGoogleAuthURL)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.log.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			s.log.Error("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(ownerHeader))
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + ownerHeader + " header"})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func identity(c *gin.Context) model.Identity {
	return model.Identity{OwnerID: c.GetString(ownerKey)}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, model.ErrAmbiguous):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, model.ErrTransient):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
