// Package server exposes the ingestion, search, Q/A and chat operations over
// HTTP, with a websocket stream for task progress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/service"
)

// TaskService accepts uploads and answers status polls.
// *service.TaskManager implements it.
type TaskService interface {
	Enqueue(ctx context.Context, p models.TaskPayload) (models.TaskPayload, error)
	Poll(ctx context.Context, taskID string) (models.TaskStatus, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Tasks     TaskService
	Documents *service.DocumentService
	Questions *service.QuestionService
	Chat      *service.ChatService
	Health    map[string]Pinger
	Metrics   *metrics.Collector
	UploadDir string
	Logger    *slog.Logger
}

// Server wraps the HTTP server with dependencies and lifecycle management.
type Server struct {
	deps       Deps
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
	upgrader   websocket.Upgrader

	watchInterval   time.Duration
	maxUploadMemory int64
}

// New creates a server listening on addr.
func New(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	s := &Server{
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		watchInterval:   500 * time.Millisecond,
		maxUploadMemory: 32 << 20,
	}
	s.handler = LoggingMiddleware(logger, deps.Metrics, s.routes())
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long for chat answers
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents/upload", s.handleUpload)
	mux.HandleFunc("GET /documents/task/{task_id}", s.handleTaskStatus)
	mux.HandleFunc("GET /documents/task/{task_id}/watch", s.handleTaskWatch)
	mux.HandleFunc("POST /documents/search", s.handleSearch)
	mux.HandleFunc("DELETE /documents/{organization_id}/{source_document_id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /questions", s.handleAddQuestion)
	mux.HandleFunc("POST /questions/relevant", s.handleRelevantQuestions)
	mux.HandleFunc("DELETE /questions/{id}", s.handleDeleteQuestion)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	return mux
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
