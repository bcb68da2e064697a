// Package api exposes the HTTP interface for the ingest service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/ingest"
	"github.com/newsdeck/hn-ingest/internal/metrics"
)

// Pinger reports reachability of a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LastRunSource reads the most recent run snapshot from the
// coordination store.
type LastRunSource interface {
	LastRun(ctx context.Context) (map[string]string, error)
}

// IDGenerator produces trace IDs for jobs accepted over HTTP.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the story store and dispatcher.
type Server struct {
	router  chi.Router
	store   ingest.StoryStore
	disp    ingest.Dispatcher
	coord   Pinger
	db      Pinger
	lastRun LastRunSource
	idGen   IDGenerator
	clock   ingest.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store ingest.StoryStore,
	disp ingest.Dispatcher,
	coord Pinger,
	db Pinger,
	lastRun LastRunSource,
	idGen IDGenerator,
	clock ingest.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		disp:    disp,
		coord:   coord,
		db:      db,
		lastRun: lastRun,
		idGen:   idGen,
		clock:   clock,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", s.postIngest)
		r.Get("/metrics/last-run", s.getLastRun)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "hn-ingest",
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.coord.Ping(ctx); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "coordination store unreachable")
		return
	}
	if err := s.db.Ping(ctx); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ingestRequest accepts either an upstream item reference or a generic
// URL plus title submitted directly.
type ingestRequest struct {
	Source    string `json:"source"`
	HNID      int64  `json:"hn_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
	Points    int    `json:"points"`
	Comments  int    `json:"comments_count"`
}

func (s *Server) postIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" {
		s.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	source := req.Source
	if source == "" {
		if req.HNID != 0 {
			source = "hn"
		} else {
			source = "blog"
		}
	}
	createdAt := s.clock.Now()
	if req.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "created_at must be RFC 3339")
			return
		}
		createdAt = parsed
	}

	ctx := r.Context()
	storyID, err := s.store.UpsertStory(ctx, ingest.StoryFields{
		Source:    source,
		HNID:      req.HNID,
		Title:     req.Title,
		URL:       req.URL,
		Author:    req.Author,
		CreatedAt: createdAt,
		Points:    req.Points,
		Comments:  req.Comments,
	})
	if err != nil {
		s.logger.Error("ingest upsert failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store story")
		return
	}

	var articleID *int64
	switch {
	case req.URL == "" && req.Text != "":
		id, err := s.store.CreateArticleForStory(ctx, storyID, req.Text)
		if err != nil {
			s.logger.Error("ingest article create failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to store article")
			return
		}
		articleID = &id
		if err := s.dispatchArticlePipeline(ctx, storyID, id); err != nil {
			s.logger.Error("ingest dispatch failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to dispatch jobs")
			return
		}
	case req.URL != "":
		jobKey := fmt.Sprintf("%s:%d", ingest.QueueFetchArticle, storyID)
		payload := ingest.JobPayload{
			JobKey:  &jobKey,
			StoryID: storyID,
			Attempt: 1,
			TraceID: s.newTraceID(),
		}
		published, err := s.disp.Publish(ctx, ingest.QueueFetchArticle, payload, jobKey)
		if err != nil {
			s.logger.Error("ingest dispatch failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to dispatch jobs")
			return
		}
		metrics.ObservePublish(ingest.QueueFetchArticle, published)
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   true,
		"story_id":   storyID,
		"article_id": articleID,
	})
}

func (s *Server) dispatchArticlePipeline(ctx context.Context, storyID, articleID int64) error {
	jobs := []struct {
		queue   string
		payload ingest.JobPayload
	}{
		{ingest.QueueSummarize, ingest.JobPayload{StoryID: storyID, ArticleID: &articleID, Attempt: 1}},
		{ingest.QueueEmbed, ingest.JobPayload{StoryID: storyID, ArticleID: &articleID, ModelKey: "default", Attempt: 1}},
		{ingest.QueueTag, ingest.JobPayload{StoryID: storyID, ArticleID: &articleID, Attempt: 1}},
	}
	for _, job := range jobs {
		job.payload.TraceID = s.newTraceID()
		if _, err := s.disp.Publish(ctx, job.queue, job.payload, ""); err != nil {
			return fmt.Errorf("publish %s job: %w", job.queue, err)
		}
		metrics.ObservePublish(job.queue, true)
	}
	return nil
}

func (s *Server) getLastRun(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.lastRun.LastRun(r.Context())
	if err != nil {
		s.logger.Error("last-run read failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read last run")
		return
	}
	if len(snapshot) == 0 {
		s.writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) newTraceID() string {
	if s.idGen == nil {
		return ""
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return ""
	}
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
