// Package server exposes the utterance pipeline and session state over
// HTTP. It is a thin layer: request decoding, session id allocation, and
// JSON encoding; all behavior lives in the pipeline packages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"argochat/internal/db"
	"argochat/internal/history"
	"argochat/internal/logger"
	"argochat/internal/safety"
	"argochat/internal/shape"
)

// Pipeline handles one utterance. Implemented by agent.Agent, mocked in
// tests.
type Pipeline interface {
	HandleUtterance(ctx context.Context, sessionID, text string) shape.Envelope
}

// StatsProvider reports measurement store contents. Implemented by
// db.Store.
type StatsProvider interface {
	Stats(ctx context.Context) (*db.Stats, error)
}

// Server holds the handler dependencies.
type Server struct {
	pipeline Pipeline
	history  *history.Manager
	policy   *safety.Policy
	stats    StatsProvider
	log      *slog.Logger
}

func New(pipeline Pipeline, hist *history.Manager, policy *safety.Policy, stats StatsProvider) *Server {
	return &Server{
		pipeline: pipeline,
		history:  hist,
		policy:   policy,
		stats:    stats,
		log:      logger.Component("server"),
	}
}

// Router builds the HTTP routing table. /query is kept as an alias of
// /api/v1/query for clients of the pre-versioned API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Post("/query", s.handleQuery)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}/history", s.handleHistory)
		r.Get("/schema", s.handleSchema)
		r.Get("/stats", s.handleStats)
	})
	return r
}

type queryRequest struct {
	Query      string `json:"query"`
	SessionID  string `json:"session_id,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// queryResponse is the envelope plus the session id the turn landed in,
// so a client that omitted one can keep the conversation going.
type queryResponse struct {
	shape.Envelope
	SessionID string `json:"session_id"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	env := s.pipeline.HandleUtterance(r.Context(), sessionID, req.Query)
	if req.MaxResults > 0 && len(env.Data) > req.MaxResults {
		env.Data = env.Data[:req.MaxResults]
		env.RowCount = len(env.Data)
	}
	s.writeJSON(w, http.StatusOK, queryResponse{Envelope: env, SessionID: sessionID})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if _, err := s.history.EnsureSession(r.Context(), id); err != nil {
		s.log.Error("session create failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	sess, err := s.history.Session(r.Context(), id)
	if err != nil {
		s.log.Error("session read-back failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"created_at": sess.CreatedAt,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.history.Sessions(r.Context())
	if err != nil {
		s.log.Error("session list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.history.Session(r.Context(), id); err != nil {
		if errors.Is(err, history.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.Error("session lookup failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	turns, err := s.history.Context(r.Context(), id, 0)
	if err != nil {
		s.log.Error("history fetch failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      turns,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.policy)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.log.Error("stats query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not read stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
