// Package api serves a small local HTTP control surface for a running daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sfo-go/internal/history"
	"sfo-go/internal/pipeline"
	"sfo-go/internal/sfo"
)

const (
	defaultHistoryLimit = 20
	requestTimeout      = 60 * time.Second
)

// Organizer is the part of sfo.Organizer the API drives.
type Organizer interface {
	GetStats() sfo.Stats
	UndoLast() (*sfo.HistoryEntry, error)
	UndoByID(id int64) (*sfo.HistoryEntry, error)
}

// History answers history queries.
type History interface {
	Search(query string, since time.Time) []*sfo.HistoryEntry
	Stats() history.Stats
}

// PipelineStats reports live pipeline counters. It may be nil.
type PipelineStats interface {
	Stats() pipeline.Stats
}

// Server is the control API.
type Server struct {
	router   *chi.Mux
	org      Organizer
	history  History
	pipeline PipelineStats
	logger   sfo.Logger
	server   *http.Server
}

// NewServer builds the router.
func NewServer(org Organizer, hist History, pipe PipelineStats, logger sfo.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		org:      org,
		history:  hist,
		pipeline: pipe,
		logger:   sfo.With(logger, "component", "api"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(requestTimeout))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Route("/history", func(r chi.Router) {
		r.Get("/", s.handleHistory)
		r.Get("/stats", s.handleHistoryStats)
	})
	s.router.Route("/undo", func(r chi.Router) {
		r.Post("/", s.handleUndoLast)
		r.Post("/{id}", s.handleUndoByID)
	})
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("control API listening", "addr", ln.Addr().String())
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "sfo"})
}

type statsResponse struct {
	Organizer sfo.Stats       `json:"organizer"`
	Pipeline  *pipeline.Stats `json:"pipeline,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Organizer: s.org.GetStats()}
	if s.pipeline != nil {
		ps := s.pipeline.Stats()
		resp.Pipeline = &ps
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if raw := q.Get("n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid n %q", raw))
			return
		}
		limit = n
	}
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since %q: want RFC 3339", raw))
			return
		}
		since = t
	}

	entries := s.history.Search(q.Get("q"), since)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []*sfo.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.history.Stats())
}

func (s *Server) handleUndoLast(w http.ResponseWriter, r *http.Request) {
	entry, err := s.org.UndoLast()
	s.writeUndo(w, entry, err)
}

func (s *Server) handleUndoByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id %q", chi.URLParam(r, "id")))
		return
	}
	entry, err := s.org.UndoByID(id)
	s.writeUndo(w, entry, err)
}

func (s *Server) writeUndo(w http.ResponseWriter, entry *sfo.HistoryEntry, err error) {
	if err != nil {
		status := undoStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("undo failed", "error", err)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func undoStatus(err error) int {
	switch {
	case errors.Is(err, sfo.ErrNothingToUndo), errors.Is(err, sfo.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, sfo.ErrEntryNotUndoable), errors.Is(err, history.ErrSourceOccupied):
		return http.StatusConflict
	case errors.Is(err, sfo.ErrUndoTargetMissing):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
