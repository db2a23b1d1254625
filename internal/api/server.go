// Package api exposes the HTTP query interface for the knowledge pipeline.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/pipeline"
	"github.com/clinassist/kbpipeline/internal/query"
	"github.com/clinassist/kbpipeline/internal/state"
	"github.com/clinassist/kbpipeline/internal/telemetry"
)

const maxQueryLength = 2000

// Server wires HTTP handlers to the query router and the crawl stores.
type Server struct {
	router   chi.Router
	queries  *query.Router
	records  pipeline.RecordStore
	states   *state.Store
	profiles map[string]config.SourceProfile
	idGen    pipeline.IDGenerator
	log      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queries *query.Router,
	records pipeline.RecordStore,
	states *state.Store,
	profiles map[string]config.SourceProfile,
	idGen pipeline.IDGenerator,
	log *zap.Logger,
) *Server {
	s := &Server{
		queries:  queries,
		records:  records,
		states:   states,
		profiles: profiles,
		idGen:    idGen,
		log:      log.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.postQuery)
		r.Get("/sources", s.getSources)
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
	// Ready once the state dir is reachable; corpus backends are checked
	// lazily per query so one slow engine does not flip readiness.
	if s.states == nil {
		writeError(w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type queryRequest struct {
	Query   string   `json:"query"`
	Sources []string `json:"sources,omitempty"`
}

func (s *Server) postQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query too long")
		return
	}
	for _, src := range req.Sources {
		if _, ok := s.profiles[src]; !ok {
			writeError(w, http.StatusBadRequest, "unknown source: "+src)
			return
		}
	}

	answer, err := s.queries.Search(r.Context(), req.Query, req.Sources)
	if err != nil {
		s.log.Error("query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

type sourceStatus struct {
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Corpus     string         `json:"corpus"`
	Cataloged  int            `json:"cataloged"`
	ByStatus   map[string]int `json:"by_status"`
	LastRunID  string         `json:"last_run_id,omitempty"`
	LastUpdate *time.Time     `json:"last_update,omitempty"`
}

func (s *Server) getSources(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]sourceStatus, 0, len(names))
	for _, name := range names {
		profile := s.profiles[name]
		status := sourceStatus{
			Name:     name,
			Kind:     string(profile.Kind),
			Corpus:   profile.Corpus,
			ByStatus: map[string]int{},
		}
		if catalog, err := s.states.LoadCatalog(name); err == nil {
			status.Cataloged = len(catalog.IDs)
		}
		if cp, err := s.states.LoadCheckpoint(name); err == nil {
			status.LastRunID = cp.RunID
			at := cp.UpdatedAt
			status.LastUpdate = &at
		}
		records, err := s.records.ListRecords(r.Context(), name, "")
		if err != nil {
			s.log.Error("list records failed", zap.String("source", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read source status")
			return
		}
		for _, rec := range records {
			status.ByStatus[string(rec.Status)]++
		}
		out = append(out, status)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, err := s.idGen.NewID()
		if err != nil {
			reqID = "unknown"
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
