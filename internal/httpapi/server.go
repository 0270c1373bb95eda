package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
	apimw "github.com/hamed0406/apiwatch/internal/httpapi/middleware"
	"github.com/hamed0406/apiwatch/internal/repo"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 200
)

// Check is a readiness probe, e.g. broker metadata or a database ping.
type Check func(ctx context.Context) error

// Server exposes liveness, readiness and read-only views of the pipeline's
// output. Actions are admin-triggered one-off runs (probe cycle, alert cycle).
type Server struct {
	Logger    *zap.Logger
	Logs      repo.HealthLogStore
	Incidents repo.IncidentStore
	Ready     map[string]Check
	Actions   map[string]func(ctx context.Context) error
}

func NewServer(l *zap.Logger, ls repo.HealthLogStore, is repo.IncidentStore) *Server {
	return &Server{
		Logger:    l,
		Logs:      ls,
		Incidents: is,
		Ready:     map[string]Check{},
		Actions:   map[string]func(ctx context.Context) error{},
	}
}

func (s *Server) Router(keys apimw.Keys, publicRPM int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RateLimit(publicRPM))
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAny(keys))
			r.Get("/endpoints/{id}/logs", s.handleLogs)
			r.Get("/endpoints/{id}/incidents", s.handleIncidents)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/admin/run/{action}", s.handleRun)
		})
	})
	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.Ready))
	for n := range s.Ready {
		names = append(names, n)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, n := range names {
		if err := s.Ready[n](ctx); err != nil {
			s.Logger.Warn("readiness_failed", zap.String("check", n), zap.Error(err))
			checks[n] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[n] = "ok"
	}
	writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
}

type logView struct {
	ID         int64           `json:"id"`
	CheckedAt  time.Time       `json:"checked_at"`
	Healthy    bool            `json:"is_healthy"`
	LatencyMS  int64           `json:"response_time_ms"`
	StatusCode *int            `json:"status_code"`
	Error      string          `json:"error_message,omitempty"`
	Body       json.RawMessage `json:"response_body,omitempty"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointParam(w, r)
	if !ok {
		return
	}
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLogLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	logs, err := s.Logs.LastN(r.Context(), id, limit)
	if err != nil {
		s.Logger.Error("api_logs_failed", zap.String("endpoint_id", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load logs")
		return
	}
	out := make([]logView, 0, len(logs))
	for _, l := range logs {
		v := logView{
			ID:         l.ID,
			CheckedAt:  l.CheckedAt,
			Healthy:    l.Healthy,
			LatencyMS:  l.LatencyMS,
			StatusCode: l.StatusCode,
			Error:      l.Error,
		}
		if l.Body != "" && json.Valid([]byte(l.Body)) {
			v.Body = json.RawMessage(l.Body)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type incidentView struct {
	ID        string     `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Reason    string     `json:"reason"`
	Error     string     `json:"initial_error"`
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointParam(w, r)
	if !ok {
		return
	}
	incs, err := s.Incidents.Since(r.Context(), id, time.Time{})
	if err != nil {
		s.Logger.Error("api_incidents_failed", zap.String("endpoint_id", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load incidents")
		return
	}
	// newest first
	out := make([]incidentView, 0, len(incs))
	for i := len(incs) - 1; i >= 0; i-- {
		inc := incs[i]
		out = append(out, incidentView{
			ID:        inc.ID,
			StartTime: inc.Start,
			EndTime:   inc.End,
			Reason:    string(inc.Reason()),
			Error:     inc.Label,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")
	fn, ok := s.Actions[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	start := time.Now()
	if err := fn(r.Context()); err != nil {
		s.Logger.Error("api_action_failed", zap.String("action", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "action failed")
		return
	}
	s.Logger.Info("api_action_done", zap.String("action", name), zap.Duration("took", time.Since(start)))
	writeJSON(w, http.StatusOK, map[string]string{"action": name, "status": "done"})
}

func endpointParam(w http.ResponseWriter, r *http.Request) (domain.EndpointID, bool) {
	id, err := domain.ParseEndpointID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint id")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
