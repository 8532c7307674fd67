// Package api implements the Control API (C8): a net/http.ServeMux router
// exposing service/logs/metrics/dashboard endpoints over bearer-token
// authorization.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helm/internal/apierr"
	"helm/internal/auth"
	"helm/internal/logstore"
	"helm/internal/monitor"
	"helm/internal/registry"
	"helm/internal/supervisor"
	"helm/pkg/logging"
)

// TokenVerifier resolves a bearer token into a Principal. *auth.Verifier
// satisfies this; tests substitute a stub.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.Principal, error)
}

// Deps is everything the Control API needs from the rest of the
// orchestrator, passed by reference per the "no package-level singletons"
// design note: no package-level singletons.
type Deps struct {
	Catalog    *registry.Catalog
	Supervisor *supervisor.Supervisor
	Monitor    *monitor.Monitor
	LogStore   *logstore.Store
	Verifier   TokenVerifier
}

// NewServer builds the *http.ServeMux implementing every Control API
// endpoint, using Go 1.22+ method+pattern routing.
func NewServer(deps Deps) *http.ServeMux {
	s := &server{deps: deps}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /services", s.authenticated(s.handleListServices))
	mux.Handle("GET /services/status", s.authenticated(s.handleStatusAll))
	mux.Handle("GET /services/{name}/status", s.authenticated(s.handleStatusOne))
	mux.Handle("POST /services/{name}/start", s.authenticated(s.adminOnly(s.handleStart)))
	mux.Handle("POST /services/{name}/stop", s.authenticated(s.adminOnly(s.handleStop)))
	mux.Handle("POST /services/{name}/restart", s.authenticated(s.adminOnly(s.handleRestart)))

	mux.Handle("POST /logs/ingest", s.authenticated(s.handleLogsIngest))
	mux.Handle("GET /logs", s.authenticated(s.handleLogsQuery))
	mux.Handle("GET /metrics/{name}", s.authenticated(s.handleMetrics))

	mux.Handle("GET /dashboard/status", s.authenticated(s.handleDashboard))

	return mux
}

type server struct {
	deps Deps
}

type principalKey struct{}

// authenticated resolves the bearer token into a Principal and stores it
// in the request context (explicit authorization middleware
// replacing decorator-based auth).
func (s *server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apierr.New(apierr.KindUnauthorized, "missing bearer token"))
			return
		}
		principal, err := s.deps.Verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next(w, r.WithContext(ctx))
	}
}

// adminOnly gates mutating endpoints to admin user tokens; service tokens
// always bypass.
func (s *server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := r.Context().Value(principalKey{}).(auth.Principal)
		if !principal.IsAdmin() {
			writeError(w, apierr.New(apierr.KindForbidden, "admin permission level required"))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "helmd",
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.All())
}

func (s *server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.joinedStatusAll())
}

func (s *server) handleStatusOne(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	status, err := s.joinedStatus(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type startRequest struct {
	Mode string `json:"mode"`
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req startRequest
	decodeOptionalBody(r, &req)

	mode := supervisor.ModeDevelopment
	if req.Mode == string(supervisor.ModeProduction) {
		mode = supervisor.ModeProduction
	}

	if _, err := s.deps.Supervisor.Start(r.Context(), name, mode); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.joinedStatus(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.deps.Supervisor.Stop(name); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.joinedStatus(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req startRequest
	decodeOptionalBody(r, &req)
	mode := supervisor.ModeDevelopment
	if req.Mode == string(supervisor.ModeProduction) {
		mode = supervisor.ModeProduction
	}

	if _, err := s.deps.Supervisor.Restart(r.Context(), name, mode); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.joinedStatus(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type logIngestRequest struct {
	ServiceName string `json:"service_name"`
	Logs        []struct {
		Level     string            `json:"level"`
		Message   string            `json:"message"`
		Timestamp string            `json:"timestamp"`
		Context   map[string]string `json:"context"`
		TraceID   string            `json:"trace_id"`
		UserID    string            `json:"user_id"`
	} `json:"logs"`
}

func (s *server) handleLogsIngest(w http.ResponseWriter, r *http.Request) {
	var req logIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindMalformedRequest, "decoding log ingest body", err))
		return
	}
	if !registry.ValidName(req.ServiceName) {
		writeError(w, apierr.New(apierr.KindMalformedRequest, "invalid service_name"))
		return
	}

	entries := make([]logstore.LogEntry, 0, len(req.Logs))
	batchTraceID := uuid.NewString()
	for _, l := range req.Logs {
		ts := time.Now()
		if l.Timestamp != "" {
			parsed, err := time.Parse(time.RFC3339, l.Timestamp)
			if err != nil {
				writeError(w, apierr.New(apierr.KindMalformedRequest, "invalid timestamp: "+l.Timestamp))
				return
			}
			ts = parsed
		}
		entry := logstore.LogEntry{
			Timestamp:   ts,
			ServiceName: req.ServiceName,
			Level:       logstore.Level(l.Level),
			Message:     l.Message,
			Context:     l.Context,
			Hostname:    hostnameOf(r),
		}
		if l.TraceID != "" {
			entry.TraceID = &l.TraceID
		} else {
			// assign one so entries from the same ingest call can still be
			// correlated even when the caller didn't supply a trace id
			entry.TraceID = &batchTraceID
		}
		if l.UserID != "" {
			entry.UserID = &l.UserID
		}
		entries = append(entries, entry)
	}

	n, err := s.deps.LogStore.IngestBatch(r.Context(), entries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": n})
}

func (s *server) handleLogsQuery(w http.ResponseWriter, r *http.Request) {
	q := logstore.Query{
		ServiceName: r.URL.Query().Get("service_name"),
		MinLevel:    logstore.Level(r.URL.Query().Get("level")),
		TraceID:     r.URL.Query().Get("trace_id"),
		UserID:      r.URL.Query().Get("user_id"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.New(apierr.KindMalformedRequest, "invalid limit"))
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.New(apierr.KindMalformedRequest, "invalid offset"))
			return
		}
		q.Offset = n
	}

	entries, err := s.deps.LogStore.Query(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.deps.Catalog.Get(name); !ok {
		writeError(w, apierr.New(apierr.KindNotFound, "unknown service: "+name))
		return
	}
	// The metric_samples table exists (migrations/00002_metric_samples.sql),
	// but nothing writes to or reads from it: for a known service this
	// handler always returns an empty list, and no time-range parameters
	// are read.
	writeJSON(w, http.StatusOK, []logstore.MetricSample{})
}

func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.joinedStatusAll())
}

type joinedStatus struct {
	ServiceName   string    `json:"service_name"`
	Status        string    `json:"status"`
	PID           int       `json:"pid,omitempty"`
	Port          int       `json:"port"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	Health        string    `json:"health"`
	HealthMessage string    `json:"health_message,omitempty"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	LastChecked   time.Time `json:"last_checked"`
}

func (s *server) joinedStatus(name string) (joinedStatus, error) {
	entry, ok := s.deps.Catalog.Get(name)
	if !ok {
		return joinedStatus{}, apierr.New(apierr.KindNotFound, "unknown service: "+name)
	}
	rec, err := s.deps.Supervisor.Status(name)
	if err != nil {
		return joinedStatus{}, err
	}
	out := joinedStatus{
		ServiceName: name,
		Status:      string(rec.Status),
		PID:         rec.PID,
		Port:        entry.Port,
		StartedAt:   rec.StartedAt,
		Health:      string(monitor.HealthUnknown),
	}
	if health, ok := s.deps.Monitor.Status(name); ok {
		out.Health = string(health.Health)
		out.HealthMessage = health.HealthMessage
		out.CPUPercent = health.CPUPercent
		out.MemoryMB = health.MemoryMB
		out.LastChecked = health.LastChecked
	}
	return out, nil
}

func (s *server) joinedStatusAll() map[string]joinedStatus {
	out := make(map[string]joinedStatus)
	for _, entry := range s.deps.Catalog.All() {
		st, err := s.joinedStatus(entry.Name)
		if err != nil {
			continue
		}
		out[entry.Name] = st
	}
	return out
}

func hostnameOf(r *http.Request) string {
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		return h
	}
	return r.Host
}

func decodeOptionalBody(r *http.Request, v interface{}) {
	if r.Body == nil || r.ContentLength == 0 {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("api", err, "failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := apierr.HTTPStatus(kind)
	writeJSON(w, status, map[string]string{
		"kind":    string(kind),
		"message": err.Error(),
	})
}
