package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	goRefresh "github.com/MrEthical07/goRefresh"
	"github.com/MrEthical07/goRefresh/diagnostics"
	"github.com/MrEthical07/goRefresh/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// opsService is the slice of *goRefresh.Service the ops endpoints use.
type opsService interface {
	Health(ctx context.Context) goRefresh.HealthStatus
	Diagnostics(ctx context.Context, userID string) (*diagnostics.Snapshot, error)
	ListSessions(ctx context.Context, userID string) ([]session.Descriptor, error)
	LogoutAll(ctx context.Context, userID string) (int, error)
}

type opsServer struct {
	svc      opsService
	log      *zap.Logger
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

func newOpsServer(svc opsService, reg prometheus.Registerer, log *zap.Logger) (*opsServer, error) {
	s := &opsServer{
		svc: svc,
		log: log,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refresh_ops_http_request_duration_seconds",
			Help:    "Duration of ops HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refresh_ops_http_requests_total",
			Help: "Total number of ops HTTP requests.",
		}, []string{"path", "method", "status"}),
	}
	if reg != nil {
		if err := reg.Register(s.duration); err != nil {
			return nil, err
		}
		if err := reg.Register(s.requests); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// routes mounts the ops API. metrics may be nil.
func (s *opsServer) routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Get("/diagnostics", s.handleDiagnostics)
	r.Get("/diagnostics/{userID}", s.handleDiagnostics)
	r.Get("/users/{userID}/sessions", s.handleListSessions)
	r.Delete("/users/{userID}/sessions", s.handleRevokeSessions)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func (s *opsServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		s.duration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		s.requests.WithLabelValues(path, r.Method, status).Inc()
	})
}

func (s *opsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health(r.Context())
	status := http.StatusOK
	if !h.StoreAvailable {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"backend":          h.Backend,
		"store_available":  h.StoreAvailable,
		"store_latency_ms": h.StoreLatency.Milliseconds(),
		"conn_state":       h.ConnState,
		"fallback_active":  h.FallbackActive,
	})
}

func (s *opsServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Diagnostics(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *opsServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListSessions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []session.Descriptor{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *opsServer) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	n, err := s.svc.LogoutAll(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("sessions revoked by operator",
		zap.String("user_id", userID),
		zap.Int("revoked", n),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)
	s.writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (s *opsServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, goRefresh.ErrUserUnknown):
		status = http.StatusBadRequest
	case errors.Is(err, goRefresh.ErrStoreUnavailable), errors.Is(err, goRefresh.ErrEngineNotReady):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("ops request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *opsServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}
