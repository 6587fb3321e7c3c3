// Package ops exposes the operational HTTP surface: liveness, Prometheus
// metrics, and the admin registry-reload operation. The conversational
// surface is intentionally absent; callers embed the engine in-process.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// ProgressReader is the tracker view the ops surface needs
type ProgressReader interface {
	Status(trackerID string) (models.ProgressSnapshot, error)
}

type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	httpServer *http.Server
	reloader   ports.RegistryReloader
	sessions   ports.SessionManager
	progress   ProgressReader
	logger     *slog.Logger
}

func NewServer(cfg config.ServerConfig, reloader ports.RegistryReloader, sessions ports.SessionManager, progress ProgressReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		reloader: reloader,
		sessions: sessions,
		progress: progress,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Post("/registries/reload", s.handleReload)
		r.Get("/sessions", s.handleActiveSessions)
		r.Get("/trackers/{id}", s.handleTrackerStatus)
	})

	s.router = r
}

// Handler returns the assembled router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("ops server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.reloader.Reload(r.Context()); err != nil {
		s.logger.Error("registry reload failed, previous snapshots retained", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.Active(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	type sessionInfo struct {
		ID           string    `json:"id"`
		UserID       string    `json:"user_id"`
		State        string    `json:"state"`
		TurnCount    int       `json:"turn_count"`
		LastActivity time.Time `json:"last_activity"`
	}
	infos := make([]sessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, sessionInfo{
			ID:           session.ID,
			UserID:       session.UserID,
			State:        string(session.State),
			TurnCount:    session.TurnCount,
			LastActivity: session.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos, "count": len(infos)})
}

func (s *Server) handleTrackerStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.progress.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
