package server

import (
	"encoding/json"
	"net/http"
	"time"

	"moocore/builtins"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// AdminHandler builds the local admin/control surface: a thin,
// in-scope sibling of the Host<->Daemon wire protocol, useful for
// local operability and tests without speaking the full MOO network
// protocol. It exposes /status, /gc_stats, /checkpoint and /request_gc
// over plain JSON, plus the scheduler's Prometheus /metrics route.
func (s *Server) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/status", s.handleAdminStatus)
	r.Get("/gc_stats", s.handleAdminGCStats)
	r.Post("/checkpoint", s.handleAdminCheckpoint)
	r.Post("/request_gc", s.handleAdminRequestGC)
	if s.scheduler != nil {
		r.Handle("/metrics", s.scheduler.Metrics().Handler())
	}

	return r
}

// StartAdminHTTP starts the admin surface listening on addr (e.g.
// ":7778") in the background. Call Shutdown on the returned
// *http.Server during daemon teardown; a zero-value addr disables it
// entirely (callers should simply not call this method in that case).
func (s *Server) StartAdminHTTP(addr string) *http.Server {
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: s.AdminHandler(),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin HTTP surface stopped", zap.Error(err))
		}
	}()
	s.logger.Info("admin HTTP surface listening", zap.String("addr", addr))
	return httpSrv
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	dbPath := s.dbPath
	port := s.port
	s.mu.Unlock()

	queued := 0
	if s.scheduler != nil {
		queued = s.scheduler.QueuedTaskCount()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":      running,
		"db_path":      dbPath,
		"port":         port,
		"queued_tasks": queued,
		"time":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminGCStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, builtins.GCStatsSnapshot())
}

func (s *Server) handleAdminCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.checkpoint(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminRequestGC(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not ready"})
		return
	}
	collected := s.scheduler.TriggerGC()
	writeJSON(w, http.StatusOK, map[string]int{"collected": collected})
}
