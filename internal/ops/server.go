// Package ops exposes the operator inspection surface: live
// workspaces, pending spool items and a health probe.
package ops

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seisworks/dlrepick/internal/catalog"
	"github.com/seisworks/dlrepick/internal/spool"
	"github.com/seisworks/dlrepick/internal/workspace"
)

type Server struct {
	catalog catalog.Catalog
	spaces  *workspace.Map
	work    spool.Queue
	results spool.Queue
	logger  *log.Logger
}

// New wires the ops server. Any dependency may be nil; the matching
// routes then report empty or degrade.
func New(cat catalog.Catalog, spaces *workspace.Map, work, results spool.Queue, logger *log.Logger) *Server {
	return &Server{catalog: cat, spaces: spaces, work: work, results: results, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/workspaces", s.handleWorkspaces)
	r.Get("/workspaces/{eventID}", s.handleWorkspace)
	r.Delete("/workspaces/{eventID}", s.handleClearWorkspace)
	r.Get("/spool/work", s.handleSpool(s.work))
	r.Get("/spool/results", s.handleSpool(s.results))

	return r
}

// Serve runs the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	s.logger.Printf("ops server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if s.catalog != nil {
		if err := s.catalog.Ping(ctx); err != nil {
			status["ok"] = false
			status["catalog"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	if s.spaces == nil {
		respondJSON(w, http.StatusOK, []workspace.Summary{})
		return
	}
	respondJSON(w, http.StatusOK, s.spaces.Snapshot())
}

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if s.spaces != nil {
		for _, sum := range s.spaces.Snapshot() {
			if sum.EventID == eventID {
				respondJSON(w, http.StatusOK, sum)
				return
			}
		}
	}
	respondError(w, http.StatusNotFound, "no workspace for "+eventID)
}

// handleClearWorkspace is the operator override for the unconditional
// attempted-pick suppression: dropping the workspace makes every pick
// of the event eligible again.
func (s *Server) handleClearWorkspace(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if s.spaces == nil {
		respondError(w, http.StatusNotFound, "no workspaces")
		return
	}
	s.spaces.Clear(eventID)
	s.logger.Printf("workspace %s cleared by operator", eventID)
	respondJSON(w, http.StatusOK, map[string]string{"cleared": eventID})
}

type spoolEntry struct {
	Token   string `json:"token"`
	EventID string `json:"eventID"`
}

func (s *Server) handleSpool(q spool.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if q == nil {
			respondJSON(w, http.StatusOK, []spoolEntry{})
			return
		}
		// a consuming poll would steal items from the service's own
		// consumer, so only backends with a read-only view are listed
		ins, ok := q.(spool.Inspector)
		if !ok {
			respondError(w, http.StatusNotImplemented,
				"pending inspection is only available on the filesystem spool")
			return
		}
		items, err := ins.PendingSnapshot(r.Context(), 0)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]spoolEntry, 0, len(items))
		for _, it := range items {
			out = append(out, spoolEntry{Token: it.Token, EventID: it.EventID})
		}
		respondJSON(w, http.StatusOK, out)
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
