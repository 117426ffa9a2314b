package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/db"
	"github.com/jandubois/dchealth/internal/report"
	"github.com/jandubois/dchealth/internal/watcher"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": watcher.Version})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []db.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		http.Error(w, "scheduler not running", http.StatusServiceUnavailable)
		return
	}
	if !s.trigger.TriggerImmediate() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already queued"})
		return
	}
	s.logger.Info("check triggered via API", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r, "")
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	report.RenderJSON(w, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	report.RenderJSON(w, run)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r, "")
	if !ok {
		return
	}
	s.writeReport(w, run)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	s.writeReport(w, run)
}

func (s *Server) writeReport(w http.ResponseWriter, run *collector.Run) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderHTML(w, run, s.report); err != nil {
		s.logger.Error("render report failed", "run", run.ID, "error", err)
	}
}

// loadRun fetches the run with id, or the latest run for an empty id. It
// writes the error response itself and reports whether to continue.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request, id string) (*collector.Run, bool) {
	var run *collector.Run
	var err error
	if id == "" {
		run, err = s.store.LatestRun(r.Context())
	} else {
		run, err = s.store.GetRun(r.Context(), id)
	}
	switch {
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
		return nil, false
	case err != nil:
		s.logger.Error("load run failed", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}
