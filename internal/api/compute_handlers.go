package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/mapcompute/internal/compute"
	"github.com/JakeFAU/mapcompute/internal/store"
)

// startCompute handles POST /v1/compute/{job}: 202 when the job starts, 409
// while another job runs, 404 for an unknown job.
func (s *Server) startCompute(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	job, err := compute.ParseJob(chi.URLParam(r, "job"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !s.runner.Compute(s.baseCtx, job) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "a job is already running",
			"status": s.runner.Status(),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, s.runner.Status())
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		writeError(w, http.StatusServiceUnavailable, "object store unavailable")
		return
	}
	names, err := s.objects.ListObjects(r.Context())
	if err != nil {
		s.logger.Error("list objects failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list objects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": names})
}

// getObject serves the stored JSON untouched.
func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		writeError(w, http.StatusServiceUnavailable, "object store unavailable")
		return
	}
	name := chi.URLParam(r, "name")
	data, err := s.objects.GetObject(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "object not found")
			return
		}
		s.logger.Error("get object failed", zap.String("object", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load object")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
