package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
)

func (s *Server) handleListBatchRuns(w http.ResponseWriter, r *http.Request) {
	var jobKind *domain.JobKind
	if v := r.URL.Query().Get("job_kind"); v != "" {
		k := domain.JobKind(v)
		jobKind = &k
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.deps.Store.ListBatchRuns(userID(r), jobKind, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetBatchConfig(w http.ResponseWriter, r *http.Request) {
	kind := domain.JobKind(r.URL.Query().Get("job_kind"))
	if kind == "" {
		writeError(w, http.StatusBadRequest, "job_kind is required")
		return
	}
	cfg, found, err := s.deps.Store.GetBatchJobConfig(userID(r), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no config for job kind")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type setBatchConfigRequest struct {
	JobKind         domain.JobKind `json:"job_kind"`
	Enabled         bool           `json:"enabled"`
	IntervalMinutes int            `json:"interval_minutes"`
	LogLevel        string         `json:"log_level"`
}

func (s *Server) handleSetBatchConfig(w http.ResponseWriter, r *http.Request) {
	var req setBatchConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JobKind == "" || req.IntervalMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "job_kind and a positive interval_minutes are required")
		return
	}

	cfg := domain.BatchJobConfig{
		UserID:          userID(r),
		JobKind:         req.JobKind,
		Enabled:         req.Enabled,
		IntervalMinutes: req.IntervalMinutes,
		LogLevel:        req.LogLevel,
	}
	if err := s.deps.Store.SaveBatchJobConfig(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
