package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/intent"
)

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := s.deps.Store.ListIntents(userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, intents)
}

type createIntentRequest struct {
	Name              string             `json:"name"`
	Description       *string            `json:"description,omitempty"`
	Enabled           bool               `json:"enabled"`
	ScheduleKind      domain.ScheduleKind `json:"schedule_kind"`
	ScheduleCron      *string            `json:"schedule_cron,omitempty"`
	DryRun            bool               `json:"dry_run"`
	MatchContainers   []string           `json:"match_containers,omitempty"`
	MatchImages       []string           `json:"match_images,omitempty"`
	MatchInstances    []string           `json:"match_instances,omitempty"`
	MatchStacks       []string           `json:"match_stacks,omitempty"`
	MatchRegistries   []string           `json:"match_registries,omitempty"`
	ExcludeContainers []string           `json:"exclude_containers,omitempty"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	it := domain.Intent{
		ID:                uuid.NewString(),
		UserID:            userID(r),
		Name:              req.Name,
		Description:       req.Description,
		Enabled:           req.Enabled,
		ScheduleKind:      req.ScheduleKind,
		ScheduleCron:      req.ScheduleCron,
		DryRun:            req.DryRun,
		MatchContainers:   req.MatchContainers,
		MatchImages:       req.MatchImages,
		MatchInstances:    req.MatchInstances,
		MatchStacks:       req.MatchStacks,
		MatchRegistries:   req.MatchRegistries,
		ExcludeContainers: req.ExcludeContainers,
	}
	if err := s.deps.Store.SaveIntent(it); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleDeleteIntent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteIntent(userID(r), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecuteIntent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	uid := userID(r)

	it, found, err := s.deps.Store.GetIntent(uid, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "intent not found")
		return
	}

	var dryRunOverride *bool
	if v := r.URL.Query().Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			dryRunOverride = &b
		}
	}

	summary, err := s.deps.Executor.Execute(r.Context(), it, intent.Options{
		TriggerKind:    domain.TriggerManual,
		DryRunOverride: dryRunOverride,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.deps.Events != nil {
		s.deps.Events.Publish(eventForExecution(summary))
	}
	writeJSON(w, http.StatusOK, summary.Execution)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	execs, err := s.deps.Store.ListExecutionsForIntent(userID(r), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, execs)
}
