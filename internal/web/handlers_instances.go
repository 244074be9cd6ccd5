package web

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/inventory"
)

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.deps.Inventory.Instances(userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, instances)
}

type createInstanceRequest struct {
	Name     string          `json:"name"`
	URL      string          `json:"url"`
	AuthKind domain.AuthKind `json:"auth_kind"`
	Token    string          `json:"token,omitempty"`
	Username string          `json:"username,omitempty"`
	Password string          `json:"password,omitempty"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	uid := userID(r)
	inst := domain.Instance{
		ID:       uuid.NewString(),
		UserID:   uid,
		Name:     req.Name,
		URL:      req.URL,
		AuthKind: req.AuthKind,
	}
	if err := s.deps.Store.SaveInstance(inst); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Token != "" || req.Username != "" {
		cred := domain.Credential{
			InstanceID: inst.ID,
			UserID:     uid,
			Kind:       req.AuthKind,
			Token:      req.Token,
			Username:   req.Username,
			Password:   req.Password,
		}
		if err := s.deps.Store.SaveCredential(cred); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteInstance(userID(r), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	opts := inventory.Options{OnlyUpdates: r.URL.Query().Get("only_updates") == "true"}
	containers, err := s.deps.Inventory.ListAnnotatedContainers(r.Context(), userID(r), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, containers)
}
