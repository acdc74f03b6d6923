package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/xelth-com/pcsyncgo/internal/mapping"
)

func (r *Router) listUserMappings(w http.ResponseWriter, req *http.Request) {
	rows, err := r.engine.Mapping().ListUsers(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (r *Router) listStageMappings(w http.ResponseWriter, req *http.Request) {
	rows, err := r.engine.Mapping().ListStages(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// fetchUsers refreshes the user mapping rows from the remote
func (r *Router) fetchUsers(w http.ResponseWriter, req *http.Request) {
	result, err := r.engine.Mapping().FetchUsers(req.Context(), r.remote)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// fetchPipelines refreshes the stage mapping rows from the remote
func (r *Router) fetchPipelines(w http.ResponseWriter, req *http.Request) {
	result, err := r.engine.Mapping().FetchPipelines(req.Context(), r.remote)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type assignRequest struct {
	LocalID *int64 `json:"localId"`
}

// assignUser sets or clears the host user of a user mapping
func (r *Router) assignUser(w http.ResponseWriter, req *http.Request) {
	r.assign(w, req, r.engine.Mapping().AssignUser)
}

// assignStage sets or clears the host stage of a stage mapping
func (r *Router) assignStage(w http.ResponseWriter, req *http.Request) {
	r.assign(w, req, r.engine.Mapping().AssignStage)
}

func (r *Router) assign(w http.ResponseWriter, req *http.Request, assign func(ctx context.Context, id uint, localID *int64) error) {
	id, _ := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)

	var body assignRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := assign(req.Context(), uint(id), body.LocalID); err != nil {
		if errors.Is(err, mapping.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Mapping not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"localId": body.LocalID,
	})
}
