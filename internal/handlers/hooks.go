package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/sync"
)

// HookRequest is posted by a host automated action after a create or write
type HookRequest struct {
	ID          int64    `json:"id"`
	Event       string   `json:"event"`
	Fields      []string `json:"fields,omitempty"`
	BodyChanged *bool    `json:"body_changed,omitempty"`
	// Origin "pull" marks writes made by the sync engine itself
	Origin string `json:"origin,omitempty"`
}

// hostHook routes a host change notification to the change trigger
func (r *Router) hostHook(w http.ResponseWriter, req *http.Request) {
	t, err := sync.ParseObjectType(mux.Vars(req)["object_type"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body HookRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if body.ID <= 0 {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if r.hooks.IsDuplicate(req.Header.Get("X-Request-ID")) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"queued": false, "duplicate": true})
		return
	}

	ctx := req.Context()
	if body.Origin == "pull" {
		ctx = host.WithOrigin(ctx, host.OriginPull)
	}

	fields := body.Fields
	if body.BodyChanged != nil {
		if !*body.BodyChanged && t == sync.ObjectNote && body.Event == sync.EventUpdate {
			respondJSON(w, http.StatusOK, map[string]interface{}{"queued": false})
			return
		}
		if *body.BodyChanged {
			fields = append(fields, "body")
		}
	}

	job, err := r.engine.Trigger().HandleChange(ctx, host.Change{
		Model:  t.LocalModel(),
		ID:     body.ID,
		Event:  body.Event,
		Fields: fields,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if job == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"queued": false})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued": true,
		"job":    job,
	})
}
