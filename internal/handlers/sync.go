package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/xelth-com/pcsyncgo/internal/remote"
	"github.com/xelth-com/pcsyncgo/internal/sync"
)

// getSyncStatus returns scheduler state, job counts and per type watermarks
func (r *Router) getSyncStatus(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	stats, err := r.engine.Queue().Stats(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	states, err := r.engine.States(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cfg := r.engine.Config()
	status := map[string]interface{}{
		"configured": cfg.Configured(),
		"direction":  cfg.Direction,
		"entities":   cfg.Entities,
		"jobs":       stats,
		"states":     states,
	}
	if r.scheduler != nil {
		status["scheduler"] = r.scheduler.Status()
	}
	respondJSON(w, http.StatusOK, status)
}

// runSync runs an incremental sync now
func (r *Router) runSync(w http.ResponseWriter, req *http.Request) {
	r.respondRun(w, func() (sync.SyncResult, error) {
		if r.scheduler != nil {
			return r.scheduler.SyncNow(req.Context())
		}
		return r.engine.RunIncrementalSync(req.Context()), nil
	})
}

// runReconcile runs the nightly reconciliation now
func (r *Router) runReconcile(w http.ResponseWriter, req *http.Request) {
	r.respondRun(w, func() (sync.SyncResult, error) {
		if r.scheduler != nil {
			return r.scheduler.ReconcileNow(req.Context())
		}
		return r.engine.RunNightlyReconciliation(req.Context()), nil
	})
}

func (r *Router) respondRun(w http.ResponseWriter, run func() (sync.SyncResult, error)) {
	result, err := run()
	if errors.Is(err, sync.ErrSyncInProgress) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if errors.Is(result.Err, remote.ErrNotConfigured) {
		respondJSON(w, http.StatusPreconditionFailed, result)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     result.OK(),
		"result": result,
	})
}

// processJobs drains due push jobs once
func (r *Router) processJobs(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.engine.ProcessJobs(req.Context()))
}

// pullObjectType pulls one object type now
func (r *Router) pullObjectType(w http.ResponseWriter, req *http.Request) {
	t, err := sync.ParseObjectType(mux.Vars(req)["object_type"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := r.engine.PullObjectType(req.Context(), t)
	if errors.Is(result.Err, sync.ErrLeaseHeld) {
		respondJSON(w, http.StatusConflict, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// listStates returns the per type watermarks
func (r *Router) listStates(w http.ResponseWriter, req *http.Request) {
	states, err := r.engine.States(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, states)
}

// resetWatermark sets or clears last_pull_at for one object type
func (r *Router) resetWatermark(w http.ResponseWriter, req *http.Request) {
	t, err := sync.ParseObjectType(mux.Vars(req)["object_type"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body struct {
		Since *time.Time `json:"since"`
	}
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	if err := r.engine.ResetWatermark(req.Context(), t, body.Since); err != nil {
		if errors.Is(err, sync.ErrLeaseHeld) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"objectType": t,
		"since":      body.Since,
	})
}

// listHistory returns recent sync runs
func (r *Router) listHistory(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	rows, err := r.engine.History(req.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// listJobs returns queued jobs, newest first
func (r *Router) listJobs(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	jobs, err := r.engine.Queue().ListJobs(req.Context(), sync.JobFilter{
		Status:     q.Get("status"),
		ObjectType: q.Get("object_type"),
		Limit:      limit,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

// jobStats returns job counts per status
func (r *Router) jobStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.engine.Queue().Stats(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// getJob returns one job
func (r *Router) getJob(w http.ResponseWriter, req *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	job, err := r.engine.Queue().GetJob(req.Context(), uint(id))
	if errors.Is(err, sync.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// retryJob makes a job eligible immediately
func (r *Router) retryJob(w http.ResponseWriter, req *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	err := r.engine.Queue().RetryJob(req.Context(), uint(id))
	if errors.Is(err, sync.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	job, err := r.engine.Queue().GetJob(req.Context(), uint(id))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// testConnection checks the remote credentials
func (r *Router) testConnection(w http.ResponseWriter, req *http.Request) {
	if err := r.remote.TestConnection(req.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, remote.ErrNotConfigured) {
			status = http.StatusPreconditionFailed
		}
		respondJSON(w, status, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
