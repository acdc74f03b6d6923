package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xelth-com/pcsyncgo/internal/buildinfo"
	"github.com/xelth-com/pcsyncgo/internal/database"
	"github.com/xelth-com/pcsyncgo/internal/mapping"
	"github.com/xelth-com/pcsyncgo/internal/middleware"
	"github.com/xelth-com/pcsyncgo/internal/sync"
	"github.com/xelth-com/pcsyncgo/internal/websocket"
)

// RemoteAdmin is the part of the remote client the admin surface uses directly
type RemoteAdmin interface {
	mapping.Directory
	TestConnection(ctx context.Context) error
}

// Deps are the services the router exposes
type Deps struct {
	DB        *database.DB
	Engine    *sync.SyncEngine
	Scheduler *sync.Scheduler
	Remote    RemoteAdmin
	Hub       *websocket.Hub
	JWTSecret string
}

// Router wraps the mux router and the sync services
type Router struct {
	*mux.Router
	db        *database.DB
	engine    *sync.SyncEngine
	scheduler *sync.Scheduler
	remote    RemoteAdmin
	hub       *websocket.Hub
	hooks     *deduplicator
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps) *Router {
	r := &Router{
		Router:    mux.NewRouter(),
		db:        deps.DB,
		engine:    deps.Engine,
		scheduler: deps.Scheduler,
		remote:    deps.Remote,
		hub:       deps.Hub,
		hooks:     newDeduplicator(5 * time.Minute),
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// API routes (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(deps.JWTSecret))

	api.HandleFunc("/sync/status", r.getSyncStatus).Methods("GET")
	api.HandleFunc("/sync/run", r.runSync).Methods("POST")
	api.HandleFunc("/sync/reconcile", r.runReconcile).Methods("POST")
	api.HandleFunc("/sync/process", r.processJobs).Methods("POST")
	api.HandleFunc("/sync/pull/{object_type}", r.pullObjectType).Methods("POST")
	api.HandleFunc("/sync/states", r.listStates).Methods("GET")
	api.HandleFunc("/sync/states/{object_type}/reset", r.resetWatermark).Methods("POST")
	api.HandleFunc("/sync/history", r.listHistory).Methods("GET")

	api.HandleFunc("/sync/jobs", r.listJobs).Methods("GET")
	api.HandleFunc("/sync/jobs/stats", r.jobStats).Methods("GET")
	api.HandleFunc("/sync/jobs/{id:[0-9]+}", r.getJob).Methods("GET")
	api.HandleFunc("/sync/jobs/{id:[0-9]+}/retry", r.retryJob).Methods("POST")

	api.HandleFunc("/remote/test", r.testConnection).Methods("POST")

	api.HandleFunc("/mappings/users", r.listUserMappings).Methods("GET")
	api.HandleFunc("/mappings/users/fetch", r.fetchUsers).Methods("POST")
	api.HandleFunc("/mappings/users/{id:[0-9]+}", r.assignUser).Methods("PUT")
	api.HandleFunc("/mappings/stages", r.listStageMappings).Methods("GET")
	api.HandleFunc("/mappings/stages/fetch", r.fetchPipelines).Methods("POST")
	api.HandleFunc("/mappings/stages/{id:[0-9]+}", r.assignStage).Methods("PUT")

	api.HandleFunc("/hooks/{object_type}", r.hostHook).Methods("POST")

	if r.hub != nil {
		ws := r.PathPrefix("/ws").Subrouter()
		ws.Use(middleware.AuthMiddleware(deps.JWTSecret))
		ws.HandleFunc("", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWs(r.hub, w, req)
		})
	}

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": buildinfo.Version(),
		"started": buildinfo.StartTime,
	}
	if r.db != nil {
		if err := r.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	if r.hub != nil {
		status["ws_clients"] = r.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, status)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
