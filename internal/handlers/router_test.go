package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/database"
	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/host/memstore"
	"github.com/xelth-com/pcsyncgo/internal/middleware"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
	"github.com/xelth-com/pcsyncgo/internal/sync"
)

const testSecret = "handler-test-secret"

// fakeCRM answers the handful of remote endpoints the admin surface touches
func fakeCRM(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/contact/addOrUpdateContact":
		fmt.Fprint(w, `{"data":{"id":"rc_1"}}`)
	case r.URL.Path == "/user/getUserList":
		fmt.Fprint(w, `{"users":[{"_id":"u1","first_name":"Ada","last_name":"Lovelace"}]}`)
	case r.URL.Path == "/deal/pipelines":
		fmt.Fprint(w, `{"data":[{"id":"p1","name":"Sales","stages":[{"id":"s1","name":"New"}]}]}`)
	case strings.HasSuffix(r.URL.Path, "/list"):
		fmt.Fprint(w, `{"data":[]}`)
	default:
		fmt.Fprint(w, `{}`)
	}
}

type testEnv struct {
	router *Router
	store  *memstore.Store
	engine *sync.SyncEngine
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	srv := httptest.NewServer(http.HandlerFunc(fakeCRM))
	t.Cleanup(srv.Close)

	cfg := config.DefaultSyncConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "test-key"
	client := remote.NewFromConfig(cfg)

	store := memstore.New()
	engine := sync.NewSyncEngine(sync.Options{DB: db.DB, Config: cfg, Host: store, Remote: client})
	store.SetObserver(engine.Trigger())

	token, err := middleware.GenerateToken(testSecret, "admin", time.Hour)
	require.NoError(t, err)

	router := NewRouter(Deps{
		DB:        db,
		Engine:    engine,
		Scheduler: sync.NewScheduler(engine),
		Remote:    client,
		JWTSecret: testSecret,
	})
	return &testEnv{router: router, store: store, engine: engine, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestHealthIsPublicAndAPIIsProtected(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	decode(t, rec, &status)
	assert.Equal(t, true, status["configured"])
	assert.Contains(t, status, "jobs")
	assert.Contains(t, status, "scheduler")
}

func TestHookQueuesThenProcessAndRetry(t *testing.T) {
	env := newTestEnv(t)
	partnerID := env.store.Seed(host.ModelPartner, host.Values{"name": "Ada Lovelace", "email": "ada@example.com"})

	rec := env.do(t, http.MethodPost, "/api/hooks/contact", map[string]interface{}{"id": partnerID, "event": "create"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var queued struct {
		Queued bool           `json:"queued"`
		Job    models.SyncJob `json:"job"`
	}
	decode(t, rec, &queued)
	assert.True(t, queued.Queued)
	assert.Equal(t, models.JobStatusPending, queued.Job.Status)

	rec = env.do(t, http.MethodGet, "/api/sync/jobs?status=pending", nil)
	var jobs []models.SyncJob
	decode(t, rec, &jobs)
	require.Len(t, jobs, 1)

	rec = env.do(t, http.MethodPost, "/api/sync/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch sync.BatchResult
	decode(t, rec, &batch)
	assert.Equal(t, 1, batch.Done)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/sync/jobs/%d", queued.Job.ID), nil)
	var job models.SyncJob
	decode(t, rec, &job)
	assert.Equal(t, models.JobStatusDone, job.Status)
	require.NotNil(t, job.RemoteID)
	assert.Equal(t, "rc_1", *job.RemoteID)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/sync/jobs/%d/retry", queued.Job.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &job)
	assert.Equal(t, models.JobStatusPending, job.Status)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sync/jobs/999", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/sync/jobs/999/retry", nil).Code)
}

func TestHookRejectsAndIgnores(t *testing.T) {
	env := newTestEnv(t)
	partnerID := env.store.Seed(host.ModelPartner, host.Values{"name": "Ada"})

	rec := env.do(t, http.MethodPost, "/api/hooks/contact", map[string]interface{}{"id": partnerID, "event": "update", "origin": "pull"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queued":false}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/hooks/invoice", map[string]interface{}{"id": 1, "event": "create"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/hooks/contact", map[string]interface{}{"id": partnerID, "event": "unlink"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/hooks/contact", map[string]interface{}{"event": "create"}).Code)

	rec = env.do(t, http.MethodPost, "/api/hooks/note", map[string]interface{}{"id": 5, "event": "update", "body_changed": false})
	assert.JSONEq(t, `{"queued":false}`, rec.Body.String())
}

func TestMappingFetchListAndAssign(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/mappings/users/fetch", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/mappings/stages/fetch", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var users []models.UserMapping
	decode(t, env.do(t, http.MethodGet, "/api/mappings/users", nil), &users)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].RemoteUserID)
	assert.Equal(t, "Ada Lovelace", users[0].RemoteUserName)
	assert.Nil(t, users[0].LocalUserID)

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/mappings/users/%d", users[0].ID), map[string]interface{}{"localId": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, env.do(t, http.MethodGet, "/api/mappings/users", nil), &users)
	require.NotNil(t, users[0].LocalUserID)
	assert.Equal(t, int64(7), *users[0].LocalUserID)

	var stages []models.StageMapping
	decode(t, env.do(t, http.MethodGet, "/api/mappings/stages", nil), &stages)
	require.Len(t, stages, 1)
	assert.Equal(t, "p1", stages[0].RemotePipelineID)
	assert.Equal(t, "s1", stages[0].RemoteStageID)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/mappings/stages/999", map[string]interface{}{"localId": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, fmt.Sprintf("/api/mappings/stages/%d", stages[0].ID), "nope").Code)
}

func TestRunSyncTestConnectionAndWatermarkReset(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/remote/test", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/sync/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run struct {
		OK bool `json:"ok"`
	}
	decode(t, rec, &run)
	assert.True(t, run.OK)

	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rec = env.do(t, http.MethodPost, "/api/sync/states/contact/reset", map[string]interface{}{"since": since})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var states []models.SyncState
	decode(t, env.do(t, http.MethodGet, "/api/sync/states", nil), &states)
	var found bool
	for _, s := range states {
		if s.ObjectType == "contact" {
			found = true
			require.NotNil(t, s.LastPullAt)
			assert.True(t, since.Equal(*s.LastPullAt))
		}
	}
	assert.True(t, found)

	var history []models.SyncHistory
	decode(t, env.do(t, http.MethodGet, "/api/sync/history?limit=10", nil), &history)
	assert.NotEmpty(t, history)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/sync/pull/invoice", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/sync/pull/contact", nil).Code)
}
