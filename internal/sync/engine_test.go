package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/database"
	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/host/memstore"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
)

type remoteCall struct {
	Method string
	Body   remote.Body
}

type listCall struct {
	ObjectType string
	Page       remote.Page
}

// fakeRemote behaves like the CRM: contacts upsert by email, everything else gets fresh ids
type fakeRemote struct {
	mu        sync.Mutex
	seq       int
	contacts  map[string]string
	calls     []remoteCall
	pushErr   error
	pages     map[string][][]remote.Item
	listErr   error
	listCalls []listCall
	listGate  chan struct{}
	listing   chan struct{}
	omitIDs   bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{contacts: map[string]string{}, pages: map[string][][]remote.Item{}}
}

func (f *fakeRemote) record(method string, body remote.Body) error {
	f.calls = append(f.calls, remoteCall{Method: method, Body: body})
	return f.pushErr
}

func (f *fakeRemote) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeRemote) UpsertContact(ctx context.Context, contact remote.Body) (remote.Body, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpsertContact", contact); err != nil {
		return nil, err
	}
	if f.omitIDs {
		return remote.Body{"data": map[string]interface{}{}}, nil
	}
	email, _ := contact["email"].(string)
	id, ok := f.contacts[email]
	if !ok {
		id = f.nextID("rc")
		f.contacts[email] = id
	}
	return remote.Body{"data": map[string]interface{}{"id": id}}, nil
}

func (f *fakeRemote) AddDeal(ctx context.Context, deal remote.Body) (remote.Body, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddDeal", deal); err != nil {
		return nil, err
	}
	return remote.Body{"id": f.nextID("rd")}, nil
}

func (f *fakeRemote) UpdateDeal(ctx context.Context, deal remote.Body) (remote.Body, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return remote.Body{}, f.record("UpdateDeal", deal)
}

func (f *fakeRemote) CreateTask(ctx context.Context, task remote.Body) (remote.Body, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateTask", task); err != nil {
		return nil, err
	}
	return remote.Body{"taskId": f.nextID("rt")}, nil
}

func (f *fakeRemote) UpdateTask(ctx context.Context, task remote.Body) (remote.Body, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return remote.Body{}, f.record("UpdateTask", task)
}

func (f *fakeRemote) CreateNote(ctx context.Context, note remote.Body) (remote.Body, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateNote", note); err != nil {
		return nil, err
	}
	if f.omitIDs {
		return remote.Body{}, nil
	}
	return remote.Body{"data": map[string]interface{}{"id": f.nextID("rn")}}, nil
}

func (f *fakeRemote) List(ctx context.Context, objectType string, p remote.Page) ([]remote.Item, error) {
	f.mu.Lock()
	gate, listing := f.listGate, f.listing
	f.mu.Unlock()
	if gate != nil {
		select {
		case listing <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, listCall{ObjectType: objectType, Page: p})
	if f.listErr != nil {
		return nil, f.listErr
	}
	pages := f.pages[objectType]
	if p.Page < 1 || p.Page > len(pages) {
		return nil, nil
	}
	return pages[p.Page-1], nil
}

// holdLists makes List wait until the returned gate is closed.
// The listing channel receives once a List call is waiting.
func (f *fakeRemote) holdLists() (gate chan struct{}, listing chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listGate = make(chan struct{})
	f.listing = make(chan struct{}, 1)
	return f.listGate, f.listing
}

func (f *fakeRemote) setPages(objectType string, pages ...[]remote.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[objectType] = pages
}

func (f *fakeRemote) callsTo(method string) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remoteCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) listsOf(objectType string) []listCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []listCall
	for _, c := range f.listCalls {
		if c.ObjectType == objectType {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	engine *SyncEngine
	store  *memstore.Store
	remote *fakeRemote
	db     *database.DB
	cfg    *config.SyncConfig
}

func newFixture(t *testing.T, configure ...func(*config.SyncConfig)) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.DefaultSyncConfig()
	cfg.APIKey = "test-key"
	cfg.Entities = config.EntityToggles{Contacts: true, Deals: true, Tasks: true, Notes: true}
	for _, fn := range configure {
		fn(cfg)
	}

	store := memstore.New()
	rem := newFakeRemote()
	engine := NewSyncEngine(Options{DB: db.DB, Config: cfg, Host: store, Remote: rem})
	store.SetObserver(engine.Trigger())
	return &fixture{engine: engine, store: store, remote: rem, db: db, cfg: cfg}
}

func (f *fixture) jobs(t *testing.T, status string) []models.SyncJob {
	t.Helper()
	var jobs []models.SyncJob
	q := f.db.Order("id")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	require.NoError(t, q.Find(&jobs).Error)
	return jobs
}

func (f *fixture) meta(t *testing.T, objectType ObjectType, localID int64) *models.EntitySyncMeta {
	t.Helper()
	row, err := f.engine.Meta().Get(context.Background(), objectType, localID)
	require.NoError(t, err)
	return row
}

func (f *fixture) link(t *testing.T, objectType ObjectType, localID int64, remoteID string) {
	t.Helper()
	_, err := f.engine.Meta().MarkPushed(context.Background(), objectType, localID, PushUpdate{RemoteID: remoteID})
	require.NoError(t, err)
}

func TestScenarioAContactPushLinksRemoteID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	partnerID, err := f.store.Create(ctx, host.ModelPartner, host.Values{"name": "Ada Lovelace", "email": "a@x.com"})
	require.NoError(t, err)
	require.Len(t, f.jobs(t, models.JobStatusPending), 1)

	batch := f.engine.ProcessJobs(ctx)
	assert.Equal(t, 1, batch.Done)

	row := f.meta(t, ObjectContact, partnerID)
	require.True(t, row.HasRemoteID())
	assert.Equal(t, "rc_1", *row.RemoteID)
	assert.NotNil(t, row.LastLocalSyncAt)

	calls := f.remote.callsTo("UpsertContact")
	require.Len(t, calls, 1)
	assert.Equal(t, "Ada", calls[0].Body["first_name"])
	assert.Equal(t, "Lovelace", calls[0].Body["last_name"])
	assert.Equal(t, true, calls[0].Body["forceCreate"])

	done := f.jobs(t, models.JobStatusDone)
	require.Len(t, done, 1)
	require.NotNil(t, done[0].RemoteID)
	assert.Equal(t, "rc_1", *done[0].RemoteID)
	assert.NotEmpty(t, done[0].Payload)
}

func TestContactPushIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	partnerID, err := f.store.Create(ctx, host.ModelPartner, host.Values{"name": "Ada", "email": "a@x.com"})
	require.NoError(t, err)
	f.engine.ProcessJobs(ctx)

	// duplicate jobs for the same record converge on the same remote id
	_, err = f.engine.Queue().Enqueue(ctx, models.DirectionLocalToRemote, ObjectContact, partnerID)
	require.NoError(t, err)
	_, err = f.engine.Queue().Enqueue(ctx, models.DirectionLocalToRemote, ObjectContact, partnerID)
	require.NoError(t, err)
	batch := f.engine.ProcessJobs(ctx)
	assert.Equal(t, 2, batch.Done)

	assert.Len(t, f.remote.callsTo("UpsertContact"), 3)
	assert.Equal(t, "rc_1", f.engine.Meta().RemoteID(ctx, ObjectContact, partnerID))

	var count int64
	require.NoError(t, f.db.Model(&models.EntitySyncMeta{}).Where("entity_type = ?", "contact").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestContactPushResolvesTagsCountryAndAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	de := f.store.Seed(host.ModelCountry, host.Values{"code": "DE", "name": "Germany"})
	by := f.store.Seed(host.ModelCountryState, host.Values{"name": "Bavaria", "country_id": de})
	vip := f.store.Seed(host.ModelPartnerTag, host.Values{"name": "VIP"})
	require.NoError(t, f.db.Create(&models.UserMapping{RemoteUserID: "ru_1", LocalUserID: int64Ptr(7)}).Error)

	_, err := f.store.Create(ctx, host.ModelPartner, host.Values{
		"name":        "Grace",
		"mobile":      "+49 1",
		"country_id":  de,
		"state_id":    by,
		"category_id": []int64{vip},
		"user_id":     int64(7),
	})
	require.NoError(t, err)
	f.engine.ProcessJobs(ctx)

	calls := f.remote.callsTo("UpsertContact")
	require.Len(t, calls, 1)
	body := calls[0].Body
	assert.Equal(t, "+49 1", body["phone"])
	assert.Equal(t, "Bavaria", body["state"])
	assert.Equal(t, []string{"VIP"}, body["tags"])
	assert.Equal(t, "ru_1", body["assignedTo"])
	assert.Equal(t, remote.Body{"country_code": "DE", "name": "Germany"}, body["country"])
	assert.Equal(t, "", body["last_name"])
}

func TestDealPushUsesStageMappingThenUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&models.StageMapping{RemoteStageID: "s1", RemotePipelineID: "p1", LocalStageID: int64Ptr(3)}).Error)
	partnerID := f.store.Seed(host.ModelPartner, host.Values{"name": "Acme"})
	f.link(t, ObjectContact, partnerID, "rc_acme")

	leadID, err := f.store.Create(ctx, host.ModelLead, host.Values{
		"name":             "Big Deal",
		"type":             "opportunity",
		"active":           true,
		"expected_revenue": 500.0,
		"stage_id":         int64(3),
		"partner_id":       partnerID,
		"description":      "call back",
	})
	require.NoError(t, err)
	f.engine.ProcessJobs(ctx)

	adds := f.remote.callsTo("AddDeal")
	require.Len(t, adds, 1)
	assert.Equal(t, "p1", adds[0].Body["pipelineId"])
	assert.Equal(t, "s1", adds[0].Body["stageId"])
	assert.Equal(t, "rc_acme", adds[0].Body["contactId"])
	assert.Equal(t, "call back", adds[0].Body["notes"])
	assert.Equal(t, "open", adds[0].Body["status"])

	row := f.meta(t, ObjectDeal, leadID)
	require.True(t, row.HasRemoteID())
	assert.Equal(t, "s1", row.RemoteStageID)
	assert.Equal(t, "p1", row.RemotePipelineID)

	require.NoError(t, f.store.Write(ctx, host.ModelLead, leadID, host.Values{"active": false}))
	f.engine.ProcessJobs(ctx)

	updates := f.remote.callsTo("UpdateDeal")
	require.Len(t, updates, 1)
	assert.Equal(t, *row.RemoteID, updates[0].Body["dealId"])
	assert.Equal(t, "closed", updates[0].Body["status"])
	assert.Equal(t, *row.RemoteID, f.engine.Meta().RemoteID(ctx, ObjectDeal, leadID), "echoed id is kept")
}

func TestLeadThatIsNotAnOpportunityIsNotQueued(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Create(context.Background(), host.ModelLead, host.Values{"name": "cold", "type": "lead"})
	require.NoError(t, err)
	assert.Empty(t, f.jobs(t, ""))
}

func TestTaskPushCollectsParentIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	partnerID := f.store.Seed(host.ModelPartner, host.Values{"name": "Acme"})
	leadID := f.store.Seed(host.ModelLead, host.Values{"name": "Deal", "type": "opportunity", "partner_id": partnerID})
	f.link(t, ObjectContact, partnerID, "rc_1")
	f.link(t, ObjectDeal, leadID, "rd_1")

	activityID, err := f.store.Create(ctx, host.ModelActivity, host.Values{
		"summary":       "",
		"note":          "bring coffee",
		"res_model":     host.ModelLead,
		"res_id":        leadID,
		"date_deadline": "2026-11-02",
	})
	require.NoError(t, err)
	f.engine.ProcessJobs(ctx)

	creates := f.remote.callsTo("CreateTask")
	require.Len(t, creates, 1)
	body := creates[0].Body
	assert.Equal(t, "Task", body["name"])
	assert.Equal(t, "medium", body["priority"])
	assert.Equal(t, []string{"rc_1"}, body["contact_ids"])
	assert.Equal(t, []string{"rd_1"}, body["deal_ids"])
	assert.Equal(t, "2026-11-02", body["due_date"])
	assert.Equal(t, false, body["completed"])

	remoteID := f.engine.Meta().RemoteID(ctx, ObjectTask, activityID)
	require.NotEmpty(t, remoteID, "taskId in the response links the task")

	require.NoError(t, f.store.Write(ctx, host.ModelActivity, activityID, host.Values{"state": "done"}))
	f.engine.ProcessJobs(ctx)
	updates := f.remote.callsTo("UpdateTask")
	require.Len(t, updates, 1)
	assert.Equal(t, remoteID, updates[0].Body["taskId"])
	assert.Equal(t, true, updates[0].Body["completed"])
}

func TestStandaloneTaskIsPushed(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Create(context.Background(), host.ModelActivity, host.Values{"summary": "solo"})
	require.NoError(t, err)
	f.engine.ProcessJobs(context.Background())

	creates := f.remote.callsTo("CreateTask")
	require.Len(t, creates, 1)
	assert.Equal(t, []string{}, creates[0].Body["contact_ids"])
}

func TestScenarioDNoteWithoutLinkedParentIsDoneThenRedriven(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	partnerID := f.store.Seed(host.ModelPartner, host.Values{"name": "Ada", "email": "a@x.com"})
	noteID, err := f.store.Create(ctx, host.ModelMessage, host.Values{
		"body":         "<p>hello</p>",
		"message_type": "comment",
		"model":        host.ModelPartner,
		"res_id":       partnerID,
	})
	require.NoError(t, err)

	row := f.meta(t, ObjectNote, noteID)
	require.NotNil(t, row)
	require.NotNil(t, row.SyncEnabled)
	assert.True(t, *row.SyncEnabled)

	batch := f.engine.ProcessJobs(ctx)
	assert.Equal(t, 1, batch.Skipped)
	assert.Empty(t, f.remote.callsTo("CreateNote"))
	done := f.jobs(t, models.JobStatusDone)
	require.Len(t, done, 1)
	assert.Equal(t, "no linked remote contact or deal", done[0].ErrorMessage)

	// the contact gaining its remote id re-queues the orphaned note
	require.NoError(t, f.store.Write(ctx, host.ModelPartner, partnerID, host.Values{"phone": "1"}))
	f.engine.ProcessJobs(ctx)
	require.Len(t, f.jobs(t, models.JobStatusPending), 1)
	f.engine.ProcessJobs(ctx)

	notes := f.remote.callsTo("CreateNote")
	require.Len(t, notes, 1)
	assert.Equal(t, "rc_1", notes[0].Body["contactId"])
	assert.Equal(t, "<p>hello</p>", notes[0].Body["body"])
	assert.NotEmpty(t, f.engine.Meta().RemoteID(ctx, ObjectNote, noteID))

	// a note that already exists remotely is not created again
	_, err = f.engine.Queue().Enqueue(ctx, models.DirectionLocalToRemote, ObjectNote, noteID)
	require.NoError(t, err)
	f.engine.ProcessJobs(ctx)
	assert.Len(t, f.remote.callsTo("CreateNote"), 1)
}

func TestNoteAuthorMapsToRemoteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Create(&models.UserMapping{RemoteUserID: "ru_9", LocalUserID: int64Ptr(2)}).Error)

	leadID := f.store.Seed(host.ModelLead, host.Values{"name": "Deal", "type": "opportunity"})
	f.link(t, ObjectDeal, leadID, "rd_1")
	_, err := f.store.Create(ctx, host.ModelMessage, host.Values{
		"body":         "x",
		"message_type": "comment",
		"model":        host.ModelLead,
		"res_id":       leadID,
		"create_uid":   int64(2),
	})
	require.NoError(t, err)
	f.engine.ProcessJobs(ctx)

	notes := f.remote.callsTo("CreateNote")
	require.Len(t, notes, 1)
	assert.Equal(t, "ru_9", notes[0].Body["userId"])
	assert.Equal(t, "rd_1", notes[0].Body["dealId"])
	assert.NotContains(t, notes[0].Body, "contactId")
}

func TestVanishedRecordIsSoftNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Queue().Enqueue(ctx, models.DirectionLocalToRemote, ObjectContact, 999)
	require.NoError(t, err)

	batch := f.engine.ProcessJobs(ctx)
	assert.Equal(t, 1, batch.Skipped)
	assert.Empty(t, f.remote.callsTo("UpsertContact"))
}

func TestResetWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.ResetWatermark(ctx, ObjectDeal, nil))
	states, err := f.engine.States(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Nil(t, states[0].LastPullAt)
	assert.Nil(t, states[0].LeaseOwner, "lease released")

	assert.Error(t, f.engine.ResetWatermark(ctx, ObjectType("invoice"), nil))
}

func int64Ptr(v int64) *int64 { return &v }

func TestRemoteIDLinksOnlyOneLocalRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.Create(ctx, host.ModelPartner, host.Values{"name": "Ada", "email": "same@x.com"})
	require.NoError(t, err)
	second, err := f.store.Create(ctx, host.ModelPartner, host.Values{"name": "Ada L", "email": "same@x.com"})
	require.NoError(t, err)

	batch := f.engine.ProcessJobs(ctx)
	assert.Equal(t, 2, batch.Done)
	require.Len(t, f.remote.callsTo("UpsertContact"), 2)

	assert.Equal(t, "rc_1", f.engine.Meta().RemoteID(ctx, ObjectContact, first))
	assert.Empty(t, f.engine.Meta().RemoteID(ctx, ObjectContact, second), "second partner stays unlinked")
	assert.Equal(t, first, f.engine.Meta().LocalID(ctx, ObjectContact, "rc_1"))

	var count int64
	require.NoError(t, f.db.Model(&models.EntitySyncMeta{}).
		Where("entity_type = ? AND remote_id = ?", "contact", "rc_1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateReplyWithoutIDFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.omitIDs = true

	partnerID, err := f.store.Create(ctx, host.ModelPartner, host.Values{"name": "Ada", "email": "a@x.com"})
	require.NoError(t, err)
	batch := f.engine.ProcessJobs(ctx)
	assert.Equal(t, 1, batch.Failed)

	failed := f.jobs(t, models.JobStatusFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, ErrNoRemoteID.Error())
	assert.Nil(t, failed[0].RemoteID)
	assert.Empty(t, f.engine.Meta().RemoteID(ctx, ObjectContact, partnerID))
}

func TestNoteCreateWithoutIDIsNotMarkedSynced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	leadID := f.store.Seed(host.ModelLead, host.Values{"name": "Deal", "type": "opportunity"})
	f.link(t, ObjectDeal, leadID, "rd_1")
	f.remote.omitIDs = true
	messageID, err := f.store.Create(ctx, host.ModelMessage, host.Values{
		"body":         "call back",
		"message_type": "comment",
		"model":        host.ModelLead,
		"res_id":       leadID,
	})
	require.NoError(t, err)

	batch := f.engine.ProcessJobs(ctx)
	assert.Equal(t, 1, batch.Failed)
	assert.Len(t, f.jobs(t, models.JobStatusFailed), 1)

	row, err := f.engine.Meta().Get(ctx, ObjectNote, messageID)
	require.NoError(t, err)
	if row != nil {
		assert.False(t, row.HasRemoteID())
		assert.Nil(t, row.LastLocalSyncAt)
	}
}
