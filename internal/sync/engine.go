package sync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/mapping"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// SyncEngine wires the queue, handlers, trigger and pull machinery together
type SyncEngine struct {
	db      *gorm.DB
	config  *config.SyncConfig
	host    host.Store
	remote  Remote
	mapping *mapping.Store
	meta    *MetaStore
	queue   *Queue
	trigger *Trigger
	events  Publisher

	handlers map[ObjectType]Handler

	// pull serialization: singleflight dedupes callers, typeLocks serialize
	// pulls with watermark rewinds, the lease serializes across processes
	flight    singleflight.Group
	typeLocks map[ObjectType]*sync.Mutex
	owner     string

	now func() time.Time
}

// Options configures a SyncEngine
type Options struct {
	DB        *gorm.DB
	Config    *config.SyncConfig
	Host      host.Store
	Remote    Remote
	Mapping   *mapping.Store
	Publisher Publisher
}

// NewSyncEngine creates a new sync engine
func NewSyncEngine(opts Options) *SyncEngine {
	if opts.Mapping == nil {
		opts.Mapping = mapping.New(opts.DB)
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}

	e := &SyncEngine{
		db:        opts.DB,
		config:    opts.Config,
		host:      opts.Host,
		remote:    opts.Remote,
		mapping:   opts.Mapping,
		meta:      NewMetaStore(opts.DB),
		events:    opts.Publisher,
		typeLocks: make(map[ObjectType]*sync.Mutex, len(ObjectTypes)),
		owner:     uuid.NewString(),
		now:       utcNow,
	}
	for _, t := range ObjectTypes {
		e.typeLocks[t] = &sync.Mutex{}
	}

	e.handlers = map[ObjectType]Handler{
		ObjectContact: &contactHandler{e: e},
		ObjectDeal:    &dealHandler{e: e},
		ObjectTask:    &taskHandler{e: e},
		ObjectNote:    &noteHandler{e: e},
	}
	e.queue = NewQueue(opts.DB, opts.Config, e.meta, e.handlers)
	e.trigger = NewTrigger(opts.Config, e.queue, e.meta, opts.Host)
	return e
}

// Queue returns the job queue
func (e *SyncEngine) Queue() *Queue { return e.queue }

// Trigger returns the change trigger
func (e *SyncEngine) Trigger() *Trigger { return e.trigger }

// Meta returns the entity cross-reference store
func (e *SyncEngine) Meta() *MetaStore { return e.meta }

// Mapping returns the user/stage mapping store
func (e *SyncEngine) Mapping() *mapping.Store { return e.mapping }

// Config returns the sync configuration
func (e *SyncEngine) Config() *config.SyncConfig { return e.config }

// States returns the per type sync state rows
func (e *SyncEngine) States(ctx context.Context) ([]models.SyncState, error) {
	var states []models.SyncState
	if err := e.db.WithContext(ctx).Order("object_type").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("load sync states: %w", err)
	}
	return states, nil
}

// History returns the most recent sync runs
func (e *SyncEngine) History(ctx context.Context, limit int) ([]models.SyncHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 30
	}
	var rows []models.SyncHistory
	err := e.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load sync history: %w", err)
	}
	return rows, nil
}

// ResetWatermark sets last_pull_at for a type; nil clears it so the next pull uses the default window
func (e *SyncEngine) ResetWatermark(ctx context.Context, t ObjectType, since *time.Time) error {
	lock := e.typeLocks[t]
	if lock == nil {
		return fmt.Errorf("unknown object type %q", t)
	}
	lock.Lock()
	defer lock.Unlock()

	if err := e.acquireLease(ctx, t); err != nil {
		return err
	}
	defer e.releaseLease(ctx, t)

	var value interface{}
	if since != nil {
		value = since.UTC()
	}
	err := e.db.WithContext(ctx).Model(&models.SyncState{}).
		Where("object_type = ?", string(t)).
		Update("last_pull_at", value).Error
	if err != nil {
		return fmt.Errorf("reset %s watermark: %w", t, err)
	}
	log.Printf("🔄 Sync: %s watermark reset to %v", t, value)
	return nil
}

// redriveNotes queues push jobs for a parent's eligible notes that never reached the remote.
// Called when a contact or deal gains its remote id.
func (e *SyncEngine) redriveNotes(ctx context.Context, parentModel string, parentID int64) {
	if !e.config.EntityEnabled(string(ObjectNote)) || !e.config.PushAllowed() {
		return
	}

	ids, err := e.host.Search(ctx, host.ModelMessage, host.Domain{
		host.Eq("model", parentModel),
		host.Eq("res_id", parentID),
		host.Eq("message_type", "comment"),
	}, 0)
	if err != nil {
		log.Printf("⚠️ Sync: note re-drive search for %s(%d) failed: %v", parentModel, parentID, err)
		return
	}

	for _, id := range ids {
		row, err := e.meta.Get(ctx, ObjectNote, id)
		if err != nil || row == nil || row.SyncEnabled == nil || !*row.SyncEnabled || row.HasRemoteID() {
			continue
		}
		if _, err := e.queue.Enqueue(ctx, models.DirectionLocalToRemote, ObjectNote, id); err != nil {
			log.Printf("⚠️ Sync: note re-drive enqueue %d failed: %v", id, err)
			continue
		}
		log.Printf("🔄 Sync: re-queued orphaned note %d for %s(%d)", id, parentModel, parentID)
	}
}
