package sync

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/models"
)

// Trigger turns host mutations into push jobs
type Trigger struct {
	cfg   *config.SyncConfig
	queue *Queue
	meta  *MetaStore
	host  host.Store
}

// NewTrigger creates a change trigger
func NewTrigger(cfg *config.SyncConfig, queue *Queue, meta *MetaStore, store host.Store) *Trigger {
	return &Trigger{cfg: cfg, queue: queue, meta: meta, host: store}
}

// OnLocalChange enqueues a push job when the change qualifies. It returns nil when nothing was queued.
func (tr *Trigger) OnLocalChange(ctx context.Context, t ObjectType, localID int64, event string) (*models.SyncJob, error) {
	if host.IsPull(ctx) {
		return nil, nil
	}
	if !tr.cfg.EntityEnabled(string(t)) || !tr.cfg.TriggerMatches(event) || !tr.cfg.PushAllowed() {
		return nil, nil
	}
	if t == ObjectNote {
		row, err := tr.meta.Get(ctx, ObjectNote, localID)
		if err != nil {
			return nil, err
		}
		if row == nil || row.SyncEnabled == nil || !*row.SyncEnabled {
			return nil, nil
		}
	}
	return tr.queue.Enqueue(ctx, models.DirectionLocalToRemote, t, localID)
}

// HostChanged implements host.Observer
func (tr *Trigger) HostChanged(ctx context.Context, c host.Change) {
	if _, err := tr.HandleChange(ctx, c); err != nil {
		log.Printf("❌ Trigger: %s(%d) %s: %v", c.Model, c.ID, c.Event, err)
	}
}

// HandleChange classifies one host mutation and enqueues it when it qualifies
func (tr *Trigger) HandleChange(ctx context.Context, c host.Change) (*models.SyncJob, error) {
	if host.IsPull(ctx) {
		return nil, nil
	}
	if c.Event != EventCreate && c.Event != EventUpdate {
		return nil, fmt.Errorf("unknown event %q", c.Event)
	}
	t, ok := objectTypeForModel(c.Model)
	if !ok {
		return nil, nil
	}
	if !tr.cfg.EntityEnabled(string(t)) {
		return nil, nil
	}

	switch t {
	case ObjectDeal:
		opportunity, err := tr.isOpportunity(ctx, c)
		if err != nil || !opportunity {
			return nil, err
		}
	case ObjectNote:
		if c.Event == EventCreate {
			if err := tr.classifyNote(ctx, c.ID); err != nil {
				return nil, err
			}
		} else if len(c.Fields) > 0 && !slices.Contains(c.Fields, "body") {
			return nil, nil
		}
	}
	return tr.OnLocalChange(ctx, t, c.ID, c.Event)
}

func (tr *Trigger) isOpportunity(ctx context.Context, c host.Change) (bool, error) {
	if v, ok := c.Values["type"].(string); ok {
		return v == "opportunity", nil
	}
	rec, err := tr.host.Read(ctx, host.ModelLead, c.ID, []string{"type"})
	if err != nil {
		return false, fmt.Errorf("read lead %d: %w", c.ID, err)
	}
	return rec != nil && rec.String("type") == "opportunity", nil
}

// classifyNote marks chatter comments on partners and leads as eligible for push
func (tr *Trigger) classifyNote(ctx context.Context, id int64) error {
	row, err := tr.meta.Get(ctx, ObjectNote, id)
	if err != nil {
		return err
	}
	if row.HasRemoteID() || (row != nil && row.SyncEnabled != nil) {
		return nil
	}

	rec, err := tr.host.Read(ctx, host.ModelMessage, id, []string{"message_type", "model"})
	if err != nil {
		return fmt.Errorf("read message %d: %w", id, err)
	}
	if rec == nil || rec.String("message_type") != "comment" {
		return nil
	}
	if model := rec.String("model"); model != host.ModelPartner && model != host.ModelLead {
		return nil
	}
	return tr.meta.SetSyncEnabled(ctx, ObjectNote, id, true)
}
