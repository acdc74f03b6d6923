package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/pcsyncgo/internal/models"
	"gorm.io/gorm"
)

// MetaStore is the cross reference between host records and remote ids
type MetaStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMetaStore creates a meta store
func NewMetaStore(db *gorm.DB) *MetaStore {
	return &MetaStore{db: db, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Get returns the meta row of a host record, nil when none exists
func (m *MetaStore) Get(ctx context.Context, t ObjectType, localID int64) (*models.EntitySyncMeta, error) {
	var row models.EntitySyncMeta
	err := m.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", string(t), localID).
		Limit(1).Find(&row).Error
	if err != nil {
		return nil, fmt.Errorf("load %s:%d meta: %w", t, localID, err)
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

// FindByRemoteID returns the meta row linked to a remote id, nil when none exists
func (m *MetaStore) FindByRemoteID(ctx context.Context, t ObjectType, remoteID string) (*models.EntitySyncMeta, error) {
	if remoteID == "" {
		return nil, nil
	}
	var row models.EntitySyncMeta
	err := m.db.WithContext(ctx).
		Where("entity_type = ? AND remote_id = ?", string(t), remoteID).
		Limit(1).Find(&row).Error
	if err != nil {
		return nil, fmt.Errorf("find %s by remote id %s: %w", t, remoteID, err)
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

// RemoteID returns the remote id of a host record, "" when not linked
func (m *MetaStore) RemoteID(ctx context.Context, t ObjectType, localID int64) string {
	if localID == 0 {
		return ""
	}
	row, err := m.Get(ctx, t, localID)
	if err != nil {
		log.Printf("⚠️ Meta: %v", err)
		return ""
	}
	if !row.HasRemoteID() {
		return ""
	}
	return *row.RemoteID
}

// LocalID returns the host record linked to a remote id, 0 when not linked
func (m *MetaStore) LocalID(ctx context.Context, t ObjectType, remoteID string) int64 {
	row, err := m.FindByRemoteID(ctx, t, remoteID)
	if err != nil {
		log.Printf("⚠️ Meta: %v", err)
		return 0
	}
	if row == nil {
		return 0
	}
	return row.EntityID
}

// ensure loads or creates the meta row of a host record
func (m *MetaStore) ensure(ctx context.Context, t ObjectType, localID int64) (*models.EntitySyncMeta, error) {
	row := models.EntitySyncMeta{EntityType: string(t), EntityID: localID}
	err := m.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", string(t), localID).
		FirstOrCreate(&row).Error
	if err != nil {
		return nil, fmt.Errorf("ensure %s:%d meta: %w", t, localID, err)
	}
	return &row, nil
}

// PushUpdate carries what a successful push learned
type PushUpdate struct {
	RemoteID         string
	RemoteAssigneeID *string
	RemotePipelineID *string
	RemoteStageID    *string
}

// MarkPushed records a successful push. It reports whether the record gained a remote id.
// A remote id already linked to another host record is not re-linked.
func (m *MetaStore) MarkPushed(ctx context.Context, t ObjectType, localID int64, u PushUpdate) (bool, error) {
	row, err := m.ensure(ctx, t, localID)
	if err != nil {
		return false, err
	}

	updates := map[string]interface{}{"last_local_sync_at": m.now()}
	linked := false
	if u.RemoteID != "" && (!row.HasRemoteID() || *row.RemoteID != u.RemoteID) {
		owner, err := m.FindByRemoteID(ctx, t, u.RemoteID)
		if err != nil {
			return false, err
		}
		if owner != nil && owner.EntityID != localID {
			log.Printf("⚠️ Meta: remote %s %s already linked to local %d, not relinking %d",
				t, u.RemoteID, owner.EntityID, localID)
		} else {
			updates["remote_id"] = u.RemoteID
			linked = !row.HasRemoteID()
		}
	}
	if u.RemoteAssigneeID != nil {
		updates["remote_assignee_id"] = *u.RemoteAssigneeID
	}
	if u.RemotePipelineID != nil {
		updates["remote_pipeline_id"] = *u.RemotePipelineID
	}
	if u.RemoteStageID != nil {
		updates["remote_stage_id"] = *u.RemoteStageID
	}

	if err := m.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("mark %s:%d pushed: %w", t, localID, err)
	}
	return linked, nil
}

// PullUpdate carries what a pull-driven write learned
type PullUpdate struct {
	RemoteID         string
	RemoteAssigneeID string
	RemotePipelineID string
	RemoteStageID    string
	LeadSource       string
	SyncEnabled      *bool
}

// MarkPulled links a host record to its remote id and stamps last_remote_update_at
func (m *MetaStore) MarkPulled(ctx context.Context, t ObjectType, localID int64, u PullUpdate) error {
	row, err := m.ensure(ctx, t, localID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"remote_id":             u.RemoteID,
		"last_remote_update_at": m.now(),
	}
	if u.RemoteAssigneeID != "" {
		updates["remote_assignee_id"] = u.RemoteAssigneeID
	}
	if u.RemotePipelineID != "" || u.RemoteStageID != "" {
		updates["remote_pipeline_id"] = u.RemotePipelineID
		updates["remote_stage_id"] = u.RemoteStageID
	}
	if u.LeadSource != "" {
		updates["lead_source"] = u.LeadSource
	}
	if u.SyncEnabled != nil {
		updates["sync_enabled"] = *u.SyncEnabled
	}

	if err := m.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark %s:%d pulled: %w", t, localID, err)
	}
	return nil
}

// Unlink clears the remote id of a meta row whose host record no longer exists
func (m *MetaStore) Unlink(ctx context.Context, row *models.EntitySyncMeta) error {
	return m.db.WithContext(ctx).Model(row).Update("remote_id", nil).Error
}

// SetSyncEnabled classifies a note as eligible (or not) for push
func (m *MetaStore) SetSyncEnabled(ctx context.Context, t ObjectType, localID int64, enabled bool) error {
	row, err := m.ensure(ctx, t, localID)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Model(row).Update("sync_enabled", enabled).Error
}
