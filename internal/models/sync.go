package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job directions. Only local_to_remote jobs are queued; pulls run inline.
const (
	DirectionLocalToRemote = "local_to_remote"
	DirectionRemoteToLocal = "remote_to_local"
)

// Job statuses
const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"
)

// SyncJob is one outbound unit of work. Rows are kept after completion as an audit trail.
type SyncJob struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Direction    string         `gorm:"type:varchar(32);not null" json:"direction"`
	ObjectType   string         `gorm:"type:varchar(16);not null;index" json:"objectType"`
	LocalModel   string         `gorm:"type:varchar(64);not null" json:"localModel"`
	LocalID      int64          `gorm:"not null;index" json:"localId"`
	RemoteID     *string        `gorm:"type:varchar(255)" json:"remoteId,omitempty"`
	Status       string         `gorm:"type:varchar(16);not null;default:'pending';index:idx_pc_job_pick" json:"status"`
	RetryCount   int            `gorm:"not null;default:0" json:"retryCount"`
	NextRetryAt  *time.Time     `gorm:"index:idx_pc_job_pick" json:"nextRetryAt,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"errorMessage,omitempty"`
	Payload      datatypes.JSON `json:"payload,omitempty"` // last outbound body, for inspection
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
	CreatedAt    time.Time      `gorm:"index:idx_pc_job_pick" json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (SyncJob) TableName() string {
	return "pc_sync_jobs"
}

// EntitySyncMeta is the cross reference between a host record and its remote counterpart.
// It is owned by the sync core so the host schema never needs pc_* columns.
type EntitySyncMeta struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	EntityType         string     `gorm:"type:varchar(16);not null;uniqueIndex:idx_pc_meta_entity;uniqueIndex:idx_pc_meta_remote" json:"entityType"`
	EntityID           int64      `gorm:"not null;uniqueIndex:idx_pc_meta_entity" json:"entityId"`
	RemoteID           *string    `gorm:"type:varchar(255);uniqueIndex:idx_pc_meta_remote" json:"remoteId,omitempty"`
	LastLocalSyncAt    *time.Time `json:"lastLocalSyncAt,omitempty"`
	LastRemoteUpdateAt *time.Time `json:"lastRemoteUpdateAt,omitempty"`
	RemoteAssigneeID   string     `gorm:"type:varchar(255)" json:"remoteAssigneeId,omitempty"`
	RemotePipelineID   string     `gorm:"type:varchar(255)" json:"remotePipelineId,omitempty"`
	RemoteStageID      string     `gorm:"type:varchar(255)" json:"remoteStageId,omitempty"`
	LeadSource         string     `gorm:"type:varchar(255)" json:"leadSource,omitempty"`
	// SyncEnabled is only meaningful for notes: nil means "never classified".
	SyncEnabled *bool     `json:"syncEnabled,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (EntitySyncMeta) TableName() string {
	return "pc_entity_sync_meta"
}

// HasRemoteID reports whether the entity is already linked to a remote record
func (m *EntitySyncMeta) HasRemoteID() bool {
	return m != nil && m.RemoteID != nil && *m.RemoteID != ""
}

// SyncState holds the pull watermark for one object type.
type SyncState struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ObjectType     string     `gorm:"type:varchar(16);not null;uniqueIndex" json:"objectType"`
	LastPullAt     *time.Time `json:"lastPullAt,omitempty"`
	LastPushAt     *time.Time `json:"lastPushAt,omitempty"`
	LeaseOwner     *string    `gorm:"type:varchar(64)" json:"leaseOwner,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TableName specifies the table name
func (SyncState) TableName() string {
	return "pc_sync_states"
}

// BeforeCreate hook
func (s *SyncState) BeforeCreate(tx *gorm.DB) error {
	if s.ObjectType == "" {
		return gorm.ErrInvalidField
	}
	return nil
}
