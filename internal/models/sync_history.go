package models

import (
	"time"

	"gorm.io/datatypes"
)

// History kinds
const (
	HistoryKindPull           = "pull"
	HistoryKindPushBatch      = "push_batch"
	HistoryKindReconcile      = "reconcile"
	HistoryKindFetchUsers     = "fetch_users"
	HistoryKindFetchPipelines = "fetch_pipelines"
)

// History statuses
const (
	HistoryStatusSuccess = "success"
	HistoryStatusPartial = "partial"
	HistoryStatusError   = "error"
)

// SyncHistory records each sync run against the remote CRM
type SyncHistory struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind        string         `gorm:"column:kind;type:varchar(32);not null;index" json:"kind"`
	ObjectType  string         `gorm:"column:object_type;type:varchar(16);index" json:"objectType,omitempty"`
	Status      string         `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	StartedAt   time.Time      `gorm:"column:started_at;not null" json:"startedAt"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completedAt"`
	Duration    int            `gorm:"column:duration;default:0" json:"duration"` // milliseconds
	Created     int            `gorm:"column:created;default:0" json:"created"`
	Updated     int            `gorm:"column:updated;default:0" json:"updated"`
	Skipped     int            `gorm:"column:skipped;default:0" json:"skipped"`
	Errors      int            `gorm:"column:errors;default:0" json:"errors"`
	ErrorDetail string         `gorm:"column:error_detail;type:text" json:"errorDetail,omitempty"`
	DebugInfo   datatypes.JSON `gorm:"column:debug_info" json:"debugInfo,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"-"`
}

// TableName specifies the table name
func (SyncHistory) TableName() string {
	return "pc_sync_history"
}
