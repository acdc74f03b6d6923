package models

import "time"

// UserMapping links a host user to a remote CRM user.
// LocalUserID stays nil until an operator assigns it.
type UserMapping struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	LocalUserID    *int64    `gorm:"index" json:"localUserId,omitempty"`
	RemoteUserID   string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"remoteUserId"`
	RemoteUserName string    `gorm:"type:varchar(255)" json:"remoteUserName"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (UserMapping) TableName() string {
	return "pc_user_mappings"
}

// StageMapping links a host CRM stage to a remote pipeline stage
type StageMapping struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	LocalStageID     *int64    `gorm:"index" json:"localStageId,omitempty"`
	RemoteStageID    string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"remoteStageId"`
	RemoteStageName  string    `gorm:"type:varchar(255)" json:"remoteStageName"`
	RemotePipelineID string    `gorm:"type:varchar(255);index" json:"remotePipelineId"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (StageMapping) TableName() string {
	return "pc_stage_mappings"
}

// All returns every model the sync core migrates
func All() []interface{} {
	return []interface{}{
		&SyncJob{},
		&EntitySyncMeta{},
		&SyncState{},
		&SyncHistory{},
		&UserMapping{},
		&StageMapping{},
	}
}
