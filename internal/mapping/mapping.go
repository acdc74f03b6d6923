// Package mapping resolves users and pipeline stages between the host and the remote CRM.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by Assign when the mapping row does not exist
var ErrNotFound = errors.New("mapping not found")

// Directory lists the remote entities mappings are built from
type Directory interface {
	ListUsers(ctx context.Context) ([]remote.User, error)
	ListPipelines(ctx context.Context) ([]remote.Pipeline, error)
}

// Store holds the user and stage cross-reference tables
type Store struct {
	db *gorm.DB
}

// New creates a mapping store
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ResolveLocalUser returns the host user mapped to a remote user.
// An unknown or unassigned remote user is not an error.
func (s *Store) ResolveLocalUser(ctx context.Context, remoteUserID string) (int64, bool) {
	if remoteUserID == "" {
		return 0, false
	}
	var m models.UserMapping
	err := s.db.WithContext(ctx).
		Where("remote_user_id = ? AND local_user_id IS NOT NULL", remoteUserID).
		Limit(1).Find(&m).Error
	if err != nil {
		log.Printf("⚠️ Mapping: user lookup for %s failed: %v", remoteUserID, err)
		return 0, false
	}
	if m.ID == 0 || m.LocalUserID == nil {
		return 0, false
	}
	return *m.LocalUserID, true
}

// ResolveRemoteUser returns the remote user mapped to a host user
func (s *Store) ResolveRemoteUser(ctx context.Context, localUserID int64) (string, bool) {
	if localUserID == 0 {
		return "", false
	}
	var m models.UserMapping
	err := s.db.WithContext(ctx).
		Where("local_user_id = ?", localUserID).
		Order("id").Limit(1).Find(&m).Error
	if err != nil {
		log.Printf("⚠️ Mapping: remote user lookup for %d failed: %v", localUserID, err)
		return "", false
	}
	if m.ID == 0 {
		return "", false
	}
	return m.RemoteUserID, true
}

// ResolveLocalStage returns the host stage mapped to a remote stage.
// Stage ids are unique on the remote, so the pipeline only narrows the match when recorded.
func (s *Store) ResolveLocalStage(ctx context.Context, remotePipelineID, remoteStageID string) (int64, bool) {
	if remoteStageID == "" {
		return 0, false
	}
	q := s.db.WithContext(ctx).Where("remote_stage_id = ? AND local_stage_id IS NOT NULL", remoteStageID)
	if remotePipelineID != "" {
		q = q.Where("remote_pipeline_id = ? OR remote_pipeline_id = ''", remotePipelineID)
	}
	var m models.StageMapping
	if err := q.Limit(1).Find(&m).Error; err != nil {
		log.Printf("⚠️ Mapping: stage lookup for %s failed: %v", remoteStageID, err)
		return 0, false
	}
	if m.ID == 0 || m.LocalStageID == nil {
		return 0, false
	}
	return *m.LocalStageID, true
}

// ResolveRemoteStage returns the remote pipeline and stage mapped to a host stage
func (s *Store) ResolveRemoteStage(ctx context.Context, localStageID int64) (pipelineID, stageID string, ok bool) {
	if localStageID == 0 {
		return "", "", false
	}
	var m models.StageMapping
	err := s.db.WithContext(ctx).
		Where("local_stage_id = ?", localStageID).
		Order("id").Limit(1).Find(&m).Error
	if err != nil {
		log.Printf("⚠️ Mapping: remote stage lookup for %d failed: %v", localStageID, err)
		return "", "", false
	}
	if m.ID == 0 {
		return "", "", false
	}
	return m.RemotePipelineID, m.RemoteStageID, true
}

// FetchResult summarizes a mapping fetch
type FetchResult struct {
	Fetched     int  `json:"fetched"`
	Unavailable bool `json:"unavailable,omitempty"`
}

// FetchUsers lists remote users and upserts one row per remote id.
// The local side of new rows stays unset. A missing endpoint is logged and skipped.
func (s *Store) FetchUsers(ctx context.Context, dir Directory) (FetchResult, error) {
	started := time.Now()
	users, err := dir.ListUsers(ctx)
	if errors.Is(err, remote.ErrNotFound) {
		log.Println("⚠️ Mapping: remote user list endpoint not available, skipping")
		s.record(ctx, models.HistoryKindFetchUsers, started, 0, nil)
		return FetchResult{Unavailable: true}, nil
	}
	if err != nil {
		s.record(ctx, models.HistoryKindFetchUsers, started, 0, err)
		return FetchResult{}, fmt.Errorf("fetch users: %w", err)
	}

	count := 0
	for _, u := range users {
		row := models.UserMapping{RemoteUserID: u.ID, RemoteUserName: u.Name}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "remote_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"remote_user_name", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			s.record(ctx, models.HistoryKindFetchUsers, started, count, err)
			return FetchResult{Fetched: count}, fmt.Errorf("save user mapping %s: %w", u.ID, err)
		}
		count++
	}

	log.Printf("✅ Mapping: fetched %d remote users", count)
	s.record(ctx, models.HistoryKindFetchUsers, started, count, nil)
	return FetchResult{Fetched: count}, nil
}

// FetchPipelines lists remote pipelines and upserts one row per remote stage id
func (s *Store) FetchPipelines(ctx context.Context, dir Directory) (FetchResult, error) {
	started := time.Now()
	pipelines, err := dir.ListPipelines(ctx)
	if err != nil {
		s.record(ctx, models.HistoryKindFetchPipelines, started, 0, err)
		return FetchResult{}, fmt.Errorf("fetch pipelines: %w", err)
	}

	count := 0
	for _, p := range pipelines {
		for _, st := range p.Stages {
			row := models.StageMapping{RemoteStageID: st.ID, RemoteStageName: st.Name, RemotePipelineID: p.ID}
			err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "remote_stage_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"remote_stage_name", "remote_pipeline_id", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				s.record(ctx, models.HistoryKindFetchPipelines, started, count, err)
				return FetchResult{Fetched: count}, fmt.Errorf("save stage mapping %s: %w", st.ID, err)
			}
			count++
		}
	}

	log.Printf("✅ Mapping: fetched %d remote stages from %d pipelines", count, len(pipelines))
	s.record(ctx, models.HistoryKindFetchPipelines, started, count, nil)
	return FetchResult{Fetched: count}, nil
}

// ListUsers returns every user mapping
func (s *Store) ListUsers(ctx context.Context) ([]models.UserMapping, error) {
	var rows []models.UserMapping
	if err := s.db.WithContext(ctx).Order("remote_user_name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStages returns every stage mapping
func (s *Store) ListStages(ctx context.Context) ([]models.StageMapping, error) {
	var rows []models.StageMapping
	if err := s.db.WithContext(ctx).Order("remote_pipeline_id, remote_stage_name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// AssignUser sets (or clears, with nil) the host user of a mapping row
func (s *Store) AssignUser(ctx context.Context, id uint, localUserID *int64) error {
	res := s.db.WithContext(ctx).Model(&models.UserMapping{}).Where("id = ?", id).
		Updates(map[string]interface{}{"local_user_id": localUserID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignStage sets (or clears, with nil) the host stage of a mapping row
func (s *Store) AssignStage(ctx context.Context, id uint, localStageID *int64) error {
	res := s.db.WithContext(ctx).Model(&models.StageMapping{}).Where("id = ?", id).
		Updates(map[string]interface{}{"local_stage_id": localStageID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) record(ctx context.Context, kind string, started time.Time, count int, err error) {
	now := time.Now().UTC()
	h := models.SyncHistory{
		Kind:        kind,
		Status:      models.HistoryStatusSuccess,
		StartedAt:   started.UTC(),
		CompletedAt: &now,
		Duration:    int(now.Sub(started).Milliseconds()),
		Updated:     count,
	}
	if err != nil {
		h.Status = models.HistoryStatusError
		h.Errors = 1
		h.ErrorDetail = err.Error()
	}
	if dbErr := s.db.WithContext(ctx).Create(&h).Error; dbErr != nil {
		log.Printf("⚠️ Mapping: failed to record %s history: %v", kind, dbErr)
	}
}
