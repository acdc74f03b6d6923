package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Queue is the durable outbound job queue
type Queue struct {
	db       *gorm.DB
	cfg      *config.SyncConfig
	meta     *MetaStore
	handlers map[ObjectType]Handler
	now      func() time.Time
}

// NewQueue creates a queue dispatching to the given handler table
func NewQueue(db *gorm.DB, cfg *config.SyncConfig, meta *MetaStore, handlers map[ObjectType]Handler) *Queue {
	return &Queue{db: db, cfg: cfg, meta: meta, handlers: handlers, now: utcNow}
}

// Enqueue creates a pending job. Duplicates are allowed; handlers are idempotent.
func (q *Queue) Enqueue(ctx context.Context, direction string, t ObjectType, localID int64) (*models.SyncJob, error) {
	if direction != models.DirectionLocalToRemote {
		return nil, fmt.Errorf("only %s jobs are queued, got %q", models.DirectionLocalToRemote, direction)
	}
	if t.LocalModel() == "" {
		return nil, fmt.Errorf("unknown object type %q", t)
	}

	job := &models.SyncJob{
		Direction:  direction,
		ObjectType: string(t),
		LocalModel: t.LocalModel(),
		LocalID:    localID,
		Status:     models.JobStatusPending,
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("enqueue %s:%d: %w", t, localID, err)
	}
	log.Printf("📥 Queue: enqueued %s:%d (job %d)", t, localID, job.ID)
	return job, nil
}

// RequeueStale moves jobs stuck in_progress past the stale threshold back to failed
func (q *Queue) RequeueStale(ctx context.Context) (int64, error) {
	cutoff := q.now().Add(-q.cfg.StaleJobAfter())
	res := q.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("status = ? AND started_at < ?", models.JobStatusInProgress, cutoff).
		Updates(map[string]interface{}{
			"status":        models.JobStatusFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": "job abandoned in progress, requeued",
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("⚠️ Queue: requeued %d stale jobs", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// ProcessPendingJobs runs up to limit eligible jobs, oldest first.
// Per-job failures are recorded on the job and never abort the batch.
func (q *Queue) ProcessPendingJobs(ctx context.Context, limit int) BatchResult {
	var result BatchResult
	if limit <= 0 {
		limit = q.cfg.BatchSize
	}

	requeued, err := q.RequeueStale(ctx)
	if err != nil {
		log.Printf("❌ Queue: %v", err)
	}
	result.Requeued = requeued

	var jobs []models.SyncJob
	err = q.db.WithContext(ctx).
		Where("status IN ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			[]string{models.JobStatusPending, models.JobStatusFailed}, q.now()).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		log.Printf("❌ Queue: failed to select jobs: %v", err)
		return result
	}
	result.Selected = len(jobs)

	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		claimed, err := q.claim(ctx, job)
		if err != nil {
			log.Printf("❌ Queue: claim job %d: %v", job.ID, err)
			continue
		}
		if !claimed {
			result.Contended++
			continue
		}

		switch outcome := q.run(ctx, job); outcome {
		case models.JobStatusDone:
			result.Done++
		case "skipped":
			result.Done++
			result.Skipped++
		default:
			result.Failed++
		}
	}

	if result.Selected > 0 {
		log.Printf("✅ Queue: processed %d jobs (%d done, %d skipped, %d failed)",
			result.Selected, result.Done, result.Skipped, result.Failed)
	}
	return result
}

// claim moves a job to in_progress if nobody else did first
func (q *Queue) claim(ctx context.Context, job *models.SyncJob) (bool, error) {
	now := q.now()
	res := q.db.WithContext(ctx).Model(&models.SyncJob{ID: job.ID}).
		Where("status = ?", job.Status).
		Updates(map[string]interface{}{
			"status":     models.JobStatusInProgress,
			"started_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	job.Status = models.JobStatusInProgress
	job.StartedAt = &now
	return true, nil
}

// run dispatches one claimed job and records the outcome
func (q *Queue) run(ctx context.Context, job *models.SyncJob) string {
	t := ObjectType(job.ObjectType)
	handler, ok := q.handlers[t]
	if !ok {
		q.fail(ctx, job, fmt.Errorf("no handler for object type %q", job.ObjectType))
		return models.JobStatusFailed
	}

	if reason := q.superseded(ctx, job); reason != "" {
		q.finish(ctx, job, PushOutcome{Skipped: reason})
		return "skipped"
	}

	jobCtx, cancel := context.WithTimeout(ctx, q.cfg.PushTimeout())
	defer cancel()

	outcome, err := handler.Push(jobCtx, job)
	if err != nil {
		q.fail(ctx, job, err)
		return models.JobStatusFailed
	}
	q.finish(ctx, job, outcome)
	if outcome.Skipped != "" {
		return "skipped"
	}
	return models.JobStatusDone
}

// superseded applies the conflict policy: under last_write_wins a remote update
// applied after the job was queued wins over the queued local change.
func (q *Queue) superseded(ctx context.Context, job *models.SyncJob) string {
	if q.cfg.ConflictPolicy != config.ConflictLastWriteWins {
		return ""
	}
	row, err := q.meta.Get(ctx, ObjectType(job.ObjectType), job.LocalID)
	if err != nil || row == nil || row.LastRemoteUpdateAt == nil {
		return ""
	}
	if row.LastRemoteUpdateAt.After(job.CreatedAt) {
		return fmt.Sprintf("superseded by remote update at %s", row.LastRemoteUpdateAt.Format(time.RFC3339))
	}
	return ""
}

func (q *Queue) finish(ctx context.Context, job *models.SyncJob, outcome PushOutcome) {
	now := q.now()
	updates := map[string]interface{}{
		"status":        models.JobStatusDone,
		"error_message": outcome.Skipped,
		"finished_at":   now,
		"next_retry_at": nil,
	}
	if outcome.RemoteID != "" {
		updates["remote_id"] = outcome.RemoteID
	}
	if outcome.Payload != nil {
		if raw, err := json.Marshal(outcome.Payload); err == nil {
			updates["payload"] = datatypes.JSON(raw)
		}
	}

	if err := q.db.WithContext(ctx).Model(&models.SyncJob{ID: job.ID}).Updates(updates).Error; err != nil {
		log.Printf("❌ Queue: failed to mark job %d done: %v", job.ID, err)
		return
	}
	job.Status = models.JobStatusDone
	job.FinishedAt = &now

	if outcome.Skipped != "" {
		log.Printf("⏭️ Queue: job %d (%s:%d) done without push: %s", job.ID, job.ObjectType, job.LocalID, outcome.Skipped)
		return
	}
	q.touchPush(ctx, ObjectType(job.ObjectType), now)
}

func (q *Queue) fail(ctx context.Context, job *models.SyncJob, cause error) {
	now := q.now()
	retry := job.RetryCount + 1
	next := now.Add(q.cfg.Backoff(retry))
	msg := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "timed out: " + msg
	}

	err := q.db.WithContext(ctx).Model(&models.SyncJob{ID: job.ID}).
		Updates(map[string]interface{}{
			"status":        models.JobStatusFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": msg,
			"next_retry_at": next,
			"finished_at":   now,
		}).Error
	if err != nil {
		log.Printf("❌ Queue: failed to record failure of job %d: %v", job.ID, err)
		return
	}
	job.Status = models.JobStatusFailed
	job.RetryCount = retry
	job.ErrorMessage = msg
	job.NextRetryAt = &next
	log.Printf("❌ Queue: job %d (%s:%d) failed (attempt %d, retry at %s): %s",
		job.ID, job.ObjectType, job.LocalID, retry, next.Format(time.RFC3339), msg)
}

// touchPush stamps last_push_at for the object type
func (q *Queue) touchPush(ctx context.Context, t ObjectType, at time.Time) {
	state := models.SyncState{ObjectType: string(t)}
	db := q.db.WithContext(ctx)
	if err := db.Where("object_type = ?", string(t)).FirstOrCreate(&state).Error; err != nil {
		log.Printf("⚠️ Queue: load %s sync state: %v", t, err)
		return
	}
	if err := db.Model(&state).Update("last_push_at", at).Error; err != nil {
		log.Printf("⚠️ Queue: stamp %s last push: %v", t, err)
	}
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Status     string
	ObjectType string
	Limit      int
}

// ListJobs returns jobs newest first
func (q *Queue) ListJobs(ctx context.Context, f JobFilter) ([]models.SyncJob, error) {
	db := q.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.ObjectType != "" {
		db = db.Where("object_type = ?", f.ObjectType)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var jobs []models.SyncJob
	if err := db.Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// GetJob loads one job
func (q *Queue) GetJob(ctx context.Context, id uint) (*models.SyncJob, error) {
	var job models.SyncJob
	err := q.db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", id, err)
	}
	return &job, nil
}

// RetryJob makes a failed or done job eligible immediately
func (q *Queue) RetryJob(ctx context.Context, id uint) error {
	res := q.db.WithContext(ctx).Model(&models.SyncJob{ID: id}).
		Where("status <> ?", models.JobStatusInProgress).
		Updates(map[string]interface{}{
			"status":        models.JobStatusPending,
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("retry job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := q.GetJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job %d is in progress", id)
	}
	log.Printf("🔄 Queue: job %d reset to pending", id)
	return nil
}

// Stats returns job counts per status
func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := q.db.WithContext(ctx).Model(&models.SyncJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}

	stats := map[string]int64{
		models.JobStatusPending:    0,
		models.JobStatusInProgress: 0,
		models.JobStatusDone:       0,
		models.JobStatusFailed:     0,
	}
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}
