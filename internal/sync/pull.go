package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// pullWaves orders pulls so parents land before the records that reference them
var pullWaves = [][]ObjectType{
	{ObjectContact},
	{ObjectDeal},
	{ObjectTask, ObjectNote},
}

// RunIncrementalSync drains the push queue, then pulls every enabled object type.
// Object types are pulled independently; one failure never aborts the others.
func (e *SyncEngine) RunIncrementalSync(ctx context.Context) SyncResult {
	result := SyncResult{StartedAt: e.now()}
	log.Println("🔄 Sync: incremental sync started")

	if !e.remoteConfigured() {
		result.fail(remote.ErrNotConfigured)
		result.FinishedAt = e.now()
		log.Printf("❌ Sync: %v", result.Err)
		return result
	}

	if e.config.PushAllowed() {
		result.Push = e.processJobs(ctx)
	}

	if e.config.PullAllowed() {
		for _, wave := range pullWaves {
			if ctx.Err() != nil {
				result.fail(ctx.Err())
				break
			}
			result.Pulls = append(result.Pulls, e.pullWave(ctx, wave)...)
		}
	}

	result.FinishedAt = e.now()
	e.events.Publish(Event{Type: EventSyncResult, Status: syncStatus(result), Data: result, At: result.FinishedAt})
	log.Printf("✅ Sync: incremental sync finished in %s (%d pushed, %d pulls)",
		result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond), result.Push.Done, len(result.Pulls))
	return result
}

// RunNightlyReconciliation rewinds every enabled watermark to the reconcile window, then runs
// an incremental sync, so records missed by earlier pulls are picked up again.
func (e *SyncEngine) RunNightlyReconciliation(ctx context.Context) SyncResult {
	started := e.now()
	log.Println("🌙 Sync: nightly reconciliation started")

	if !e.remoteConfigured() {
		result := SyncResult{StartedAt: started, FinishedAt: e.now()}
		result.fail(remote.ErrNotConfigured)
		return result
	}

	var rewindErrs []error
	if e.config.PullAllowed() {
		since := started.Add(-time.Duration(e.config.ReconcileDays) * 24 * time.Hour)
		for _, t := range e.enabledTypes() {
			if err := e.ResetWatermark(ctx, t, &since); err != nil {
				log.Printf("❌ Sync: reconcile rewind of %s failed: %v", t, err)
				rewindErrs = append(rewindErrs, fmt.Errorf("%s: %w", t, err))
			}
		}
	}

	result := e.RunIncrementalSync(ctx)
	result.StartedAt = started
	if err := errors.Join(rewindErrs...); err != nil && result.Err == nil {
		result.fail(err)
	}

	h := models.SyncHistory{Kind: models.HistoryKindReconcile, StartedAt: started}
	for _, p := range result.Pulls {
		h.Created += p.Created
		h.Updated += p.Updated
		h.Skipped += p.Skipped
		h.Errors += p.Failed
	}
	e.recordHistory(ctx, &h, result.Err, map[string]interface{}{"pulls": len(result.Pulls), "push": result.Push})
	log.Println("✅ Sync: nightly reconciliation finished")
	return result
}

// PullObjectType pulls one object type. Concurrent callers for the same type share one run.
func (e *SyncEngine) PullObjectType(ctx context.Context, t ObjectType) PullResult {
	lock := e.typeLocks[t]
	if lock == nil {
		r := PullResult{ObjectType: t}
		r.fail(fmt.Errorf("unknown object type %q", t))
		return r
	}

	v, _, _ := e.flight.Do(string(t), func() (interface{}, error) {
		lock.Lock()
		defer lock.Unlock()
		return e.pull(ctx, t), nil
	})
	return v.(PullResult)
}

// pullWave pulls the enabled types of one wave concurrently
func (e *SyncEngine) pullWave(ctx context.Context, wave []ObjectType) []PullResult {
	var types []ObjectType
	for _, t := range wave {
		if e.config.EntityEnabled(string(t)) {
			types = append(types, t)
		}
	}

	results := make([]PullResult, len(types))
	var g errgroup.Group
	for i, t := range types {
		g.Go(func() error {
			results[i] = e.PullObjectType(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *SyncEngine) pull(ctx context.Context, t ObjectType) PullResult {
	started := e.now()
	result := PullResult{ObjectType: t}

	handler, ok := e.handlers[t]
	if !ok {
		result.fail(fmt.Errorf("no handler for object type %q", t))
		return result
	}

	if err := e.acquireLease(ctx, t); err != nil {
		result.fail(err)
		log.Printf("⏭️ Sync: %s pull skipped: %v", t, err)
		return result
	}
	defer e.releaseLease(ctx, t)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRenew := e.keepLease(ctx, t, cancel)
	defer stopRenew()

	state, err := e.loadState(ctx, t)
	if err != nil {
		result.fail(err)
		return result
	}
	result.Since = started.Add(-time.Duration(e.config.PullWindowDays) * 24 * time.Hour)
	if state.LastPullAt != nil {
		result.Since = state.LastPullAt.UTC()
	}

	var newest time.Time
	pctx := host.WithOrigin(ctx, host.OriginPull)
	for page := 1; page <= e.config.MaxPages; page++ {
		if err := e.renewLease(ctx, t); err != nil {
			result.fail(err)
			break
		}
		items, err := e.fetchPage(pctx, t, result.Since, page)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrLeaseLost) {
				err = cause
			}
			result.fail(fmt.Errorf("fetch %s page %d: %w", t, page, err))
			break
		}
		result.Pages++
		result.Fetched += len(items)

		for _, item := range items {
			if ts := itemUpdatedAt(item); ts.After(newest) {
				newest = ts
			}
			outcome, err := handler.Upsert(pctx, item)
			if err != nil {
				result.Failed++
				log.Printf("❌ Sync: upsert %s %s failed: %v", t, item.String("id", "taskId"), err)
				continue
			}
			switch outcome {
			case UpsertCreated:
				result.Created++
			case UpsertUpdated:
				result.Updated++
			default:
				result.Skipped++
			}
		}

		if len(items) < e.config.PageLimit {
			break
		}
		if page == e.config.MaxPages {
			result.Truncated = true
			log.Printf("⚠️ Sync: %s pull stopped after %d pages, remaining records follow on the next run", t, page)
		}
	}

	if result.OK() {
		if err := e.renewLease(ctx, t); err != nil {
			result.fail(err)
		}
	}
	if result.OK() {
		watermark := started
		if result.Truncated {
			watermark = newest
		}
		if watermark.After(result.Since) {
			if err := e.advanceWatermark(ctx, t, watermark); err != nil {
				result.fail(err)
			} else {
				result.Watermark = &watermark
			}
		}
	}

	e.recordPull(ctx, started, result)
	e.events.Publish(Event{Type: EventPullResult, ObjectType: string(t), Status: pullStatus(result), Data: result, At: e.now()})

	if result.OK() {
		log.Printf("📥 Sync: pulled %d %s records (%d created, %d updated, %d skipped, %d failed)",
			result.Fetched, t, result.Created, result.Updated, result.Skipped, result.Failed)
	} else {
		log.Printf("❌ Sync: %s pull failed, watermark kept at %s: %v", t, result.Since.Format(time.RFC3339), result.Err)
	}
	return result
}

func (e *SyncEngine) fetchPage(ctx context.Context, t ObjectType, since time.Time, page int) ([]remote.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.PullTimeout())
	defer cancel()
	return e.remote.List(ctx, string(t), remote.Page{UpdatedAfter: since, Limit: e.config.PageLimit, Page: page})
}

// itemUpdatedAt returns the remote modification time of a record, zero when absent
func itemUpdatedAt(item remote.Item) time.Time {
	s := item.String("updatedAt", "updated_at")
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// loadState loads or creates the sync state row of an object type
func (e *SyncEngine) loadState(ctx context.Context, t ObjectType) (*models.SyncState, error) {
	state := models.SyncState{ObjectType: string(t)}
	if err := e.db.WithContext(ctx).Where("object_type = ?", string(t)).FirstOrCreate(&state).Error; err != nil {
		return nil, fmt.Errorf("load %s sync state: %w", t, err)
	}
	return &state, nil
}

// advanceWatermark moves last_pull_at forward, never backwards
func (e *SyncEngine) advanceWatermark(ctx context.Context, t ObjectType, at time.Time) error {
	err := e.db.WithContext(ctx).Model(&models.SyncState{}).
		Where("object_type = ? AND (last_pull_at IS NULL OR last_pull_at < ?)", string(t), at).
		Update("last_pull_at", at).Error
	if err != nil {
		return fmt.Errorf("advance %s watermark: %w", t, err)
	}
	return nil
}

// acquireLease takes the cross-process pull lease on the sync state row
func (e *SyncEngine) acquireLease(ctx context.Context, t ObjectType) error {
	if _, err := e.loadState(ctx, t); err != nil {
		return err
	}
	now := e.now()
	res := e.db.WithContext(ctx).Model(&models.SyncState{}).
		Where("object_type = ? AND (lease_owner IS NULL OR lease_expires_at < ? OR lease_owner = ?)", string(t), now, e.owner).
		Updates(map[string]interface{}{
			"lease_owner":      e.owner,
			"lease_expires_at": now.Add(e.config.LeaseTTL()),
		})
	if res.Error != nil {
		return fmt.Errorf("acquire %s lease: %w", t, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// renewLease extends a lease this engine still owns. ErrLeaseLost once another worker holds it.
func (e *SyncEngine) renewLease(ctx context.Context, t ObjectType) error {
	if err := context.Cause(ctx); err != nil && errors.Is(err, ErrLeaseLost) {
		return err
	}
	res := e.db.WithContext(context.WithoutCancel(ctx)).Model(&models.SyncState{}).
		Where("object_type = ? AND lease_owner = ?", string(t), e.owner).
		Update("lease_expires_at", e.now().Add(e.config.LeaseTTL()))
	if res.Error != nil {
		return fmt.Errorf("renew %s lease: %w", t, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", t, ErrLeaseLost)
	}
	return nil
}

// keepLease renews the lease in the background every third of its lifetime, so slow pages and
// upserts never outlive it. A lost lease cancels the pull context with ErrLeaseLost.
func (e *SyncEngine) keepLease(ctx context.Context, t ObjectType, cancel context.CancelCauseFunc) (stop func()) {
	interval := e.config.LeaseTTL() / 3
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.renewLease(ctx, t); err != nil {
					if errors.Is(err, ErrLeaseLost) {
						log.Printf("❌ Sync: %v, aborting pull", err)
						cancel(err)
						return
					}
					log.Printf("⚠️ Sync: %v", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (e *SyncEngine) releaseLease(ctx context.Context, t ObjectType) {
	err := e.db.WithContext(context.WithoutCancel(ctx)).Model(&models.SyncState{}).
		Where("object_type = ? AND lease_owner = ?", string(t), e.owner).
		Updates(map[string]interface{}{"lease_owner": nil, "lease_expires_at": nil}).Error
	if err != nil {
		log.Printf("⚠️ Sync: release %s lease: %v", t, err)
	}
}

// processJobs drains one queue batch and records it
func (e *SyncEngine) processJobs(ctx context.Context) BatchResult {
	started := e.now()
	batch := e.queue.ProcessPendingJobs(ctx, e.config.BatchSize)
	if batch.Selected == 0 && batch.Requeued == 0 {
		return batch
	}
	h := models.SyncHistory{
		Kind:      models.HistoryKindPushBatch,
		StartedAt: started,
		Updated:   batch.Done - batch.Skipped,
		Skipped:   batch.Skipped,
		Errors:    batch.Failed,
	}
	e.recordHistory(ctx, &h, nil, batch)
	return batch
}

// ProcessJobs drains one queue batch on demand
func (e *SyncEngine) ProcessJobs(ctx context.Context) BatchResult {
	return e.processJobs(ctx)
}

func (e *SyncEngine) recordPull(ctx context.Context, started time.Time, r PullResult) {
	h := models.SyncHistory{
		Kind:       models.HistoryKindPull,
		ObjectType: string(r.ObjectType),
		StartedAt:  started,
		Created:    r.Created,
		Updated:    r.Updated,
		Skipped:    r.Skipped,
		Errors:     r.Failed,
	}
	e.recordHistory(ctx, &h, r.Err, map[string]interface{}{
		"since":     r.Since,
		"pages":     r.Pages,
		"fetched":   r.Fetched,
		"truncated": r.Truncated,
		"watermark": r.Watermark,
	})
}

// recordHistory completes and stores a history row. Status follows the error and error count.
func (e *SyncEngine) recordHistory(ctx context.Context, h *models.SyncHistory, runErr error, debug interface{}) {
	now := e.now()
	h.CompletedAt = &now
	h.Duration = int(now.Sub(h.StartedAt).Milliseconds())
	switch {
	case runErr != nil:
		h.Status = models.HistoryStatusError
		h.ErrorDetail = runErr.Error()
	case h.Errors > 0:
		h.Status = models.HistoryStatusPartial
	default:
		h.Status = models.HistoryStatusSuccess
	}
	if debug != nil {
		if raw, err := json.Marshal(debug); err == nil {
			h.DebugInfo = datatypes.JSON(raw)
		}
	}
	if err := e.db.WithContext(context.WithoutCancel(ctx)).Create(h).Error; err != nil {
		log.Printf("⚠️ Sync: failed to record %s history: %v", h.Kind, err)
	}
}

func (e *SyncEngine) enabledTypes() []ObjectType {
	var out []ObjectType
	for _, t := range ObjectTypes {
		if e.config.EntityEnabled(string(t)) {
			out = append(out, t)
		}
	}
	return out
}

func (e *SyncEngine) remoteConfigured() bool {
	if c, ok := e.remote.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return e.remote != nil
}

func pullStatus(r PullResult) string {
	switch {
	case !r.OK():
		return models.HistoryStatusError
	case r.Failed > 0:
		return models.HistoryStatusPartial
	}
	return models.HistoryStatusSuccess
}

func syncStatus(r SyncResult) string {
	if r.OK() {
		return models.HistoryStatusSuccess
	}
	return models.HistoryStatusError
}
