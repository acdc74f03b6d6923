package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrSyncInProgress is returned by SyncNow while another run is active
var ErrSyncInProgress = errors.New("sync already in progress")

// Runner is what the scheduler drives
type Runner interface {
	RunIncrementalSync(ctx context.Context) SyncResult
	RunNightlyReconciliation(ctx context.Context) SyncResult
}

// Scheduler runs incremental syncs on a ticker and reconciliation once a night
type Scheduler struct {
	runner        Runner
	pollInterval  time.Duration
	nightlyHour   int
	syncOnStartup bool

	mu             sync.RWMutex
	isRunning      bool
	syncInProgress bool
	lastSync       *SyncResult
	lastReconcile  *SyncResult
	nextReconcile  time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewScheduler creates a scheduler for the engine using its configuration
func NewScheduler(engine *SyncEngine) *Scheduler {
	cfg := engine.Config()
	interval := cfg.PollInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		runner:        engine,
		pollInterval:  interval,
		nightlyHour:   cfg.NightlyHour,
		syncOnStartup: cfg.SyncOnStartup,
		now:           time.Now,
	}
}

// Start launches the periodic loops
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler already running")
	}

	s.isRunning = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopChan = make(chan struct{})
	log.Printf("🔄 Scheduler starting (every %s, reconcile at %02d:00)", s.pollInterval, s.nightlyHour)

	s.wg.Add(2)
	go s.pollLoop()
	go s.nightlyLoop()

	if s.syncOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.run(s.ctx, false); err != nil {
				log.Printf("⏭️ Scheduler: startup sync skipped: %v", err)
			}
		}()
	}

	log.Println("✅ Scheduler started")
	return nil
}

// Stop stops the loops and waits for an active run to observe cancellation
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	log.Println("🛑 Stopping scheduler...")
	s.isRunning = false
	close(s.stopChan)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("✅ Scheduler stopped")
}

// SyncNow runs an incremental sync immediately
func (s *Scheduler) SyncNow(ctx context.Context) (SyncResult, error) {
	return s.run(ctx, false)
}

// ReconcileNow runs the nightly reconciliation immediately
func (s *Scheduler) ReconcileNow(ctx context.Context) (SyncResult, error) {
	return s.run(ctx, true)
}

func (s *Scheduler) run(ctx context.Context, reconcile bool) (SyncResult, error) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return SyncResult{}, ErrSyncInProgress
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	var result SyncResult
	if reconcile {
		result = s.runner.RunNightlyReconciliation(ctx)
	} else {
		result = s.runner.RunIncrementalSync(ctx)
	}

	s.mu.Lock()
	if reconcile {
		s.lastReconcile = &result
	}
	s.lastSync = &result
	s.mu.Unlock()
	return result, nil
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.run(s.ctx, false); err != nil {
				log.Printf("⏳ Scheduler: tick skipped: %v", err)
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) nightlyLoop() {
	defer s.wg.Done()
	for {
		next := nextDaily(s.now(), s.nightlyHour)
		s.mu.Lock()
		s.nextReconcile = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			if _, err := s.run(s.ctx, true); err != nil {
				log.Printf("⏳ Scheduler: reconciliation skipped: %v", err)
			}
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

// nextDaily returns the next occurrence of hour:00 in now's location, strictly after now
func nextDaily(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Status returns the scheduler state
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"is_running":       s.isRunning,
		"sync_in_progress": s.syncInProgress,
		"poll_interval":    s.pollInterval.String(),
		"next_reconcile":   s.nextReconcile,
		"last_sync":        s.lastSync,
		"last_reconcile":   s.lastReconcile,
	}
}
