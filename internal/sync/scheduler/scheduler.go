// Package scheduler runs replication batches in the background.
//
// A batch is attempted on three triggers: a fixed-interval tick, a transition
// from offline to online, and the application returning to the foreground.
// Each attempt is gated on the scheduler running, the host being online,
// auto-sync being enabled, the endpoint being configured and at least one
// item pending. An attempt while a batch runs is dropped, not queued.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/logging"
	syncpkg "github.com/katlab/katcore/internal/sync"
)

// Trigger names what started a batch attempt.
type Trigger string

const (
	TriggerInterval   Trigger = "interval"
	TriggerOnline     Trigger = "online"
	TriggerForeground Trigger = "foreground"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	syncInterval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup // ticker loop
	batches sync.WaitGroup // batches started by the scheduler

	mu           sync.RWMutex
	ctx          context.Context
	isRunning    bool
	isOnline     bool
	lastSyncTime time.Time
	lastResult   *syncpkg.BatchResult
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // how often to check for pending items (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. The host is assumed online until
// told otherwise.
func NewScheduler(engine syncpkg.SyncEngineInterface, config *SchedulerConfig) *Scheduler {
	if config == nil || config.SyncInterval <= 0 {
		config = DefaultSchedulerConfig()
	}

	return &Scheduler{
		engine:       engine,
		syncInterval: config.SyncInterval,
		isOnline:     true,
	}
}

// Start starts the background scheduler. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ctx = ctx
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx, stopCh)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
}

// Stop stops the ticker and further reactions to triggers. A batch already
// running is neither cancelled nor waited for; use Wait for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// Wait blocks until every batch started by the scheduler has finished.
func (s *Scheduler) Wait() {
	s.batches.Wait()
}

// SetOnlineStatus records network reachability. Going from offline to online
// triggers a batch attempt.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	s.engine.SetOnline(isOnline)

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})
	if isOnline {
		s.TriggerSync(TriggerOnline)
	}
}

// NotifyForeground reports that the application became visible again.
func (s *Scheduler) NotifyForeground() {
	s.TriggerSync(TriggerForeground)
}

// periodicSyncLoop fires an attempt on every tick until stopped.
func (s *Scheduler) periodicSyncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.TriggerSync(TriggerInterval)
		}
	}
}

// TriggerSync attempts a batch if the gate is open and returns whether one
// was started. The batch runs in its own goroutine on a context detached from
// the scheduler's, so stopping the scheduler does not cut it short.
func (s *Scheduler) TriggerSync(trigger Trigger) bool {
	s.mu.RLock()
	running, online, ctx := s.isRunning, s.isOnline, s.ctx
	s.mu.RUnlock()

	if !running || !online {
		return false
	}
	if s.engine.IsSyncing() {
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": string(trigger)})
		return false
	}

	status, err := s.engine.Status(ctx)
	if err != nil {
		logging.Error("Failed to read sync status", err, map[string]interface{}{"trigger": string(trigger)})
		return false
	}
	if !status.AutoSync || !status.Configured || status.Pending == 0 {
		return false
	}

	s.batches.Add(1)
	go s.runSync(context.WithoutCancel(ctx), trigger, status.Pending)
	return true
}

// runSync executes one batch.
func (s *Scheduler) runSync(ctx context.Context, trigger Trigger, pending int) {
	defer s.batches.Done()

	logging.Info("Background sync starting",
		map[string]interface{}{"trigger": string(trigger), "pending": pending})

	result, err := s.engine.SyncAll(ctx)
	if err != nil {
		logging.ErrorWithCode("Background sync failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{"trigger": string(trigger)})
		return
	}
	if result.Synced == 0 && result.Failed == 0 {
		// lost the race to another caller, or nothing left to send
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastResult = result
	s.mu.Unlock()

	logging.Info("Background sync completed",
		map[string]interface{}{
			"trigger": string(trigger),
			"synced":  result.Synced,
			"failed":  result.Failed,
		})
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool                 `json:"isRunning"`
	IsOnline       bool                 `json:"isOnline"`
	SyncInProgress bool                 `json:"syncInProgress"`
	LastSyncTime   *time.Time           `json:"lastSyncTime,omitempty"`
	LastResult     *syncpkg.BatchResult `json:"lastResult,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.engine.IsSyncing(),
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsOnline returns whether the scheduler considers the host online.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
