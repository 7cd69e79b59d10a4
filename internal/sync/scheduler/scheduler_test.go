package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	syncpkg "github.com/katlab/katcore/internal/sync"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =====================================================
// Test Helpers
// =====================================================

// stubEngine mimics the engine's in-flight guard without a store or network.
type stubEngine struct {
	mu        sync.Mutex
	status    syncpkg.Status
	statusErr error

	syncing atomic.Bool
	online  atomic.Bool
	calls   atomic.Int32

	started chan struct{} // receives once per batch when set
	release chan struct{} // batches block until closed when set
}

func openGate() *stubEngine {
	return &stubEngine{status: syncpkg.Status{Pending: 2, Configured: true, AutoSync: true}}
}

func (e *stubEngine) SyncAll(ctx context.Context) (*syncpkg.BatchResult, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return &syncpkg.BatchResult{Errors: []string{syncpkg.MsgSyncInProgress}}, nil
	}
	defer e.syncing.Store(false)

	e.calls.Add(1)
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		<-e.release
	}
	e.mu.Lock()
	n := e.status.Pending
	e.mu.Unlock()
	return &syncpkg.BatchResult{Synced: n, Errors: []string{}}, nil
}

func (e *stubEngine) Status(ctx context.Context) (*syncpkg.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.statusErr != nil {
		return nil, e.statusErr
	}
	st := e.status
	return &st, nil
}

func (e *stubEngine) IsSyncing() bool { return e.syncing.Load() }

func (e *stubEngine) SetOnline(online bool) { e.online.Store(online) }

func (e *stubEngine) setStatus(st syncpkg.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = st
}

// startScheduler starts a scheduler with a long interval so only explicit
// triggers fire.
func startScheduler(t *testing.T, engine *stubEngine) *Scheduler {
	t.Helper()
	s := NewScheduler(engine, &SchedulerConfig{SyncInterval: time.Hour})
	s.Start(context.Background())
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return s
}

// =====================================================
// Configuration Tests
// =====================================================

func TestDefaultSchedulerConfig(t *testing.T) {
	assert.Equal(t, 5*time.Minute, DefaultSchedulerConfig().SyncInterval)
}

func TestNewScheduler_nilConfig(t *testing.T) {
	s := NewScheduler(openGate(), nil)
	assert.Equal(t, 5*time.Minute, s.syncInterval)
	assert.True(t, s.IsOnline())
	assert.False(t, s.IsRunning())
}

// =====================================================
// Gate Tests
// =====================================================

func TestTriggerSync_notRunning(t *testing.T) {
	engine := openGate()
	s := NewScheduler(engine, nil)

	assert.False(t, s.TriggerSync(TriggerForeground))
	assert.Zero(t, engine.calls.Load())
}

func TestTriggerSync_gate(t *testing.T) {
	tests := []struct {
		name   string
		status syncpkg.Status
		want   bool
	}{
		{"open", syncpkg.Status{Pending: 1, Configured: true, AutoSync: true}, true},
		{"auto-sync off", syncpkg.Status{Pending: 1, Configured: true}, false},
		{"not configured", syncpkg.Status{Pending: 1, AutoSync: true}, false},
		{"nothing pending", syncpkg.Status{Configured: true, AutoSync: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{status: tt.status}
			s := startScheduler(t, engine)

			assert.Equal(t, tt.want, s.TriggerSync(TriggerForeground))
			s.Wait()
			if tt.want {
				assert.EqualValues(t, 1, engine.calls.Load())
			} else {
				assert.Zero(t, engine.calls.Load())
			}
		})
	}
}

func TestTriggerSync_statusError(t *testing.T) {
	engine := openGate()
	engine.statusErr = errors.New("disk I/O error")
	s := startScheduler(t, engine)

	assert.False(t, s.TriggerSync(TriggerInterval))
}

func TestTriggerSync_offline(t *testing.T) {
	engine := openGate()
	s := startScheduler(t, engine)

	s.SetOnlineStatus(false)
	assert.False(t, engine.online.Load())
	assert.False(t, s.TriggerSync(TriggerForeground))
	assert.Zero(t, engine.calls.Load())
}

// TestTriggerSync_droppedWhileSyncing verifies a trigger during a batch is
// dropped rather than queued.
func TestTriggerSync_droppedWhileSyncing(t *testing.T) {
	engine := openGate()
	engine.started = make(chan struct{}, 1)
	engine.release = make(chan struct{})
	s := startScheduler(t, engine)

	require.True(t, s.TriggerSync(TriggerForeground))
	<-engine.started

	assert.False(t, s.TriggerSync(TriggerForeground))
	assert.True(t, s.GetStatus().SyncInProgress)

	close(engine.release)
	s.Wait()
	assert.EqualValues(t, 1, engine.calls.Load())
}

// =====================================================
// Trigger Tests
// =====================================================

func TestSetOnlineStatus_transitionTriggersBatch(t *testing.T) {
	engine := openGate()
	s := startScheduler(t, engine)

	// already online: no transition
	s.SetOnlineStatus(true)
	s.Wait()
	assert.Zero(t, engine.calls.Load())

	s.SetOnlineStatus(false)
	s.SetOnlineStatus(true)
	s.Wait()
	assert.EqualValues(t, 1, engine.calls.Load())
	assert.True(t, engine.online.Load())
}

func TestNotifyForeground(t *testing.T) {
	engine := openGate()
	s := startScheduler(t, engine)

	s.NotifyForeground()
	s.Wait()
	assert.EqualValues(t, 1, engine.calls.Load())

	st := s.GetStatus()
	require.NotNil(t, st.LastSyncTime)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 2, st.LastResult.Synced)
}

func TestPeriodicTick(t *testing.T) {
	engine := openGate()
	s := NewScheduler(engine, &SchedulerConfig{SyncInterval: 20 * time.Millisecond})
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return engine.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)

	s.Stop()
	s.Wait()
}

func TestPeriodicTick_skipsWhenNothingPending(t *testing.T) {
	engine := openGate()
	engine.setStatus(syncpkg.Status{Configured: true, AutoSync: true})
	s := NewScheduler(engine, &SchedulerConfig{SyncInterval: 10 * time.Millisecond})
	s.Start(context.Background())

	time.Sleep(60 * time.Millisecond)
	s.Stop()
	s.Wait()
	assert.Zero(t, engine.calls.Load())
}

// =====================================================
// Start/Stop Tests
// =====================================================

func TestStartStop_idempotent(t *testing.T) {
	s := NewScheduler(openGate(), nil)
	ctx := context.Background()

	s.Start(ctx)
	s.Start(ctx)
	assert.True(t, s.IsRunning())

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	// restart after stop
	s.Start(ctx)
	assert.True(t, s.IsRunning())
	s.Stop()
}

func TestStop_contextCancelEndsLoop(t *testing.T) {
	s := NewScheduler(openGate(), &SchedulerConfig{SyncInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()
}

// TestStop_doesNotWaitForBatch verifies Stop returns while a batch runs and
// that the batch still completes.
func TestStop_doesNotWaitForBatch(t *testing.T) {
	engine := openGate()
	engine.started = make(chan struct{}, 1)
	engine.release = make(chan struct{})
	s := NewScheduler(engine, &SchedulerConfig{SyncInterval: time.Hour})
	s.Start(context.Background())

	require.True(t, s.TriggerSync(TriggerForeground))
	<-engine.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for the running batch")
	}

	assert.False(t, s.IsRunning())
	assert.False(t, s.TriggerSync(TriggerForeground))
	assert.True(t, engine.IsSyncing())

	close(engine.release)
	s.Wait()
	assert.False(t, engine.IsSyncing())
	require.NotNil(t, s.GetStatus().LastResult)
}
