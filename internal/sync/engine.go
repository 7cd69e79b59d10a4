// Package sync replicates locally captured sessions to the remote document
// store.
//
// Replication is one-way and whole-session: each queued session is sent as a
// single document with its binaries inlined as base64 attachments. There is
// no pull, merge or conflict handling.
package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/katlab/katcore/internal/db"
	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/logging"
	"github.com/katlab/katcore/internal/models"
	"github.com/katlab/katcore/internal/sync/queue"
)

// MsgSyncInProgress is reported when a batch is requested while one runs.
const MsgSyncInProgress = "sync already in progress"

// SessionResult is the outcome of replicating one session.
type SessionResult struct {
	SessionID string `json:"sessionId"`
	DocID     string `json:"docId"`
	DocRev    string `json:"docRev"`
}

// BatchResult aggregates a SyncAll run. Synced + Failed equals the number of
// items pending when the batch started.
type BatchResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

// QueueResult is returned by QueueCurrentSession. Batch is set when the
// caller asked to sync immediately.
type QueueResult struct {
	Queued    bool         `json:"queued"`
	SessionID string       `json:"sessionId"`
	Batch     *BatchResult `json:"batch,omitempty"`
}

// ConnectionResult reports a successful connection test.
type ConnectionResult struct {
	Message  string `json:"message"`
	DocCount int    `json:"docCount"`
}

// Status summarizes replication state.
type Status struct {
	Pending    int  `json:"pending"`
	Failed     int  `json:"failed"`
	Configured bool `json:"configured"`
	AutoSync   bool `json:"autoSync"`
	Syncing    bool `json:"syncing"`
	Online     bool `json:"online"`
}

// SyncEngine replicates queued sessions.
type SyncEngine struct {
	store     db.Store
	queue     *queue.Queue
	transport Transport
	now       func() time.Time

	syncing atomic.Bool
	online  atomic.Bool
}

// NewSyncEngine creates a new SyncEngine. The engine starts online.
func NewSyncEngine(store db.Store, transport Transport) *SyncEngine {
	e := &SyncEngine{
		store:     store,
		queue:     queue.New(store),
		transport: transport,
		now:       time.Now,
	}
	e.online.Store(true)
	return e
}

// Queue returns the engine's sync queue.
func (e *SyncEngine) Queue() *queue.Queue {
	return e.queue
}

// endpoint reads the remote endpoint from settings.
func (e *SyncEngine) endpoint(ctx context.Context) (Endpoint, error) {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return Endpoint{}, err
	}
	if settings.SyncServerURL == "" {
		return Endpoint{}, apperrors.Configuration("Sync server URL not configured")
	}
	if settings.SyncToken == "" {
		return Endpoint{}, apperrors.Configuration("Sync token not configured")
	}
	return Endpoint{ServerURL: settings.SyncServerURL, Token: settings.SyncToken}, nil
}

// SyncSession sends one session to the remote store and marks it synced.
// It does not consult the queue status; SyncAll records failures.
func (e *SyncEngine) SyncSession(ctx context.Context, sessionID string) (*SessionResult, error) {
	ep, err := e.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	doc, err := BuildDocument(ctx, e.store, session, now)
	if err != nil {
		return nil, err
	}

	res, err := e.transport.Post(ctx, ep, doc)
	if err != nil {
		return nil, err
	}

	// A local failure here leaves the item queued after a successful post; a
	// later resend creates a second remote document.
	if err := e.store.MarkSynced(ctx, sessionID, now); err != nil {
		return nil, err
	}

	logging.Info("Session synced", map[string]interface{}{
		"session_id":  sessionID,
		"doc_id":      res.ID,
		"attachments": len(doc.Attachments),
	})

	return &SessionResult{SessionID: sessionID, DocID: res.ID, DocRev: res.Rev}, nil
}

// SyncAll replicates every item that is pending when the call starts, in
// queue order. A failure is recorded on its queue item and the batch moves on.
// While a batch runs, further calls return at once with MsgSyncInProgress.
// The returned error is non-nil only if the pending list cannot be read.
func (e *SyncEngine) SyncAll(ctx context.Context) (*BatchResult, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return &BatchResult{Errors: []string{MsgSyncInProgress}}, nil
	}
	defer e.syncing.Store(false)

	result := &BatchResult{Errors: []string{}}

	pending, err := e.queue.GetPending(ctx)
	if err != nil {
		return result, err
	}
	if len(pending) == 0 {
		return result, nil
	}

	start := time.Now()
	logging.Info("Starting sync batch", map[string]interface{}{"pending": len(pending)})

	for _, item := range pending {
		if _, err := e.SyncSession(ctx, item.SessionID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", item.SessionID, apperrors.Message(err)))

			if qerr := e.queue.Failed(ctx, item.SessionID, err); qerr != nil {
				logging.Error("Failed to record sync failure", qerr,
					map[string]interface{}{"session_id": item.SessionID})
			}
			logging.ErrorWithCode("Session sync failed", string(apperrors.CodeOf(err)), err,
				map[string]interface{}{"session_id": item.SessionID})
			continue
		}
		result.Synced++
	}

	logging.Info("Sync batch completed", map[string]interface{}{
		"synced":      result.Synced,
		"failed":      result.Failed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

// QueueCurrentSession queues the current session, which must have at least
// one acquisition, and optionally runs a batch right away.
func (e *SyncEngine) QueueCurrentSession(ctx context.Context, syncNow bool) (*QueueResult, error) {
	session, err := e.store.GetCurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if len(session.AcquisitionIDs) == 0 {
		return nil, apperrors.Validation("no acquisitions to sync")
	}

	if _, err := e.queue.Enqueue(ctx, session.ID); err != nil {
		return nil, err
	}

	result := &QueueResult{Queued: true, SessionID: session.ID}
	if syncNow {
		batch, err := e.SyncAll(ctx)
		if err != nil {
			return nil, err
		}
		result.Batch = batch
	}
	return result, nil
}

// Enqueue queues a session for replication.
func (e *SyncEngine) Enqueue(ctx context.Context, sessionID string) (*models.SyncQueueItem, error) {
	return e.queue.Enqueue(ctx, sessionID)
}

// ResetFailed moves every failed item back to pending.
func (e *SyncEngine) ResetFailed(ctx context.Context) (int, error) {
	return e.queue.RetryAll(ctx)
}

// TestConnection probes the configured collection. It never queues anything.
func (e *SyncEngine) TestConnection(ctx context.Context) (*ConnectionResult, error) {
	ep, err := e.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	n, err := e.transport.Probe(ctx, ep)
	if err != nil {
		return nil, err
	}
	return &ConnectionResult{Message: "Connection successful", DocCount: n}, nil
}

// Status reports queue counts, settings flags and engine state.
func (e *SyncEngine) Status(ctx context.Context) (*Status, error) {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := e.queue.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Pending:    stats.Pending,
		Failed:     stats.Failed,
		Configured: settings.SyncConfigured(),
		AutoSync:   settings.AutoSync,
		Syncing:    e.syncing.Load(),
		Online:     e.online.Load(),
	}, nil
}

// IsSyncing reports whether a batch is running.
func (e *SyncEngine) IsSyncing() bool {
	return e.syncing.Load()
}

// SetOnline records the host's network reachability for Status.
func (e *SyncEngine) SetOnline(online bool) {
	e.online.Store(online)
}
