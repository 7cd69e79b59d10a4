package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katlab/katcore/internal/db"
	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
)

// =====================================================
// Test Helpers
// =====================================================

var (
	jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F', 0}
	pngHeader  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	syncedAt   = time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
)

func setupStore(t *testing.T) *db.Repository {
	t.Helper()
	conn, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	repo := db.NewRepository(conn.DB)
	t.Cleanup(func() {
		repo.Close()
		conn.Close()
	})
	return repo
}

func newEngine(t *testing.T, repo *db.Repository, serverURL string) *SyncEngine {
	t.Helper()
	if serverURL != "" {
		url, token := serverURL, "secret-token"
		_, err := repo.UpdateSettings(context.Background(), models.SettingsUpdate{
			SyncServerURL: &url,
			SyncToken:     &token,
		})
		require.NoError(t, err)
	}
	e := NewSyncEngine(repo, NewHTTPTransport(&HTTPConfig{Timeout: 5 * time.Second}))
	e.now = func() time.Time { return syncedAt }
	return e
}

func newSessionWithAcquisition(t *testing.T, repo *db.Repository, event, ts string) *models.Session {
	t.Helper()
	ctx := context.Background()
	s, err := repo.CreateSession(ctx, models.SessionInput{Event: event, Substance: "unknown pill", Appearance: "tablet"})
	require.NoError(t, err)

	laser := 785.0
	_, err = repo.AddAcquisition(ctx, s.ID, &models.Acquisition{
		Timestamp:       ts,
		Spectrum:        []float64{0.1, 0.5, 0.9},
		Identification:  []models.Match{{Rank: 1, Substance: "MDMA", Score: 0.931}},
		LaserWavelength: &laser,
		DetectionMode:   "raman",
		CSV:             "wavelength,intensity\n500,0.1\n",
	}, []*models.File{
		{Role: models.RolePhoto, Data: jpegHeader},
		{Role: models.RoleSummaryPlot, Data: pngHeader},
	})
	require.NoError(t, err)

	s, err = repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	return s
}

// remote is a fake document store that records posted documents.
type remote struct {
	mu     sync.Mutex
	docs   []Document
	status func(doc Document) int
	posts  int32
}

func (r *remote) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			w.Write([]byte(`{"total_rows":3}`))
			return
		}
		atomic.AddInt32(&r.posts, 1)

		var doc Document
		if err := json.NewDecoder(req.Body).Decode(&doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status := http.StatusCreated
		r.mu.Lock()
		statusFn := r.status
		r.mu.Unlock()
		if statusFn != nil {
			status = statusFn(doc)
		}
		if status >= 300 {
			w.WriteHeader(status)
			w.Write([]byte("remote unavailable"))
			return
		}

		r.mu.Lock()
		r.docs = append(r.docs, doc)
		n := len(r.docs)
		r.mu.Unlock()

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "id": fmt.Sprintf("doc-%d", n), "rev": "1-x"})
	})
}

func (r *remote) setStatus(fn func(doc Document) int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = fn
}

func (r *remote) posted() []Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Document(nil), r.docs...)
}

func startRemote(t *testing.T, r *remote) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(r.handler(t))
	t.Cleanup(server.Close)
	return server
}

// =====================================================
// SyncSession Tests
// =====================================================

func TestSyncSession(t *testing.T) {
	repo := setupStore(t)
	r := &remote{}
	server := startRemote(t, r)
	e := newEngine(t, repo, server.URL)
	ctx := context.Background()

	s := newSessionWithAcquisition(t, repo, "festival", "20250601-101500")
	_, err := e.Enqueue(ctx, s.ID)
	require.NoError(t, err)

	res, err := e.SyncSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocID)
	assert.Equal(t, "1-x", res.DocRev)

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SyncedAt)
	assert.True(t, syncedAt.Equal(*got.SyncedAt))

	_, err = e.Queue().Get(ctx, s.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	docs := r.posted()
	require.Len(t, docs, 1)
	assert.Equal(t, "festival", docs[0].Event)
	assert.Equal(t, "2025-06-01T10:30:00.000Z", docs[0].SyncedAt)
}

func TestSyncSession_notConfigured(t *testing.T) {
	repo := setupStore(t)
	e := newEngine(t, repo, "")
	s := newSessionWithAcquisition(t, repo, "festival", "t1")

	_, err := e.SyncSession(context.Background(), s.ID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfiguration))
	assert.Contains(t, err.Error(), "Sync server URL not configured")

	url := "http://127.0.0.1:1"
	_, err = repo.UpdateSettings(context.Background(), models.SettingsUpdate{SyncServerURL: &url})
	require.NoError(t, err)
	_, err = e.SyncSession(context.Background(), s.ID)
	assert.Contains(t, err.Error(), "Sync token not configured")
}

func TestSyncSession_unknownSession(t *testing.T) {
	repo := setupStore(t)
	r := &remote{}
	e := newEngine(t, repo, startRemote(t, r).URL)

	_, err := e.SyncSession(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.Zero(t, atomic.LoadInt32(&r.posts))
}

// =====================================================
// SyncAll Tests
// =====================================================

// TestSyncAll_serverErrorMarksFailed verifies an HTTP 500 leaves the item
// failed with retryCount 1 and that it is not retried until reset.
func TestSyncAll_serverErrorMarksFailed(t *testing.T) {
	repo := setupStore(t)
	r := &remote{status: func(Document) int { return http.StatusInternalServerError }}
	e := newEngine(t, repo, startRemote(t, r).URL)
	ctx := context.Background()

	s := newSessionWithAcquisition(t, repo, "festival", "t1")
	_, err := e.Enqueue(ctx, s.ID)
	require.NoError(t, err)

	res, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], s.ID+": sync failed (500)"))

	item, err := e.Queue().Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Contains(t, item.LastError, "sync failed (500)")

	// failed items are skipped by later batches
	res, err = e.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Synced+res.Failed)
	assert.EqualValues(t, 1, atomic.LoadInt32(&r.posts))

	n, err := e.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r.setStatus(nil)
	res, err = e.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
}

// TestSyncAll_countsEveryPendingItem verifies synced + failed equals the
// number of items pending at start and that one failure does not stop the batch.
func TestSyncAll_countsEveryPendingItem(t *testing.T) {
	repo := setupStore(t)
	r := &remote{status: func(doc Document) int {
		if doc.Event == "bad" {
			return http.StatusBadRequest
		}
		return http.StatusCreated
	}}
	e := newEngine(t, repo, startRemote(t, r).URL)
	ctx := context.Background()

	for _, event := range []string{"a", "bad", "c"} {
		s := newSessionWithAcquisition(t, repo, event, "t-"+event)
		_, err := e.Enqueue(ctx, s.ID)
		require.NoError(t, err)
	}

	res, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.Synced+res.Failed)

	stats, err := e.Queue().GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Pending: 0, Failed: 1}, stats)
}

func TestSyncAll_empty(t *testing.T) {
	repo := setupStore(t)
	e := newEngine(t, repo, "")

	res, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Errors)
}

// TestSyncAll_concurrentCallIsRejected verifies a second batch requested
// while one runs returns immediately.
func TestSyncAll_concurrentCallIsRejected(t *testing.T) {
	repo := setupStore(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Write([]byte(`{"id":"doc-1","rev":"1-x"}`))
	}))
	defer server.Close()

	e := newEngine(t, repo, server.URL)
	ctx := context.Background()
	s := newSessionWithAcquisition(t, repo, "festival", "t1")
	_, err := e.Enqueue(ctx, s.ID)
	require.NoError(t, err)

	done := make(chan *BatchResult)
	go func() {
		res, _ := e.SyncAll(ctx)
		done <- res
	}()
	<-entered
	assert.True(t, e.IsSyncing())

	busy, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{MsgSyncInProgress}, busy.Errors)
	assert.Zero(t, busy.Synced+busy.Failed)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Synced)
	assert.False(t, e.IsSyncing())
}

// =====================================================
// QueueCurrentSession Tests
// =====================================================

func TestQueueCurrentSession(t *testing.T) {
	repo := setupStore(t)
	r := &remote{}
	e := newEngine(t, repo, startRemote(t, r).URL)
	ctx := context.Background()

	_, err := e.QueueCurrentSession(ctx, false)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = repo.CreateSession(ctx, models.SessionInput{Event: "empty"})
	require.NoError(t, err)
	_, err = e.QueueCurrentSession(ctx, false)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "no acquisitions to sync")

	s := newSessionWithAcquisition(t, repo, "festival", "t1")
	res, err := e.QueueCurrentSession(ctx, false)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, s.ID, res.SessionID)
	assert.Nil(t, res.Batch)
	assert.Zero(t, atomic.LoadInt32(&r.posts))

	res, err = e.QueueCurrentSession(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	assert.Equal(t, 1, res.Batch.Synced)
}

// =====================================================
// Connection and Status Tests
// =====================================================

func TestTestConnection(t *testing.T) {
	repo := setupStore(t)
	r := &remote{}
	e := newEngine(t, repo, startRemote(t, r).URL)
	ctx := context.Background()

	res, err := e.TestConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.DocCount)

	stats, err := e.Queue().GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}

func TestTestConnection_notConfigured(t *testing.T) {
	e := newEngine(t, setupStore(t), "")
	_, err := e.TestConnection(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrConfiguration))
}

func TestStatus(t *testing.T) {
	repo := setupStore(t)
	e := newEngine(t, repo, "")
	ctx := context.Background()

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Status{Online: true}, st)

	s := newSessionWithAcquisition(t, repo, "festival", "t1")
	_, err = e.Enqueue(ctx, s.ID)
	require.NoError(t, err)

	url, token, auto := "https://couch.example.org", "abcdefghijk", true
	_, err = repo.UpdateSettings(ctx, models.SettingsUpdate{SyncServerURL: &url, SyncToken: &token, AutoSync: &auto})
	require.NoError(t, err)
	e.SetOnline(false)

	st, err = e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Status{Pending: 1, Configured: true, AutoSync: true, Online: false}, st)
}
