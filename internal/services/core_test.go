package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katlab/katcore/internal/analysis"
	"github.com/katlab/katcore/internal/config"
	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
)

// =====================================================
// Test Helpers
// =====================================================

var jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F', 0}

func writeLibrary(t *testing.T) string {
	t.Helper()
	lib := models.ReferenceLibrary{
		Version:        "2025.06",
		WavelengthAxis: []float64{500, 600, 700, 800},
		Substances: []models.ReferenceSpectrum{
			{Name: "MDMA", Data: []float64{0.1, 0.9, 0.2, 0.4}},
			{Name: "Caffeine", Data: []float64{0.9, 0.1, 0.8, 0.1}},
			{Name: "Ketamine", Data: []float64{0.2, 0.3, 0.9, 0.7}},
		},
	}
	data, err := json.Marshal(lib)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "library.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func newCore(t *testing.T, libraryPath string) *Core {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.LibraryPath = libraryPath
	cfg.Sync.ProbeInterval = config.Duration{Duration: time.Hour}

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func capture(ts string, preprocessed []float64) CaptureResult {
	return CaptureResult{
		Timestamp:            ts,
		Spectrum:             []float64{10, 90, 20, 40},
		PreprocessedSpectrum: preprocessed,
		DetectionMode:        "raman",
		CSV:                  "wavelength,intensity\n500,10\n",
		Photo:                base64.StdEncoding.EncodeToString(jpegHeader),
	}
}

// =====================================================
// Construction
// =====================================================

func TestNew_invalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Identify.TopK = 0

	_, err := New(context.Background(), cfg)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfiguration))
}

func TestNew_embeddedLibraryIsNotReady(t *testing.T) {
	c := newCore(t, "")

	info := c.LibraryInfo()
	assert.True(t, info.Loaded)
	assert.False(t, info.Ready)
	assert.Zero(t, info.SubstanceCount)

	matches, err := c.Identify([]float64{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestNew_missingLibraryFileIsNotFatal(t *testing.T) {
	c := newCore(t, filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, c.LibraryInfo().Loaded)
}

// =====================================================
// Sessions and Acquisitions
// =====================================================

func TestCurrentSession_createsWhenMissing(t *testing.T) {
	c := newCore(t, "")
	ctx := context.Background()

	s, err := c.CurrentSession(ctx)
	require.NoError(t, err)
	assert.True(t, s.IsCurrent)

	again, err := c.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)
}

func TestAddAcquisition_identifies(t *testing.T) {
	c := newCore(t, writeLibrary(t))
	ctx := context.Background()

	s, err := c.NewTest(ctx, models.SessionInput{Event: "festival", Substance: "pill"})
	require.NoError(t, err)

	res, err := c.AddAcquisition(ctx, "", capture("20250601-120000", []float64{0.1, 0.9, 0.2, 0.4}))
	require.NoError(t, err)
	assert.Equal(t, s.ID, res.Acquisition.SessionID)
	assert.Equal(t, analysis.ConfidenceHigh, res.Confidence)

	top, ok := res.Acquisition.TopMatch()
	require.True(t, ok)
	assert.Equal(t, "MDMA", top.Substance)
	assert.Equal(t, 1, top.Rank)
	assert.Len(t, res.Acquisition.Identification, 3)
	assert.NotEmpty(t, res.Acquisition.FileIDs[models.RolePhoto])

	photo, err := c.GetFile(ctx, res.Acquisition.FileIDs[models.RolePhoto])
	require.NoError(t, err)
	assert.Equal(t, jpegHeader, photo.Data)

	acqs, err := c.ListAcquisitions(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, acqs, 1)
}

func TestAddAcquisition_storedUnidentified(t *testing.T) {
	tests := []struct {
		name         string
		library      bool
		preprocessed []float64
	}{
		{"library not ready", false, []float64{0.1, 0.9, 0.2, 0.4}},
		{"no preprocessed spectrum", true, nil},
		{"wrong length", true, []float64{0.1, 0.9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.library {
				path = writeLibrary(t)
			}
			c := newCore(t, path)

			res, err := c.AddAcquisition(context.Background(), "", capture("20250601-120000", tt.preprocessed))
			require.NoError(t, err)
			assert.Empty(t, res.Acquisition.Identification)
			assert.Empty(t, res.Confidence)
		})
	}
}

func TestAddAcquisition_validation(t *testing.T) {
	c := newCore(t, "")
	ctx := context.Background()

	bad := capture("20250601-120000", nil)
	bad.SummaryPlot = "!!not base64!!"
	_, err := c.AddAcquisition(ctx, "", bad)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = c.AddAcquisition(ctx, "", capture(" ", nil))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = c.AddAcquisition(ctx, "missing", capture("20250601-120000", nil))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestDecodeBase64_dataURL(t *testing.T) {
	data, err := decodeBase64("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegHeader))
	require.NoError(t, err)
	assert.Equal(t, jpegHeader, data)
}

// =====================================================
// Identification
// =====================================================

func TestIdentify(t *testing.T) {
	c := newCore(t, writeLibrary(t))

	matches, err := c.Identify([]float64{0.9, 0.1, 0.8, 0.1}, 0)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "Caffeine", matches[0].Substance)

	matches, err = c.Identify([]float64{0.9, 0.1, 0.8, 0.1}, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = c.Identify([]float64{1, 2}, 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestClearLibrary(t *testing.T) {
	c := newCore(t, writeLibrary(t))
	ctx := context.Background()
	require.True(t, c.LibraryInfo().Ready)

	require.NoError(t, c.ClearLibrary(ctx))
	assert.False(t, c.LibraryInfo().Loaded)

	res, err := c.SyncLibrary(ctx)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 3, res.SubstanceCount)
}

// =====================================================
// Replication and Export
// =====================================================

func TestQueueCurrentSession_syncNow(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true,"id":"doc-1","rev":"1-abc"}`))
	}))
	defer server.Close()

	c := newCore(t, "")
	ctx := context.Background()

	url, token, auto := server.URL, "secret-token", true
	settings, err := c.UpdateSettings(ctx, models.SettingsUpdate{SyncServerURL: &url, SyncToken: &token, AutoSync: &auto})
	require.NoError(t, err)
	assert.True(t, settings.SyncConfigured())

	_, err = c.AddAcquisition(ctx, "", capture("20250601-120000", nil))
	require.NoError(t, err)

	res, err := c.QueueCurrentSession(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	require.NotNil(t, res.Batch)
	assert.Equal(t, 1, res.Batch.Synced)
	assert.EqualValues(t, 1, posts.Load())

	s, err := c.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, s.IsSynced())

	status, err := c.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Pending)
	assert.True(t, status.Configured)

	items, err := c.SyncQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestExportSession(t *testing.T) {
	c := newCore(t, "")
	ctx := context.Background()

	s, err := c.NewTest(ctx, models.SessionInput{Event: "festival"})
	require.NoError(t, err)
	_, err = c.AddAcquisition(ctx, s.ID, capture("20250601-120000", nil))
	require.NoError(t, err)

	res, err := c.ExportSession(ctx, s.ID, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AcquisitionCount)
	assert.Contains(t, res.Entries, "acquisition_001.jpg")

	info, err := os.Stat(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, res.SizeBytes, info.Size())
}

func TestBackgroundSync_startStop(t *testing.T) {
	c := newCore(t, "")
	ctx := context.Background()

	c.StartBackgroundSync(ctx)
	c.StartBackgroundSync(ctx)
	assert.True(t, c.SchedulerStatus().IsRunning)

	c.SetOnline(false)
	assert.False(t, c.SchedulerStatus().IsOnline)

	c.StopBackgroundSync()
	c.StopBackgroundSync()
	assert.False(t, c.SchedulerStatus().IsRunning)
}

func TestSchemaStatus(t *testing.T) {
	c := newCore(t, "")

	st, err := c.SchemaStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(2), st.Version)
	assert.Equal(t, st.Latest, st.Version)
	assert.True(t, st.UpToDate)
	assert.Empty(t, st.Problem)
}
