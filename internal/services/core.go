// Package services wires the local store, the identification engine, the
// replication engine and the exporter into one facade for the UI layer and
// the CLI.
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/katlab/katcore/internal/analysis"
	"github.com/katlab/katcore/internal/config"
	"github.com/katlab/katcore/internal/db"
	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/export"
	"github.com/katlab/katcore/internal/logging"
	"github.com/katlab/katcore/internal/models"
	syncpkg "github.com/katlab/katcore/internal/sync"
	"github.com/katlab/katcore/internal/sync/scheduler"
)

// CaptureResult is what the capture pipeline delivers for one measurement.
// Binary payloads arrive base64 encoded.
type CaptureResult struct {
	Timestamp            string    `json:"timestamp"`
	Spectrum             []float64 `json:"spectrum"`
	PreprocessedSpectrum []float64 `json:"preprocessed_spectrum"`
	LaserWavelength      *float64  `json:"laser_wavelength"`
	DetectionMode        string    `json:"detection_mode"`
	CSV                  string    `json:"csv"`
	Photo                string    `json:"photo"`
	SummaryPlot          string    `json:"summary_plot"`
	IdentificationPlot   string    `json:"identification_plot"`
}

// files decodes the binary payloads. Empty payloads are omitted.
func (c *CaptureResult) files() ([]*models.File, error) {
	payloads := []struct {
		role     models.FileRole
		mimeType string
		data     string
	}{
		{models.RolePhoto, "image/jpeg", c.Photo},
		{models.RoleSummaryPlot, "image/png", c.SummaryPlot},
		{models.RoleIdentificationPlot, "image/png", c.IdentificationPlot},
	}

	var files []*models.File
	for _, p := range payloads {
		if p.data == "" {
			continue
		}
		data, err := decodeBase64(p.data)
		if err != nil {
			return nil, apperrors.Validation(fmt.Sprintf("%s is not valid base64: %v", p.role, err))
		}
		files = append(files, &models.File{Role: p.role, MimeType: p.mimeType, Data: data})
	}
	return files, nil
}

// decodeBase64 accepts plain base64 or a data URL.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// AcquisitionResult is a stored acquisition with the confidence of its top
// match, if it was identified.
type AcquisitionResult struct {
	Acquisition *models.Acquisition `json:"acquisition"`
	Confidence  analysis.Confidence `json:"confidence,omitempty"`
}

// LibraryInfo describes the loaded reference library.
type LibraryInfo struct {
	Loaded         bool     `json:"loaded"`
	Ready          bool     `json:"ready"`
	Version        string   `json:"version"`
	SubstanceCount int      `json:"substanceCount"`
	AxisLength     int      `json:"axisLength"`
	Substances     []string `json:"substances,omitempty"`
}

// SchemaStatus describes the store's migration state.
type SchemaStatus struct {
	Path     string `json:"path"`
	Version  uint   `json:"version"`
	Latest   uint   `json:"latest"`
	Dirty    bool   `json:"dirty"`
	UpToDate bool   `json:"upToDate"`
	Problem  string `json:"problem,omitempty"`
}

// Core is the application facade.
type Core struct {
	cfg        *config.Config
	conn       *db.DB
	store      *db.Repository
	identifier *analysis.Identifier
	engine     *syncpkg.SyncEngine
	scheduler  *scheduler.Scheduler
	exporter   *export.ExportService

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New opens the store at cfg.DBPath and builds every component. The
// reference library is loaded from cache, or from its source on first run;
// a library failure is logged and leaves identification unavailable.
func New(ctx context.Context, cfg *config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "invalid configuration", err)
	}

	conn, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	store := db.NewRepository(conn.DB)

	transport := syncpkg.NewHTTPTransport(&syncpkg.HTTPConfig{
		Collection: cfg.Sync.Collection,
		Timeout:    cfg.Sync.HTTPTimeout.Duration,
	})
	engine := syncpkg.NewSyncEngine(store, transport)

	c := &Core{
		cfg:        cfg,
		conn:       conn,
		store:      store,
		identifier: analysis.NewIdentifier(store, analysis.SourceFor(cfg.LibraryPath)),
		engine:     engine,
		scheduler:  scheduler.NewScheduler(engine, &scheduler.SchedulerConfig{SyncInterval: cfg.Sync.Interval.Duration}),
		exporter:   export.NewExportService(store),
	}

	if _, err := c.identifier.Sync(ctx); err != nil {
		logging.Warn("Reference library unavailable", map[string]interface{}{"error": err.Error()})
	}
	return c, nil
}

// Close stops background work, waits for a running batch and closes the store.
func (c *Core) Close() error {
	c.StopBackgroundSync()
	c.scheduler.Wait()

	if err := c.store.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// =====================================================
// Sessions
// =====================================================

// NewTest starts a new session and makes it current.
func (c *Core) NewTest(ctx context.Context, in models.SessionInput) (*models.Session, error) {
	s, err := c.store.CreateSession(ctx, in)
	if err != nil {
		return nil, err
	}
	logging.Info("New test started", map[string]interface{}{"session_id": s.ID})
	return s, nil
}

// CurrentSession returns the current session, creating an empty one when
// there is none.
func (c *Core) CurrentSession(ctx context.Context) (*models.Session, error) {
	s, err := c.store.GetCurrentSession(ctx)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return c.store.CreateSession(ctx, models.SessionInput{})
	}
	return s, err
}

// GetSession returns a session by id.
func (c *Core) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return c.store.GetSession(ctx, id)
}

// UpdateSession patches the metadata of a session.
func (c *Core) UpdateSession(ctx context.Context, id string, u models.SessionUpdate) (*models.Session, error) {
	return c.store.UpdateSession(ctx, id, u)
}

// DeleteSession removes a session with its acquisitions, files and queue item.
func (c *Core) DeleteSession(ctx context.Context, id string) error {
	return c.store.DeleteSession(ctx, id)
}

// ListSessions returns every session, newest first.
func (c *Core) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return c.store.ListSessions(ctx)
}

// SetSubstancePhoto stores or replaces the substance photo of a session.
func (c *Core) SetSubstancePhoto(ctx context.Context, sessionID string, data []byte, mimeType string) (*models.File, error) {
	return c.store.SaveSessionPhoto(ctx, sessionID, data, mimeType)
}

// RemoveSubstancePhoto deletes the substance photo of a session.
func (c *Core) RemoveSubstancePhoto(ctx context.Context, sessionID string) error {
	return c.store.DeleteSessionPhoto(ctx, sessionID)
}

// =====================================================
// Acquisitions
// =====================================================

// AddAcquisition identifies a capture against the reference library and
// stores it under sessionID, or under the current session when sessionID is
// empty. A capture is stored unidentified when the library is not ready or
// the preprocessed spectrum does not fit it.
func (c *Core) AddAcquisition(ctx context.Context, sessionID string, capture CaptureResult) (*AcquisitionResult, error) {
	if strings.TrimSpace(capture.Timestamp) == "" {
		return nil, apperrors.Validation("capture has no timestamp")
	}
	files, err := capture.files()
	if err != nil {
		return nil, err
	}

	if sessionID == "" {
		current, err := c.CurrentSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = current.ID
	}

	var identification []models.Match
	result := &AcquisitionResult{}
	if matches := c.identify(capture); len(matches) > 0 {
		identification = analysis.ToRanking(matches)
		result.Confidence = analysis.ConfidenceLevel(matches[0].Score)
	}

	acq, err := c.store.AddAcquisition(ctx, sessionID, &models.Acquisition{
		Timestamp:       capture.Timestamp,
		Spectrum:        capture.Spectrum,
		Identification:  identification,
		LaserWavelength: capture.LaserWavelength,
		DetectionMode:   capture.DetectionMode,
		CSV:             capture.CSV,
	}, files)
	if err != nil {
		return nil, err
	}
	result.Acquisition = acq

	fields := map[string]interface{}{
		"session_id":     sessionID,
		"acquisition_id": acq.ID,
		"files":          len(acq.FileIDs),
	}
	if top, ok := acq.TopMatch(); ok {
		fields["top_match"] = top.Substance
		fields["score"] = top.Score
	}
	logging.Info("Acquisition stored", fields)
	return result, nil
}

func (c *Core) identify(capture CaptureResult) []analysis.Match {
	if len(capture.PreprocessedSpectrum) == 0 {
		logging.Warn("No preprocessed spectrum received", map[string]interface{}{"timestamp": capture.Timestamp})
		return nil
	}
	if !c.identifier.IsReady() {
		logging.Warn("Identification library not ready", nil)
		return nil
	}
	if err := c.identifier.ValidateQuery(capture.PreprocessedSpectrum); err != nil {
		logging.Warn("Spectrum cannot be identified", map[string]interface{}{"error": apperrors.Message(err)})
		return nil
	}
	return c.identifier.IdentifyWeighted(capture.PreprocessedSpectrum, c.cfg.Identify.TopK, c.cfg.Identify.CosineWeight)
}

// ListAcquisitions returns the acquisitions of a session in capture order.
func (c *Core) ListAcquisitions(ctx context.Context, sessionID string) ([]*models.Acquisition, error) {
	return c.store.ListAcquisitionsBySession(ctx, sessionID)
}

// DeleteAcquisition removes an acquisition and its files.
func (c *Core) DeleteAcquisition(ctx context.Context, id string) error {
	return c.store.DeleteAcquisition(ctx, id)
}

// GetFile returns a stored binary.
func (c *Core) GetFile(ctx context.Context, id string) (*models.File, error) {
	return c.store.GetFile(ctx, id)
}

// =====================================================
// Identification
// =====================================================

// Identify ranks query against the library. topK <= 0 uses the configured
// default. Without a ready library matching is disabled and the result is
// empty; a query of the wrong length is a VALIDATION_ERROR.
func (c *Core) Identify(query []float64, topK int) ([]analysis.Match, error) {
	if !c.identifier.IsReady() {
		return []analysis.Match{}, nil
	}
	if err := c.identifier.ValidateQuery(query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = c.cfg.Identify.TopK
	}
	return c.identifier.IdentifyWeighted(query, topK, c.cfg.Identify.CosineWeight), nil
}

// SyncLibrary loads the reference library, from cache when present.
func (c *Core) SyncLibrary(ctx context.Context) (analysis.SyncResult, error) {
	return c.identifier.Sync(ctx)
}

// ClearLibrary drops the cached and loaded library; the next SyncLibrary
// fetches it again.
func (c *Core) ClearLibrary(ctx context.Context) error {
	return c.identifier.ClearCache(ctx)
}

// LibraryInfo describes the loaded library.
func (c *Core) LibraryInfo() LibraryInfo {
	return LibraryInfo{
		Loaded:         c.identifier.IsLoaded(),
		Ready:          c.identifier.IsReady(),
		Version:        c.identifier.Version(),
		SubstanceCount: c.identifier.SubstanceCount(),
		AxisLength:     c.identifier.AxisLength(),
		Substances:     c.identifier.SubstanceNames(),
	}
}

// SchemaStatus reports the applied and latest schema versions.
func (c *Core) SchemaStatus() (SchemaStatus, error) {
	version, dirty, err := db.SchemaVersion(c.conn.DB)
	if err != nil {
		return SchemaStatus{}, err
	}
	latest, err := db.LatestVersion()
	if err != nil {
		return SchemaStatus{}, err
	}

	st := SchemaStatus{Path: c.conn.Path(), Version: version, Latest: latest, Dirty: dirty, UpToDate: true}
	if err := db.CheckMigrations(c.conn.DB); err != nil {
		st.UpToDate = false
		st.Problem = apperrors.Message(err)
	}
	return st, nil
}

// =====================================================
// Settings
// =====================================================

// Settings returns the stored settings merged over the defaults.
func (c *Core) Settings(ctx context.Context) (models.Settings, error) {
	return c.store.GetSettings(ctx)
}

// UpdateSettings applies a partial update.
func (c *Core) UpdateSettings(ctx context.Context, u models.SettingsUpdate) (models.Settings, error) {
	s, err := c.store.UpdateSettings(ctx, u)
	if err != nil {
		return models.Settings{}, err
	}
	logging.Info("Settings updated", map[string]interface{}{
		"sync_server_url": s.SyncServerURL,
		"sync_token":      s.MaskedToken(),
		"auto_sync":       s.AutoSync,
	})
	return s, nil
}

// =====================================================
// Replication
// =====================================================

// Enqueue queues a session for replication.
func (c *Core) Enqueue(ctx context.Context, sessionID string) (*models.SyncQueueItem, error) {
	return c.engine.Enqueue(ctx, sessionID)
}

// QueueCurrentSession queues the current session and optionally syncs now.
func (c *Core) QueueCurrentSession(ctx context.Context, syncNow bool) (*syncpkg.QueueResult, error) {
	return c.engine.QueueCurrentSession(ctx, syncNow)
}

// SyncNow runs one batch over the pending items.
func (c *Core) SyncNow(ctx context.Context) (*syncpkg.BatchResult, error) {
	return c.engine.SyncAll(ctx)
}

// ResetFailed moves failed items back to pending.
func (c *Core) ResetFailed(ctx context.Context) (int, error) {
	return c.engine.ResetFailed(ctx)
}

// TestConnection probes the configured remote collection.
func (c *Core) TestConnection(ctx context.Context) (*syncpkg.ConnectionResult, error) {
	return c.engine.TestConnection(ctx)
}

// SyncStatus reports replication state.
func (c *Core) SyncStatus(ctx context.Context) (*syncpkg.Status, error) {
	return c.engine.Status(ctx)
}

// SyncQueue lists every queued item.
func (c *Core) SyncQueue(ctx context.Context) ([]*models.SyncQueueItem, error) {
	return c.engine.Queue().List(ctx)
}

// =====================================================
// Background sync
// =====================================================

// StartBackgroundSync starts the scheduler and the connectivity probe.
func (c *Core) StartBackgroundSync(ctx context.Context) {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.bgCancel != nil {
		return
	}

	bgCtx, cancel := context.WithCancel(ctx)
	c.bgCancel = cancel
	c.scheduler.Start(bgCtx)

	probe := scheduler.NewConnectivityProbe(c.store, c.scheduler, c.cfg.Sync.ProbeInterval.Duration)
	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		probe.Run(bgCtx)
	}()
}

// StopBackgroundSync stops the scheduler and the probe. A running batch is
// left to finish.
func (c *Core) StopBackgroundSync() {
	c.bgMu.Lock()
	cancel := c.bgCancel
	c.bgCancel = nil
	c.bgMu.Unlock()
	if cancel == nil {
		return
	}

	c.scheduler.Stop()
	cancel()
	c.bgWG.Wait()
}

// NotifyForeground reports that the application became visible again.
func (c *Core) NotifyForeground() {
	c.scheduler.NotifyForeground()
}

// SetOnline reports network reachability from the host platform.
func (c *Core) SetOnline(online bool) {
	c.scheduler.SetOnlineStatus(online)
}

// SchedulerStatus returns a snapshot of the background scheduler.
func (c *Core) SchedulerStatus() scheduler.SchedulerStatus {
	return c.scheduler.GetStatus()
}

// =====================================================
// Export
// =====================================================

// ExportSession writes the archive of a session into dir, named by
// export.FileName.
func (c *Core) ExportSession(ctx context.Context, sessionID, dir string) (*export.ExportResult, error) {
	return c.exporter.Export(ctx, &export.ExportConfig{SessionID: sessionID, OutputDir: dir})
}

// ExportSessionTo writes the archive of a session to an explicit path.
func (c *Core) ExportSessionTo(ctx context.Context, sessionID, path string) (*export.ExportResult, error) {
	return c.exporter.Export(ctx, &export.ExportConfig{SessionID: sessionID, OutputPath: path})
}
