package db

import (
	"context"
	"time"

	"github.com/katlab/katcore/internal/models"
)

// SessionRepository defines operations for session persistence.
type SessionRepository interface {
	CreateSession(ctx context.Context, in models.SessionInput) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetCurrentSession(ctx context.Context) (*models.Session, error)
	UpdateSession(ctx context.Context, id string, u models.SessionUpdate) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// AcquisitionRepository defines operations for acquisition persistence.
type AcquisitionRepository interface {
	AddAcquisition(ctx context.Context, sessionID string, acq *models.Acquisition, files []*models.File) (*models.Acquisition, error)
	GetAcquisition(ctx context.Context, id string) (*models.Acquisition, error)
	ListAcquisitionsBySession(ctx context.Context, sessionID string) ([]*models.Acquisition, error)
	DeleteAcquisition(ctx context.Context, id string) error
}

// FileRepository defines operations for binary persistence.
type FileRepository interface {
	SaveFile(ctx context.Context, f *models.File) (*models.File, error)
	GetFile(ctx context.Context, id string) (*models.File, error)
	DeleteFile(ctx context.Context, id string) error
	ListFilesByAcquisition(ctx context.Context, acquisitionID string) ([]*models.File, error)
	SaveSessionPhoto(ctx context.Context, sessionID string, data []byte, mimeType string) (*models.File, error)
	GetSessionPhoto(ctx context.Context, sessionID string) (*models.File, error)
	DeleteSessionPhoto(ctx context.Context, sessionID string) error
}

// SettingsRepository defines operations on the settings singleton.
type SettingsRepository interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error
	UpdateSettings(ctx context.Context, u models.SettingsUpdate) (models.Settings, error)
}

// SyncQueueRepository defines operations on the sync queue.
type SyncQueueRepository interface {
	EnqueueSync(ctx context.Context, sessionID string) (*models.SyncQueueItem, bool, error)
	GetSyncQueueItem(ctx context.Context, sessionID string) (*models.SyncQueueItem, error)
	ListSyncQueue(ctx context.Context, status models.SyncStatus) ([]*models.SyncQueueItem, error)
	CountSyncQueue(ctx context.Context, status models.SyncStatus) (int, error)
	MarkSynced(ctx context.Context, sessionID string, at time.Time) error
	MarkSyncFailed(ctx context.Context, sessionID, lastError string) error
	ResetFailedSync(ctx context.Context) (int, error)
}

// LibraryRepository defines operations on the cached reference library.
type LibraryRepository interface {
	SaveLibrary(ctx context.Context, lib *models.ReferenceLibrary) error
	GetLibrary(ctx context.Context) (*models.ReferenceLibrary, error)
	ClearLibrary(ctx context.Context) error
}

// Store groups every collection of the local store.
type Store interface {
	SessionRepository
	AcquisitionRepository
	FileRepository
	SettingsRepository
	SyncQueueRepository
	LibraryRepository
	ClearAllData(ctx context.Context) error
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ SessionRepository     = (*Repository)(nil)
	_ AcquisitionRepository = (*Repository)(nil)
	_ FileRepository        = (*Repository)(nil)
	_ SettingsRepository    = (*Repository)(nil)
	_ SyncQueueRepository   = (*Repository)(nil)
	_ LibraryRepository     = (*Repository)(nil)
	_ Store                 = (*Repository)(nil)
)
