// Package export writes a session to a portable zip archive.
//
// The archive holds metadata.json, the substance photo, and for every
// acquisition (numbered from 001 in capture order) its photo, spectrum JSON,
// CSV and plots. Missing parts are left out.
package export

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/logging"
	"github.com/katlab/katcore/internal/models"
)

// Source is the part of the store an export reads from.
type Source interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListAcquisitionsBySession(ctx context.Context, sessionID string) ([]*models.Acquisition, error)
	GetFile(ctx context.Context, id string) (*models.File, error)
}

// ExportService provides session export.
type ExportService struct {
	source Source
	now    func() time.Time
}

// NewExportService creates a new ExportService.
func NewExportService(source Source) *ExportService {
	return &ExportService{source: source, now: time.Now}
}

// ExportConfig holds export configuration.
type ExportConfig struct {
	SessionID  string
	OutputPath string // full path; when empty the archive goes to OutputDir/FileName
	OutputDir  string
}

// Metadata is written as metadata.json at the archive root.
type Metadata struct {
	Event                string `json:"event"`
	Substance            string `json:"substance"`
	Appearance           string `json:"appearance"`
	SubstanceDescription string `json:"substanceDescription"`
	Notes                string `json:"notes"`
	ExportedAt           string `json:"exportedAt"`
	AcquisitionCount     int    `json:"acquisitionCount"`
	HasSubstancePhoto    bool   `json:"hasSubstancePhoto"`
}

// ExportResult represents the result of an export operation.
type ExportResult struct {
	FilePath         string        `json:"filePath,omitempty"`
	SizeBytes        int64         `json:"sizeBytes"`
	AcquisitionCount int           `json:"acquisitionCount"`
	Entries          []string      `json:"entries"`
	Checksum         string        `json:"checksum"`
	Duration         time.Duration `json:"duration"`
}

// FileName suggests an archive name: <event or "test">_<YYYY-MM-DD>.zip.
func FileName(s *models.Session, at time.Time) string {
	event := strings.TrimSpace(s.Event)
	if event == "" {
		event = "test"
	}
	event = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, event)
	return fmt.Sprintf("%s_%s.zip", event, at.UTC().Format("2006-01-02"))
}

// Export writes the session archive to disk. The file is written under a
// temporary name and renamed into place once complete.
func (s *ExportService) Export(ctx context.Context, config *ExportConfig) (*ExportResult, error) {
	session, err := s.source.GetSession(ctx, config.SessionID)
	if err != nil {
		return nil, err
	}

	archivePath := config.OutputPath
	if archivePath == "" {
		archivePath = filepath.Join(config.OutputDir, FileName(session, s.now()))
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "create export directory", err)
	}

	tempPath := archivePath + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "create archive", err)
	}
	defer os.Remove(tempPath)

	result, err := s.write(ctx, f, session)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = apperrors.Wrap(apperrors.ErrExportFailed, "close archive", cerr)
	}
	if err != nil {
		return nil, err
	}

	if err := os.Rename(tempPath, archivePath); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "finalize archive", err)
	}
	result.FilePath = archivePath

	logging.Info("Session exported", map[string]interface{}{
		"session_id":   session.ID,
		"path":         archivePath,
		"size_bytes":   result.SizeBytes,
		"acquisitions": result.AcquisitionCount,
	})
	return result, nil
}

// WriteTo writes the archive of a session to w.
func (s *ExportService) WriteTo(ctx context.Context, w io.Writer, sessionID string) (*ExportResult, error) {
	session, err := s.source.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, w, session)
}

// countingWriter counts and hashes everything written through it.
type countingWriter struct {
	w    io.Writer
	n    int64
	hash io.Writer
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.hash.Write(p[:n])
	return n, err
}

func (s *ExportService) write(ctx context.Context, w io.Writer, session *models.Session) (*ExportResult, error) {
	startTime := time.Now()

	acqs, err := s.source.ListAcquisitionsBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(acqs) == 0 {
		return nil, apperrors.Validation("no acquisitions to export")
	}

	h := sha256.New()
	cw := &countingWriter{w: w, hash: h}
	zw := zip.NewWriter(cw)
	result := &ExportResult{AcquisitionCount: len(acqs), Entries: []string{}}

	add := func(name string, data []byte) error {
		fw, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(data); err != nil {
			return err
		}
		result.Entries = append(result.Entries, name)
		return nil
	}

	meta := Metadata{
		Event:                session.Event,
		Substance:            session.Substance,
		Appearance:           session.DisplayAppearance(),
		SubstanceDescription: session.SubstanceDescription,
		Notes:                session.Notes,
		ExportedAt:           s.now().UTC().Format(time.RFC3339),
		AcquisitionCount:     len(acqs),
		HasSubstancePhoto:    session.SubstancePhotoID != "",
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "encode metadata", err)
	}
	if err := add("metadata.json", metaJSON); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "write metadata", err)
	}

	if session.SubstancePhotoID != "" {
		if err := s.addFile(ctx, add, session.SubstancePhotoID, "substance_photo.jpg"); err != nil {
			return nil, err
		}
	}

	for i, acq := range acqs {
		prefix := fmt.Sprintf("acquisition_%03d", i+1)

		if err := s.addFile(ctx, add, acq.FileIDs[models.RolePhoto], prefix+".jpg"); err != nil {
			return nil, err
		}
		if len(acq.Spectrum) > 0 {
			spectrum, err := json.MarshalIndent(acq.Spectrum, "", "  ")
			if err != nil {
				return nil, apperrors.Wrap(apperrors.ErrExportFailed, "encode spectrum", err)
			}
			if err := add(prefix+"_spectrum.json", spectrum); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrExportFailed, "write spectrum", err)
			}
		}
		if acq.CSV != "" {
			if err := add(prefix+".csv", []byte(acq.CSV)); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrExportFailed, "write csv", err)
			}
		}
		if err := s.addFile(ctx, add, acq.FileIDs[models.RoleSummaryPlot], prefix+"_summary.png"); err != nil {
			return nil, err
		}
		if err := s.addFile(ctx, add, acq.FileIDs[models.RoleIdentificationPlot], prefix+"_identification.png"); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "finish archive", err)
	}

	result.SizeBytes = cw.n
	result.Checksum = hex.EncodeToString(h.Sum(nil))
	result.Duration = time.Since(startTime)
	return result, nil
}

// addFile copies a stored binary into the archive. An empty id or a file that
// no longer exists is skipped.
func (s *ExportService) addFile(ctx context.Context, add func(string, []byte) error, id, name string) error {
	if id == "" {
		return nil
	}
	f, err := s.source.GetFile(ctx, id)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(f.Data) == 0 {
		return nil
	}
	if err := add(name, f.Data); err != nil {
		return apperrors.Wrap(apperrors.ErrExportFailed, "write "+name, err)
	}
	return nil
}
