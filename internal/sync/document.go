package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
)

// DocumentType tags every replicated document.
const DocumentType = "session"

// SubstancePhotoName is the attachment name of a session's substance photo.
const SubstancePhotoName = "substance_photo.jpg"

// Attachment is an inline binary of a replicated document.
type Attachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// AcquisitionDoc is the replicated form of an acquisition. Binaries travel as
// attachments, not here.
type AcquisitionDoc struct {
	Timestamp       string         `json:"timestamp"`
	Spectrum        []float64      `json:"spectrum"`
	Identification  []models.Match `json:"identification"`
	LaserWavelength *float64       `json:"laserWavelength"`
	DetectionMode   string         `json:"detectionMode"`
}

// Document is the whole session as sent to the remote store in one request.
type Document struct {
	Type                 string                `json:"type"`
	Event                string                `json:"event"`
	Substance            string                `json:"substance"`
	Appearance           string                `json:"appearance"`
	CustomAppearance     string                `json:"customAppearance"`
	SubstanceDescription string                `json:"substanceDescription"`
	Notes                string                `json:"notes"`
	CreatedAt            string                `json:"createdAt"`
	SyncedAt             string                `json:"syncedAt"`
	Acquisitions         []AcquisitionDoc      `json:"acquisitions"`
	Attachments          map[string]Attachment `json:"_attachments"`
}

// DocumentSource is the part of the store BuildDocument reads from.
type DocumentSource interface {
	ListAcquisitionsBySession(ctx context.Context, sessionID string) ([]*models.Acquisition, error)
	GetFile(ctx context.Context, id string) (*models.File, error)
}

// BuildDocument assembles the replication document of a session. Referenced
// files that no longer exist are left out.
func BuildDocument(ctx context.Context, src DocumentSource, s *models.Session, now time.Time) (*Document, error) {
	doc := &Document{
		Type:                 DocumentType,
		Event:                s.Event,
		Substance:            s.Substance,
		Appearance:           s.Appearance,
		CustomAppearance:     s.CustomAppearance,
		SubstanceDescription: s.SubstanceDescription,
		Notes:                s.Notes,
		CreatedAt:            isoTime(s.CreatedAt),
		SyncedAt:             isoTime(now),
		Acquisitions:         []AcquisitionDoc{},
		Attachments:          map[string]Attachment{},
	}

	if s.SubstancePhotoID != "" {
		f, err := lookupFile(ctx, src, s.SubstancePhotoID)
		if err != nil {
			return nil, err
		}
		if f != nil && len(f.Data) > 0 {
			doc.Attachments[SubstancePhotoName] = newAttachment(orDefault(f.MimeType, "image/jpeg"), f.Data)
		}
	}

	acqs, err := src.ListAcquisitionsBySession(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	for _, a := range acqs {
		ad := AcquisitionDoc{
			Timestamp:       a.Timestamp,
			Spectrum:        a.Spectrum,
			Identification:  a.Identification,
			LaserWavelength: a.LaserWavelength,
			DetectionMode:   a.DetectionMode,
		}
		if ad.Spectrum == nil {
			ad.Spectrum = []float64{}
		}
		if ad.Identification == nil {
			ad.Identification = []models.Match{}
		}
		doc.Acquisitions = append(doc.Acquisitions, ad)

		for _, role := range models.AcquisitionRoles {
			id, ok := a.FileIDs[role]
			if !ok || id == "" {
				continue
			}
			f, err := lookupFile(ctx, src, id)
			if err != nil {
				return nil, err
			}
			if f == nil || len(f.Data) == 0 {
				continue
			}
			name := fmt.Sprintf("%s_%s.%s", a.Timestamp, role, extensionFor(f.MimeType))
			doc.Attachments[name] = newAttachment(f.MimeType, f.Data)
		}

		if a.CSV != "" {
			doc.Attachments[a.Timestamp+"_spectrum.csv"] = newAttachment("text/csv", []byte(a.CSV))
		}
	}

	return doc, nil
}

func lookupFile(ctx context.Context, src DocumentSource, id string) (*models.File, error) {
	f, err := src.GetFile(ctx, id)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return f, err
}

func newAttachment(contentType string, data []byte) Attachment {
	return Attachment{
		ContentType: contentType,
		Data:        base64.StdEncoding.EncodeToString(data),
	}
}

var extensions = map[string]string{
	"image/jpeg":               "jpg",
	"image/png":                "png",
	"text/csv":                 "csv",
	"application/json":         "json",
	"application/octet-stream": "bin",
}

func extensionFor(mimeType string) string {
	if ext, ok := extensions[mimeType]; ok {
		return ext
	}
	return "bin"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// isoTime renders t in UTC with millisecond precision.
func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
