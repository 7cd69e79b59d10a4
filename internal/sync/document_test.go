package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katlab/katcore/internal/models"
)

func TestBuildDocument(t *testing.T) {
	repo := setupStore(t)
	ctx := context.Background()

	s := newSessionWithAcquisition(t, repo, "festival", "20250601-101500")
	_, err := repo.SaveSessionPhoto(ctx, s.ID, jpegHeader, "image/jpeg")
	require.NoError(t, err)
	s, err = repo.GetSession(ctx, s.ID)
	require.NoError(t, err)

	doc, err := BuildDocument(ctx, repo, s, syncedAt)
	require.NoError(t, err)

	assert.Equal(t, "session", doc.Type)
	assert.Equal(t, "festival", doc.Event)
	assert.Equal(t, "unknown pill", doc.Substance)
	assert.Equal(t, "tablet", doc.Appearance)
	assert.Equal(t, "2025-06-01T10:30:00.000Z", doc.SyncedAt)

	require.Len(t, doc.Acquisitions, 1)
	acq := doc.Acquisitions[0]
	assert.Equal(t, "20250601-101500", acq.Timestamp)
	assert.Equal(t, []float64{0.1, 0.5, 0.9}, acq.Spectrum)
	assert.Equal(t, "MDMA", acq.Identification[0].Substance)
	require.NotNil(t, acq.LaserWavelength)
	assert.Equal(t, 785.0, *acq.LaserWavelength)

	names := make([]string, 0, len(doc.Attachments))
	for name := range doc.Attachments {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{
		"substance_photo.jpg",
		"20250601-101500_photo.jpg",
		"20250601-101500_summaryPlot.png",
		"20250601-101500_spectrum.csv",
	}, names)

	photo := doc.Attachments["20250601-101500_photo.jpg"]
	assert.Equal(t, "image/jpeg", photo.ContentType)
	raw, err := base64.StdEncoding.DecodeString(photo.Data)
	require.NoError(t, err)
	assert.Equal(t, jpegHeader, raw)

	assert.Equal(t, "image/png", doc.Attachments["20250601-101500_summaryPlot.png"].ContentType)

	csv := doc.Attachments["20250601-101500_spectrum.csv"]
	assert.Equal(t, "text/csv", csv.ContentType)
	raw, err = base64.StdEncoding.DecodeString(csv.Data)
	require.NoError(t, err)
	assert.Equal(t, "wavelength,intensity\n500,0.1\n", string(raw))
}

// TestBuildDocument_wireShape verifies the JSON keys the remote store expects.
func TestBuildDocument_wireShape(t *testing.T) {
	repo := setupStore(t)
	ctx := context.Background()
	s, err := repo.CreateSession(ctx, models.SessionInput{Event: "empty"})
	require.NoError(t, err)

	doc, err := BuildDocument(ctx, repo, s, time.Unix(0, 0))
	require.NoError(t, err)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))

	for _, key := range []string{"type", "event", "substance", "appearance", "customAppearance",
		"substanceDescription", "notes", "createdAt", "syncedAt", "acquisitions", "_attachments"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, []interface{}{}, m["acquisitions"])
	assert.Equal(t, map[string]interface{}{}, m["_attachments"])
	assert.Equal(t, "1970-01-01T00:00:00.000Z", m["syncedAt"])
}

// TestBuildDocument_skipsMissingFiles verifies a dangling file reference is
// left out rather than failing the build.
func TestBuildDocument_skipsMissingFiles(t *testing.T) {
	repo := setupStore(t)
	ctx := context.Background()
	s := newSessionWithAcquisition(t, repo, "festival", "t1")

	acqs, err := repo.ListAcquisitionsBySession(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteFile(ctx, acqs[0].FileIDs[models.RolePhoto]))

	doc, err := BuildDocument(ctx, repo, s, syncedAt)
	require.NoError(t, err)
	assert.NotContains(t, doc.Attachments, "t1_photo.jpg")
	assert.Contains(t, doc.Attachments, "t1_summaryPlot.png")
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "jpg", extensionFor("image/jpeg"))
	assert.Equal(t, "png", extensionFor("image/png"))
	assert.Equal(t, "csv", extensionFor("text/csv"))
	assert.Equal(t, "json", extensionFor("application/json"))
	assert.Equal(t, "bin", extensionFor("application/octet-stream"))
	assert.Equal(t, "bin", extensionFor("image/webp"))
}
