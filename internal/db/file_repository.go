package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
	"github.com/katlab/katcore/internal/uuid"
)

// =====================================================
// File Operations
// =====================================================

const (
	defaultMimeType      = "application/octet-stream"
	defaultPhotoMimeType = "image/jpeg"
)

const fileColumns = `id, acquisition_id, session_id, role, mime_type, data, size, created_at`

func scanFile(row rowScanner) (*models.File, error) {
	var (
		f                        models.File
		acquisitionID, sessionID sql.NullString
		createdAt                int64
	)
	if err := row.Scan(&f.ID, &acquisitionID, &sessionID, &f.Role, &f.MimeType, &f.Data, &f.Size, &createdAt); err != nil {
		return nil, err
	}
	f.AcquisitionID = acquisitionID.String
	f.SessionID = sessionID.String
	f.CreatedAt = fromMillis(createdAt)
	return &f, nil
}

// DetectMimeType returns declared when set; otherwise it sniffs data and falls
// back to fallback when the content is not recognised.
func DetectMimeType(declared string, data []byte, fallback string) string {
	if declared != "" {
		return declared
	}
	if len(data) > 0 {
		if mt := mimetype.Detect(data); mt != nil && !mt.Is(defaultMimeType) {
			return mt.String()
		}
	}
	return fallback
}

func insertFile(ctx context.Context, q querier, f *models.File) error {
	if (f.AcquisitionID == "") == (f.SessionID == "") {
		return apperrors.New(apperrors.ErrInvalid, "file must be owned by exactly one acquisition or session")
	}
	if !f.Role.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid file role %q", f.Role)
	}
	if (f.Role == models.RoleSubstancePhoto) != (f.SessionID != "") {
		return apperrors.Newf(apperrors.ErrInvalid, "file role %q does not fit its owner", f.Role)
	}

	fallback := defaultMimeType
	if f.Role == models.RoleSubstancePhoto {
		fallback = defaultPhotoMimeType
	}
	f.MimeType = DetectMimeType(f.MimeType, f.Data, fallback)
	f.Size = int64(len(f.Data))
	if f.Data == nil {
		f.Data = []byte{}
	}

	_, err := q.ExecContext(ctx, `
	INSERT INTO files (`+fileColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, nullString(f.AcquisitionID), nullString(f.SessionID), f.Role, f.MimeType,
		f.Data, f.Size, toMillis(f.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// SaveFile stores a binary owned by a session and returns it with ID, Size,
// CreatedAt and MimeType filled in. Sessions own only their substance photo,
// which replaces any previous one. Acquisition binaries are written once by
// AddAcquisition and are rejected here.
func (r *Repository) SaveFile(ctx context.Context, f *models.File) (*models.File, error) {
	if (f.AcquisitionID == "") == (f.SessionID == "") {
		return nil, apperrors.New(apperrors.ErrInvalid, "file must be owned by exactly one acquisition or session")
	}
	if f.AcquisitionID != "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "acquisition files are fixed when the acquisition is added")
	}
	if f.Role != models.RoleSubstancePhoto {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "file role %q does not fit its owner", f.Role)
	}
	return r.SaveSessionPhoto(ctx, f.SessionID, f.Data, f.MimeType)
}

// GetFile retrieves a binary by ID. The returned Data is owned by the caller.
func (r *Repository) GetFile(ctx context.Context, id string) (*models.File, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`)
	if err != nil {
		return nil, apperrors.Storage("get file", err)
	}
	f, err := scanFile(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("file", id)
	}
	if err != nil {
		return nil, apperrors.Storage("get file", err)
	}
	return f, nil
}

// DeleteFile removes a binary. Deleting a missing file is a no-op. Removing a
// substance photo also clears the owning session's reference to it.
func (r *Repository) DeleteFile(ctx context.Context, id string) error {
	return r.withTx(ctx, "delete file", func(tx *sql.Tx) error {
		var sessionID sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT session_id FROM files WHERE id = ?`, id).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
			return err
		}
		if !sessionID.Valid {
			return nil
		}

		session, err := getSession(ctx, tx, sessionID.String)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if session.SubstancePhotoID != id {
			return nil
		}
		session.SubstancePhotoID = ""
		session.UpdatedAt = r.now().UTC()
		return putSession(ctx, tx, session)
	})
}

// ListFilesByAcquisition returns every binary owned by an acquisition.
func (r *Repository) ListFilesByAcquisition(ctx context.Context, acquisitionID string) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE acquisition_id = ? ORDER BY created_at, role`, acquisitionID)
	if err != nil {
		return nil, apperrors.Storage("list files", err)
	}
	defer rows.Close()

	files := []*models.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, apperrors.Storage("list files", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("list files", err)
	}
	return files, nil
}

// =====================================================
// Session Photo Operations
// =====================================================

// SaveSessionPhoto stores the substance photo of a session, replacing any
// previous one.
func (r *Repository) SaveSessionPhoto(ctx context.Context, sessionID string, data []byte, mimeType string) (*models.File, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "substance photo is empty")
	}

	now := r.now().UTC()
	f := &models.File{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      models.RoleSubstancePhoto,
		MimeType:  mimeType,
		Data:      data,
		CreatedAt: now,
	}

	err := r.withTx(ctx, "save session photo", func(tx *sql.Tx) error {
		session, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE session_id = ? AND role = ?`, sessionID, models.RoleSubstancePhoto); err != nil {
			return fmt.Errorf("delete previous photo: %w", err)
		}
		if err := insertFile(ctx, tx, f); err != nil {
			return err
		}
		session.SubstancePhotoID = f.ID
		session.UpdatedAt = now
		return putSession(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// GetSessionPhoto returns the session's substance photo, or NOT_FOUND.
func (r *Repository) GetSessionPhoto(ctx context.Context, sessionID string) (*models.File, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+fileColumns+` FROM files
	WHERE session_id = ? AND role = ? ORDER BY created_at DESC LIMIT 1`, sessionID, models.RoleSubstancePhoto)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("substance photo", sessionID)
	}
	if err != nil {
		return nil, apperrors.Storage("get session photo", err)
	}
	return f, nil
}

// DeleteSessionPhoto removes the session's substance photo, if any.
func (r *Repository) DeleteSessionPhoto(ctx context.Context, sessionID string) error {
	return r.withTx(ctx, "delete session photo", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE session_id = ? AND role = ?`, sessionID, models.RoleSubstancePhoto); err != nil {
			return err
		}
		session, err := getSession(ctx, tx, sessionID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if session.SubstancePhotoID == "" {
			return nil
		}
		session.SubstancePhotoID = ""
		session.UpdatedAt = r.now().UTC()
		return putSession(ctx, tx, session)
	})
}
