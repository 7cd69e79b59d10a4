package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
	"github.com/katlab/katcore/internal/uuid"
)

// =====================================================
// Acquisition Operations
// =====================================================

const acquisitionColumns = `id, session_id, timestamp, spectrum, identification, laser_wavelength,
	detection_mode, csv, created_at`

func scanAcquisition(row rowScanner) (*models.Acquisition, error) {
	var (
		a                        models.Acquisition
		spectrum, identification string
		laser                    sql.NullFloat64
		createdAt                int64
	)
	if err := row.Scan(
		&a.ID, &a.SessionID, &a.Timestamp, &spectrum, &identification, &laser,
		&a.DetectionMode, &a.CSV, &createdAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(spectrum), &a.Spectrum); err != nil {
		return nil, fmt.Errorf("decode spectrum of acquisition %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(identification), &a.Identification); err != nil {
		return nil, fmt.Errorf("decode identification of acquisition %s: %w", a.ID, err)
	}
	if laser.Valid {
		v := laser.Float64
		a.LaserWavelength = &v
	}
	a.CreatedAt = fromMillis(createdAt)
	a.FileIDs = map[models.FileRole]string{}
	return &a, nil
}

// AddAcquisition stores acq under sessionID together with its binaries and
// appends its id to the session's list, all in one transaction. Files with an
// empty payload are skipped; each role may appear at most once. The stored
// acquisition is returned with ID, CreatedAt and FileIDs set.
func (r *Repository) AddAcquisition(ctx context.Context, sessionID string, acq *models.Acquisition, files []*models.File) (*models.Acquisition, error) {
	seen := map[models.FileRole]bool{}
	for _, f := range files {
		if f == nil || len(f.Data) == 0 {
			continue
		}
		if f.Role == models.RoleSubstancePhoto || !f.Role.Valid() {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "invalid acquisition file role %q", f.Role)
		}
		if seen[f.Role] {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "duplicate acquisition file role %q", f.Role)
		}
		seen[f.Role] = true
	}

	now := r.now().UTC()
	stored := *acq
	stored.ID = uuid.New()
	stored.SessionID = sessionID
	stored.CreatedAt = now
	stored.FileIDs = map[models.FileRole]string{}
	if stored.Spectrum == nil {
		stored.Spectrum = []float64{}
	}
	if stored.Identification == nil {
		stored.Identification = []models.Match{}
	}

	err := r.withTx(ctx, "add acquisition", func(tx *sql.Tx) error {
		session, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		spectrum, err := encodeJSON(stored.Spectrum)
		if err != nil {
			return err
		}
		identification, err := encodeJSON(stored.Identification)
		if err != nil {
			return err
		}
		var laser sql.NullFloat64
		if stored.LaserWavelength != nil {
			laser = sql.NullFloat64{Float64: *stored.LaserWavelength, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, `
		INSERT INTO acquisitions (`+acquisitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, stored.SessionID, stored.Timestamp, spectrum, identification, laser,
			stored.DetectionMode, stored.CSV, toMillis(now),
		); err != nil {
			return fmt.Errorf("insert acquisition: %w", err)
		}

		for _, f := range files {
			if f == nil || len(f.Data) == 0 {
				continue
			}
			file := &models.File{
				ID:            uuid.New(),
				AcquisitionID: stored.ID,
				Role:          f.Role,
				MimeType:      f.MimeType,
				Data:          f.Data,
				CreatedAt:     now,
			}
			if err := insertFile(ctx, tx, file); err != nil {
				return err
			}
			stored.FileIDs[f.Role] = file.ID
		}

		session.AcquisitionIDs = append(session.AcquisitionIDs, stored.ID)
		session.UpdatedAt = now
		return putSession(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetAcquisition retrieves an acquisition by ID, including its file ids.
func (r *Repository) GetAcquisition(ctx context.Context, id string) (*models.Acquisition, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+acquisitionColumns+` FROM acquisitions WHERE id = ?`)
	if err != nil {
		return nil, apperrors.Storage("get acquisition", err)
	}
	a, err := scanAcquisition(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("acquisition", id)
	}
	if err != nil {
		return nil, apperrors.Storage("get acquisition", err)
	}

	refs, err := r.fileRefs(ctx, `SELECT id, role, acquisition_id FROM files WHERE acquisition_id = ?`, id)
	if err != nil {
		return nil, apperrors.Storage("get acquisition", err)
	}
	for _, ref := range refs {
		a.FileIDs[ref.role] = ref.id
	}
	return a, nil
}

// ListAcquisitionsBySession returns a session's acquisitions ordered by
// capture timestamp.
func (r *Repository) ListAcquisitionsBySession(ctx context.Context, sessionID string) ([]*models.Acquisition, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+acquisitionColumns+` FROM acquisitions
	WHERE session_id = ? ORDER BY timestamp, created_at, id`, sessionID)
	if err != nil {
		return nil, apperrors.Storage("list acquisitions", err)
	}

	acquisitions := []*models.Acquisition{}
	byID := map[string]*models.Acquisition{}
	for rows.Next() {
		a, err := scanAcquisition(rows)
		if err != nil {
			rows.Close()
			return nil, apperrors.Storage("list acquisitions", err)
		}
		acquisitions = append(acquisitions, a)
		byID[a.ID] = a
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, apperrors.Storage("list acquisitions", err)
	}

	// rows must be closed first: the store has a single connection.
	refs, err := r.fileRefs(ctx, `
	SELECT f.id, f.role, f.acquisition_id FROM files f
	JOIN acquisitions a ON f.acquisition_id = a.id
	WHERE a.session_id = ?`, sessionID)
	if err != nil {
		return nil, apperrors.Storage("list acquisitions", err)
	}
	for _, ref := range refs {
		if a, ok := byID[ref.owner]; ok {
			a.FileIDs[ref.role] = ref.id
		}
	}
	return acquisitions, nil
}

// DeleteAcquisition removes an acquisition, its files and its entry in the
// owning session's list. Deleting a missing acquisition is a no-op.
func (r *Repository) DeleteAcquisition(ctx context.Context, id string) error {
	return r.withTx(ctx, "delete acquisition", func(tx *sql.Tx) error {
		var sessionID string
		err := tx.QueryRowContext(ctx, `SELECT session_id FROM acquisitions WHERE id = ?`, id).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE acquisition_id = ?`, id); err != nil {
			return fmt.Errorf("delete files: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM acquisitions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete acquisition: %w", err)
		}

		session, err := getSession(ctx, tx, sessionID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if session.RemoveAcquisition(id) {
			session.UpdatedAt = r.now().UTC()
			return putSession(ctx, tx, session)
		}
		return nil
	})
}

type fileRef struct {
	id    string
	role  models.FileRole
	owner string
}

func (r *Repository) fileRefs(ctx context.Context, query string, args ...interface{}) ([]fileRef, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []fileRef
	for rows.Next() {
		var ref fileRef
		if err := rows.Scan(&ref.id, &ref.role, &ref.owner); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
