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
// Session Operations
// =====================================================

const sessionColumns = `id, event, substance, appearance, custom_appearance, substance_description,
	notes, created_at, updated_at, synced_at, is_current, acquisition_ids, substance_photo_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s                    models.Session
		createdAt, updatedAt int64
		syncedAt, isCurrent  sql.NullInt64
		acquisitionIDs       string
		photoID              sql.NullString
	)
	if err := row.Scan(
		&s.ID, &s.Event, &s.Substance, &s.Appearance, &s.CustomAppearance, &s.SubstanceDescription,
		&s.Notes, &createdAt, &updatedAt, &syncedAt, &isCurrent, &acquisitionIDs, &photoID,
	); err != nil {
		return nil, err
	}

	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	s.SyncedAt = fromNullMillis(syncedAt)
	s.IsCurrent = isCurrent.Valid && isCurrent.Int64 == 1
	s.SubstancePhotoID = photoID.String
	if err := json.Unmarshal([]byte(acquisitionIDs), &s.AcquisitionIDs); err != nil {
		return nil, fmt.Errorf("decode acquisition ids of session %s: %w", s.ID, err)
	}
	if s.AcquisitionIDs == nil {
		s.AcquisitionIDs = []string{}
	}
	return &s, nil
}

// currentMarker maps the boolean contract onto the stored 1/NULL sentinel.
func currentMarker(isCurrent bool) sql.NullInt64 {
	if isCurrent {
		return sql.NullInt64{Int64: 1, Valid: true}
	}
	return sql.NullInt64{}
}

// CreateSession stores a new session and makes it the current one. The
// previous current session loses the marker in the same transaction.
func (r *Repository) CreateSession(ctx context.Context, in models.SessionInput) (*models.Session, error) {
	now := r.now().UTC()
	s := &models.Session{
		ID:                   uuid.NewOrdered(),
		Event:                in.Event,
		Substance:            in.Substance,
		Appearance:           in.Appearance,
		CustomAppearance:     in.CustomAppearance,
		SubstanceDescription: in.SubstanceDescription,
		Notes:                in.Notes,
		CreatedAt:            now,
		UpdatedAt:            now,
		IsCurrent:            true,
		AcquisitionIDs:       []string{},
	}

	err := r.withTx(ctx, "create session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_current = NULL WHERE is_current = 1`); err != nil {
			return fmt.Errorf("clear current marker: %w", err)
		}
		return insertSession(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func insertSession(ctx context.Context, q querier, s *models.Session) error {
	ids, err := encodeJSON(s.AcquisitionIDs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
	INSERT INTO sessions (`+sessionColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Event, s.Substance, s.Appearance, s.CustomAppearance, s.SubstanceDescription,
		s.Notes, toMillis(s.CreatedAt), toMillis(s.UpdatedAt), nullMillis(s.SyncedAt),
		currentMarker(s.IsCurrent), ids, nullString(s.SubstancePhotoID),
	)
	return err
}

// putSession overwrites every mutable column of an existing session.
func putSession(ctx context.Context, q querier, s *models.Session) error {
	ids, err := encodeJSON(s.AcquisitionIDs)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
	UPDATE sessions SET event = ?, substance = ?, appearance = ?, custom_appearance = ?,
		substance_description = ?, notes = ?, updated_at = ?, synced_at = ?, is_current = ?,
		acquisition_ids = ?, substance_photo_id = ?
	WHERE id = ?`,
		s.Event, s.Substance, s.Appearance, s.CustomAppearance,
		s.SubstanceDescription, s.Notes, toMillis(s.UpdatedAt), nullMillis(s.SyncedAt), currentMarker(s.IsCurrent),
		ids, nullString(s.SubstancePhotoID), s.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("session", s.ID)
	}
	return nil
}

func getSession(ctx context.Context, q querier, id string) (*models.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", id)
	}
	return s, err
}

// GetSession retrieves a session by ID.
func (r *Repository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`)
	if err != nil {
		return nil, apperrors.Storage("get session", err)
	}
	s, err := scanSession(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", id)
	}
	if err != nil {
		return nil, apperrors.Storage("get session", err)
	}
	return s, nil
}

// GetCurrentSession returns the session holding the current marker, or a
// NOT_FOUND error when there is none.
func (r *Repository) GetCurrentSession(ctx context.Context) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_current = 1`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrNotFound, "no current session")
	}
	if err != nil {
		return nil, apperrors.Storage("get current session", err)
	}
	return s, nil
}

// UpdateSession applies a partial update to a session.
//
// The read and the write are separate statements, so a concurrent mutator of
// the same session between them can lose its change.
func (r *Repository) UpdateSession(ctx context.Context, id string, u models.SessionUpdate) (*models.Session, error) {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(s)
	s.UpdatedAt = r.now().UTC()

	if err := putSession(ctx, r.db, s); err != nil {
		return nil, storageErr("update session", err)
	}
	return s, nil
}

// ListSessions returns all sessions, newest first.
func (r *Repository) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, apperrors.Storage("list sessions", err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperrors.Storage("list sessions", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("list sessions", err)
	}
	return sessions, nil
}

// DeleteSession removes a session together with its acquisitions, every file
// they own, the session's own files and its sync queue entry, in one
// transaction. Deleting a missing session is a no-op.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	return r.withTx(ctx, "delete session", func(tx *sql.Tx) error {
		steps := []struct {
			name  string
			query string
		}{
			{"acquisition files", `DELETE FROM files WHERE acquisition_id IN (SELECT id FROM acquisitions WHERE session_id = ?)`},
			{"acquisitions", `DELETE FROM acquisitions WHERE session_id = ?`},
			{"session files", `DELETE FROM files WHERE session_id = ?`},
			{"sync queue entry", `DELETE FROM sync_queue WHERE session_id = ?`},
			{"session", `DELETE FROM sessions WHERE id = ?`},
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step.query, id); err != nil {
				return fmt.Errorf("delete %s: %w", step.name, err)
			}
		}
		return nil
	})
}
