package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
)

// =====================================================
// Reference Library Operations
// =====================================================

// SaveLibrary replaces the cached reference library and stamps SavedAt.
func (r *Repository) SaveLibrary(ctx context.Context, lib *models.ReferenceLibrary) error {
	axis, err := encodeJSON(nonNilFloats(lib.WavelengthAxis))
	if err != nil {
		return apperrors.Storage("encode library", err)
	}
	substances := lib.Substances
	if substances == nil {
		substances = []models.ReferenceSpectrum{}
	}
	subs, err := encodeJSON(substances)
	if err != nil {
		return apperrors.Storage("encode library", err)
	}

	lib.SavedAt = r.now().UTC()
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO reference_library (id, version, wavelength_axis, substances, saved_at)
	VALUES (1, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET version = excluded.version, wavelength_axis = excluded.wavelength_axis,
		substances = excluded.substances, saved_at = excluded.saved_at`,
		lib.Version, axis, subs, toMillis(lib.SavedAt))
	if err != nil {
		return apperrors.Storage("save library", err)
	}
	return nil
}

// GetLibrary returns the cached library, or NOT_FOUND when nothing is cached.
// An empty cached library is returned as-is.
func (r *Repository) GetLibrary(ctx context.Context) (*models.ReferenceLibrary, error) {
	var (
		lib              models.ReferenceLibrary
		axis, substances string
		savedAt          int64
	)
	err := r.db.QueryRowContext(ctx, `
	SELECT version, wavelength_axis, substances, saved_at FROM reference_library WHERE id = 1`,
	).Scan(&lib.Version, &axis, &substances, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrNotFound, "reference library not cached")
	}
	if err != nil {
		return nil, apperrors.Storage("get library", err)
	}

	if err := json.Unmarshal([]byte(axis), &lib.WavelengthAxis); err != nil {
		return nil, apperrors.Storage("decode library axis", err)
	}
	if err := json.Unmarshal([]byte(substances), &lib.Substances); err != nil {
		return nil, apperrors.Storage("decode library substances", err)
	}
	lib.SavedAt = fromMillis(savedAt)
	return &lib, nil
}

// ClearLibrary drops the cached library.
func (r *Repository) ClearLibrary(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reference_library`); err != nil {
		return apperrors.Storage("clear library", err)
	}
	return nil
}

func nonNilFloats(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
