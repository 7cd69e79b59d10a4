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
// Settings Operations
// =====================================================

// GetSettings returns the stored settings merged over the defaults. An empty
// store yields models.DefaultSettings().
func (r *Repository) GetSettings(ctx context.Context) (models.Settings, error) {
	settings := models.DefaultSettings()

	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, models.SettingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return settings, apperrors.Storage("get settings", err)
	}

	// decoding over the defaults keeps any key the stored record lacks
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return models.DefaultSettings(), apperrors.Storage("decode settings", err)
	}
	return settings, nil
}

// SaveSettings replaces the stored settings record.
func (r *Repository) SaveSettings(ctx context.Context, s models.Settings) error {
	raw, err := encodeJSON(s)
	if err != nil {
		return apperrors.Storage("encode settings", err)
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		models.SettingsKey, raw, toMillis(r.now()))
	if err != nil {
		return apperrors.Storage("save settings", err)
	}
	return nil
}

// UpdateSettings applies a partial update and returns the merged result.
//
// Like UpdateSession this is a read followed by a write, not isolated against
// a concurrent update.
func (r *Repository) UpdateSettings(ctx context.Context, u models.SettingsUpdate) (models.Settings, error) {
	s, err := r.GetSettings(ctx)
	if err != nil {
		return s, err
	}
	u.Apply(&s)
	if err := r.SaveSettings(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}
