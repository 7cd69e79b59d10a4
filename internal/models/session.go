// Package models provides data model definitions for katcore.
package models

import (
	"strings"
	"time"
)

// Session is one test event: metadata about the substance under test plus the
// ordered acquisitions captured for it.
type Session struct {
	ID                   string     `db:"id" json:"id"`
	Event                string     `db:"event" json:"event"`
	Substance            string     `db:"substance" json:"substance"`
	Appearance           string     `db:"appearance" json:"appearance"`
	CustomAppearance     string     `db:"custom_appearance" json:"customAppearance,omitempty"`
	SubstanceDescription string     `db:"substance_description" json:"substanceDescription,omitempty"`
	Notes                string     `db:"notes" json:"notes"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updatedAt"`
	SyncedAt             *time.Time `db:"synced_at" json:"syncedAt,omitempty"`
	IsCurrent            bool       `db:"is_current" json:"isCurrent"`
	AcquisitionIDs       []string   `db:"acquisition_ids" json:"acquisitionIds"`
	SubstancePhotoID     string     `db:"substance_photo_id" json:"substancePhotoId,omitempty"`
}

// IsSynced reports whether the session has been replicated at least once.
func (s *Session) IsSynced() bool {
	return s.SyncedAt != nil
}

// RemoveAcquisition drops id from the ordered list, if present.
func (s *Session) RemoveAcquisition(id string) bool {
	for i, a := range s.AcquisitionIDs {
		if a == id {
			s.AcquisitionIDs = append(s.AcquisitionIDs[:i:i], s.AcquisitionIDs[i+1:]...)
			return true
		}
	}
	return false
}

// DisplayAppearance returns CustomAppearance when Appearance is "other".
func (s *Session) DisplayAppearance() string {
	if strings.EqualFold(s.Appearance, "other") && s.CustomAppearance != "" {
		return s.CustomAppearance
	}
	return s.Appearance
}

// SessionInput carries the user-entered fields for a new session.
type SessionInput struct {
	Event                string `json:"event"`
	Substance            string `json:"substance"`
	Appearance           string `json:"appearance"`
	CustomAppearance     string `json:"customAppearance,omitempty"`
	SubstanceDescription string `json:"substanceDescription,omitempty"`
	Notes                string `json:"notes"`
}

// SessionUpdate is a partial patch; nil fields are left unchanged.
type SessionUpdate struct {
	Event                *string `json:"event,omitempty"`
	Substance            *string `json:"substance,omitempty"`
	Appearance           *string `json:"appearance,omitempty"`
	CustomAppearance     *string `json:"customAppearance,omitempty"`
	SubstanceDescription *string `json:"substanceDescription,omitempty"`
	Notes                *string `json:"notes,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (u SessionUpdate) IsEmpty() bool {
	return u.Event == nil && u.Substance == nil && u.Appearance == nil &&
		u.CustomAppearance == nil && u.SubstanceDescription == nil && u.Notes == nil
}

// Apply copies the set fields of u onto s.
func (u SessionUpdate) Apply(s *Session) {
	if u.Event != nil {
		s.Event = *u.Event
	}
	if u.Substance != nil {
		s.Substance = *u.Substance
	}
	if u.Appearance != nil {
		s.Appearance = *u.Appearance
	}
	if u.CustomAppearance != nil {
		s.CustomAppearance = *u.CustomAppearance
	}
	if u.SubstanceDescription != nil {
		s.SubstanceDescription = *u.SubstanceDescription
	}
	if u.Notes != nil {
		s.Notes = *u.Notes
	}
}
