package models

import "time"

// FileRole names the purpose of a stored binary.
type FileRole string

const (
	RolePhoto              FileRole = "photo"
	RoleSummaryPlot        FileRole = "summaryPlot"
	RoleIdentificationPlot FileRole = "identificationPlot"
	RoleSubstancePhoto     FileRole = "substancePhoto"
)

// AcquisitionRoles lists the roles an acquisition may own, in attachment order.
var AcquisitionRoles = []FileRole{RolePhoto, RoleSummaryPlot, RoleIdentificationPlot}

// Valid reports whether r is a known role.
func (r FileRole) Valid() bool {
	switch r {
	case RolePhoto, RoleSummaryPlot, RoleIdentificationPlot, RoleSubstancePhoto:
		return true
	}
	return false
}

// File is a binary object owned by exactly one acquisition or one session.
type File struct {
	ID            string    `db:"id" json:"id"`
	AcquisitionID string    `db:"acquisition_id" json:"acquisitionId,omitempty"`
	SessionID     string    `db:"session_id" json:"sessionId,omitempty"`
	Role          FileRole  `db:"role" json:"role"`
	MimeType      string    `db:"mime_type" json:"mimeType"`
	Data          []byte    `db:"data" json:"-"`
	Size          int64     `db:"size" json:"size"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}
