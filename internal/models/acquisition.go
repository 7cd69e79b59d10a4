package models

import "time"

// Match is one entry of a persisted identification ranking.
type Match struct {
	Rank      int     `json:"rank"`
	Substance string  `json:"substance"`
	Score     float64 `json:"score"`
}

// Acquisition is a single captured measurement. It is immutable once stored.
type Acquisition struct {
	ID              string              `db:"id" json:"id"`
	SessionID       string              `db:"session_id" json:"sessionId"`
	Timestamp       string              `db:"timestamp" json:"timestamp"`
	Spectrum        []float64           `db:"spectrum" json:"spectrum"`
	Identification  []Match             `db:"identification" json:"identification"`
	LaserWavelength *float64            `db:"laser_wavelength" json:"laserWavelength"`
	DetectionMode   string              `db:"detection_mode" json:"detectionMode"`
	CSV             string              `db:"csv" json:"csv,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"createdAt"`
	FileIDs         map[FileRole]string `db:"-" json:"fileIds,omitempty"`
}

// TopMatch returns the best-ranked match, if any.
func (a *Acquisition) TopMatch() (Match, bool) {
	if len(a.Identification) == 0 {
		return Match{}, false
	}
	return a.Identification[0], true
}
