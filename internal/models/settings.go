package models

import "strings"

// SettingsKey is the singleton key the settings record is stored under.
const SettingsKey = "app"

// CameraSettings holds acquisition defaults for the capture pipeline.
type CameraSettings struct {
	Shutter         float64 `json:"shutter"`
	Gain            float64 `json:"gain"`
	LaserAutoDetect bool    `json:"laserAutoDetect"`
	LaserWavelength float64 `json:"laserWavelength"`
}

// Settings is the singleton application configuration record.
type Settings struct {
	Theme         string         `json:"theme"`
	SyncServerURL string         `json:"syncServerUrl"`
	SyncToken     string         `json:"syncToken"`
	AutoSync      bool           `json:"autoSync"`
	Camera        CameraSettings `json:"camera"`
}

// DefaultSettings returns the values used for any key not stored yet.
func DefaultSettings() Settings {
	return Settings{
		Theme:         "dark",
		SyncServerURL: "",
		SyncToken:     "",
		AutoSync:      false,
		Camera: CameraSettings{
			Shutter:         5.0,
			Gain:            100,
			LaserAutoDetect: true,
			LaserWavelength: 785,
		},
	}
}

// SyncConfigured reports whether both server URL and token are set.
func (s Settings) SyncConfigured() bool {
	return strings.TrimSpace(s.SyncServerURL) != "" && s.SyncToken != ""
}

// MaskedToken returns a display-safe preview of the sync token.
func (s Settings) MaskedToken() string {
	if s.SyncToken == "" {
		return ""
	}
	r := []rune(s.SyncToken)
	if len(r) <= 8 {
		return string(r[:1]) + "..."
	}
	return string(r[:8]) + "..."
}

// Redacted returns a copy safe to log or print.
func (s Settings) Redacted() Settings {
	s.SyncToken = s.MaskedToken()
	return s
}

// SettingsUpdate is a partial patch; nil fields are left unchanged.
type SettingsUpdate struct {
	Theme         *string               `json:"theme,omitempty"`
	SyncServerURL *string               `json:"syncServerUrl,omitempty"`
	SyncToken     *string               `json:"syncToken,omitempty"`
	AutoSync      *bool                 `json:"autoSync,omitempty"`
	Camera        *CameraSettingsUpdate `json:"camera,omitempty"`
}

// CameraSettingsUpdate patches individual camera fields.
type CameraSettingsUpdate struct {
	Shutter         *float64 `json:"shutter,omitempty"`
	Gain            *float64 `json:"gain,omitempty"`
	LaserAutoDetect *bool    `json:"laserAutoDetect,omitempty"`
	LaserWavelength *float64 `json:"laserWavelength,omitempty"`
}

// Apply copies the set fields of u onto s.
func (u SettingsUpdate) Apply(s *Settings) {
	if u.Theme != nil {
		s.Theme = *u.Theme
	}
	if u.SyncServerURL != nil {
		s.SyncServerURL = strings.TrimRight(strings.TrimSpace(*u.SyncServerURL), "/")
	}
	if u.SyncToken != nil {
		s.SyncToken = strings.TrimSpace(*u.SyncToken)
	}
	if u.AutoSync != nil {
		s.AutoSync = *u.AutoSync
	}
	if c := u.Camera; c != nil {
		if c.Shutter != nil {
			s.Camera.Shutter = *c.Shutter
		}
		if c.Gain != nil {
			s.Camera.Gain = *c.Gain
		}
		if c.LaserAutoDetect != nil {
			s.Camera.LaserAutoDetect = *c.LaserAutoDetect
		}
		if c.LaserWavelength != nil {
			s.Camera.LaserWavelength = *c.LaserWavelength
		}
	}
}
