package models

import "time"

// ReferenceSpectrum is one named substance of the reference library.
type ReferenceSpectrum struct {
	Name string    `json:"name"`
	Data []float64 `json:"data"`
}

// ReferenceLibrary is the singleton set of reference spectra used for matching.
type ReferenceLibrary struct {
	Version        string              `json:"version"`
	WavelengthAxis []float64           `json:"wavelengthAxis"`
	Substances     []ReferenceSpectrum `json:"substances"`
	SavedAt        time.Time           `json:"savedAt,omitempty"`
}

// SubstanceNames lists substance names in library order.
func (l *ReferenceLibrary) SubstanceNames() []string {
	names := make([]string, len(l.Substances))
	for i, s := range l.Substances {
		names[i] = s.Name
	}
	return names
}
