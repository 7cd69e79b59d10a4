package analysis

import (
	"math"

	"github.com/katlab/katcore/internal/models"
)

// Confidence buckets the top match score for display.
type Confidence string

const (
	ConfidenceHigh     Confidence = "high"
	ConfidenceModerate Confidence = "moderate"
	ConfidenceLow      Confidence = "low"
)

// ConfidenceLevel maps a combined score to high (>= 0.90), moderate (>= 0.70) or low.
func ConfidenceLevel(score float64) Confidence {
	switch {
	case score >= 0.90:
		return ConfidenceHigh
	case score >= 0.70:
		return ConfidenceModerate
	default:
		return ConfidenceLow
	}
}

// ToRanking converts matches to the persisted form, scores rounded to three decimals.
func ToRanking(matches []Match) []models.Match {
	ranking := make([]models.Match, len(matches))
	for i, m := range matches {
		ranking[i] = models.Match{
			Rank:      m.Rank,
			Substance: m.Substance,
			Score:     math.Round(m.Score*1000) / 1000,
		}
	}
	return ranking
}
