// Package analysis identifies captured spectra by correlating them against a
// cached reference library.
package analysis

import "math"

// CosineSimilarity returns (a·b) / (|a|·|b|), in [-1, 1].
// Empty or mismatched vectors and zero norms yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)
	if normA == 0 || normB == 0 {
		return 0
	}
	return finite(dot / (normA * normB))
}

// PearsonCorrelation returns cov(a,b) / (σa·σb) using population statistics,
// in [-1, 1]. Empty or mismatched vectors and zero variance yield 0.
func PearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		devA := a[i] - meanA
		devB := b[i] - meanB
		cov += devA * devB
		varA += devA * devA
		varB += devB * devB
	}

	stdA := math.Sqrt(varA / float64(n))
	stdB := math.Sqrt(varB / float64(n))
	if stdA == 0 || stdB == 0 {
		return 0
	}
	return finite(cov / (float64(n) * stdA * stdB))
}

// finite maps NaN and ±Inf (from non-finite input) to 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
