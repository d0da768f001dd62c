package models

import "math"

// CosineSimilarity computes the cosine similarity of two vectors in [-1, 1].
// ok is false when the lengths differ or either vector has zero magnitude;
// stores validate dimensions before storing, so that only happens on
// corrupted data.
func CosineSimilarity(a, b []float32) (similarity float64, ok bool) {
	if len(a) != len(b) || len(a) == 0 {
		return -1, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
