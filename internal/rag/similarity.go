// internal/rag/similarity.go

package rag

import "math"

// cosine computes cosine similarity between two vectors in [-1,1]. Mismatched
// lengths and zero vectors score 0.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalize maps a cosine similarity from [-1,1] onto [0,1], the same scale
// the native vector index reports.
func normalize(cos float64) float64 {
	return (cos + 1) / 2
}
