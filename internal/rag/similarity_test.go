// internal/rag/similarity_test.go

package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 5}), 1e-9)
}

func TestCosineDegenerateInputs(t *testing.T) {
	assert.Zero(t, cosine(nil, nil))
	assert.Zero(t, cosine([]float32{1, 2}, []float32{1, 2, 3}), "mismatched lengths score zero")
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 2}), "zero vector scores zero")
}

func TestNormalizeMapsOntoUnitInterval(t *testing.T) {
	assert.InDelta(t, 1.0, normalize(1), 1e-9)
	assert.InDelta(t, 0.5, normalize(0), 1e-9)
	assert.InDelta(t, 0.0, normalize(-1), 1e-9)
}
