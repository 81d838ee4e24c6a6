package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0.25, -1.5, 0, 3.14159, 1e-7}
	decoded, err := decodeVector(encodeVector(original))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	decoded, err = decodeVector(encodeVector(nil))
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeVectorMalformed(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed embedding blob")
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scale invariant", []float32{2, 0}, []float32{5, 0}, 1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
