package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.0e-7, 42}
	buf := EncodeVector(vec)
	require.Len(t, buf, 16)

	got, err := DecodeVector(buf, len(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = DecodeVector(buf, 3)
	assert.Error(t, err)
	_, err = DecodeVector(buf, 0)
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestListOptionsNormalize(t *testing.T) {
	opts := ListOptions{}
	opts.Normalize()
	assert.Equal(t, 1, opts.Page)
	assert.Equal(t, 20, opts.Limit)
	assert.Equal(t, 0, opts.Offset())

	opts = ListOptions{Page: 3, Limit: 500}
	opts.Normalize()
	assert.Equal(t, 100, opts.Limit)
	assert.Equal(t, 200, opts.Offset())
}
