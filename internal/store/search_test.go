package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchChunksRejectsWrongDimension(t *testing.T) {
	s := &Store{opts: Options{EmbeddingDim: 3}}

	_, err := s.SearchChunks(context.Background(), []float32{1, 2}, SearchFilters{UserLevel: 4}, 5, 0.7, 0.001)
	assert.ErrorContains(t, err, "dimension")
}

func TestSearchChunksShortCircuitsNonPositiveK(t *testing.T) {
	s := &Store{opts: Options{EmbeddingDim: 3}}

	for _, k := range []int{0, -1} {
		hits, err := s.SearchChunks(context.Background(), []float32{1, 2, 3}, SearchFilters{UserLevel: 4}, k, 0.7, 0.001)
		require.NoError(t, err)
		assert.Nil(t, hits)
	}
}
