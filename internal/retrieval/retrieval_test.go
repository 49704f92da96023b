package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/store"
)

// panicEmbedder fails the test if the engine calls it.
type panicEmbedder struct{ t *testing.T }

func (p panicEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	p.t.Fatal("embedder must not be called")
	return nil, nil
}

func (panicEmbedder) Dimension() int { return 3 }

// failEmbedder returns a fixed error.
type failEmbedder struct{ err error }

func (f failEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}

func (failEmbedder) Dimension() int { return 3 }

func TestSearchTopKZeroShortCircuits(t *testing.T) {
	e := New(nil, panicEmbedder{t: t}, &config.Settings{})

	for _, topK := range []int{0, -5} {
		res, err := e.Search(context.Background(), "아무 질의", topK, Options{})
		require.NoError(t, err)
		assert.Empty(t, res.Results)
		assert.NotNil(t, res.Results, "results must serialize as [], not null")
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e := New(nil, panicEmbedder{t: t}, &config.Settings{})

	_, err := e.Search(context.Background(), "", 5, Options{})
	require.Error(t, err)
	assert.Equal(t, domain.KindInputInvalid, domain.KindOf(err))
}

// okEmbedder returns a fixed vector.
type okEmbedder struct{}

func (okEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (okEmbedder) Dimension() int { return 3 }

// recordingSearcher captures the filters the engine hands to the store.
type recordingSearcher struct {
	filters store.SearchFilters
}

func (r *recordingSearcher) SearchChunks(_ context.Context, _ []float32, f store.SearchFilters,
	_ int, _, _ float64) ([]store.SearchHit, error) {
	r.filters = f
	return nil, nil
}

func TestSearchUserLevelFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		level int
		want  int
	}{
		{"omitted level sees public only", 0, domain.AccessPublic},
		{"negative level sees public only", -1, domain.AccessPublic},
		{"level above public sees public only", 9, domain.AccessPublic},
		{"restricted caller keeps its floor", domain.AccessRestricted, domain.AccessRestricted},
		{"explicit mid level passes through", 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingSearcher{}
			e := New(rec, okEmbedder{}, &config.Settings{})

			_, err := e.Search(context.Background(), "질의", 5, Options{UserLevel: tt.level})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.filters.UserLevel)
		})
	}
}

func TestSearchWrapsEmbedderFailure(t *testing.T) {
	base := domain.Temporary(errors.New("embedding api down"))
	e := New(nil, failEmbedder{err: base}, &config.Settings{})

	_, err := e.Search(context.Background(), "질의", 5, Options{})
	require.Error(t, err)
	assert.Equal(t, domain.KindExternalTemporary, domain.KindOf(err))
}
