package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/domain"
)

// fakeQuerier records executed statements without a database.
type fakeQuerier struct {
	execs []string
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func parentChunk() *domain.Chunk {
	return &domain.Chunk{
		IsParent:      true,
		Content:       "## 논의안건 1. 축제 예산\n본문",
		SectionHeader: "## 논의안건 1. 축제 예산",
		AccessLevel:   domain.AccessMembers,
	}
}

func childChunk() *domain.Chunk {
	return &domain.Chunk{
		IsParent:    false,
		Content:     "본문",
		AccessLevel: domain.AccessMembers,
	}
}

func TestInsertChunkGroupEnforcesShape(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	t.Run("parent with parent id rejected", func(t *testing.T) {
		p := parentChunk()
		bad := uuid.New()
		p.ParentChunkID = &bad

		err := s.InsertChunkGroup(ctx, &fakeQuerier{}, p, nil)
		assert.ErrorIs(t, err, ErrInvariant)
	})

	t.Run("child flagged as parent rejected", func(t *testing.T) {
		c := childChunk()
		c.IsParent = true

		err := s.InsertChunkGroup(ctx, &fakeQuerier{}, parentChunk(), []*domain.Chunk{c})
		assert.ErrorIs(t, err, ErrInvariant)
	})

	t.Run("child access level mismatch rejected", func(t *testing.T) {
		c := childChunk()
		c.AccessLevel = domain.AccessPublic

		err := s.InsertChunkGroup(ctx, &fakeQuerier{}, parentChunk(), []*domain.Chunk{c})
		assert.ErrorIs(t, err, ErrInvariant)
	})

	t.Run("valid group links children to the parent", func(t *testing.T) {
		q := &fakeQuerier{}
		p := parentChunk()
		c1, c2 := childChunk(), childChunk()

		require.NoError(t, s.InsertChunkGroup(ctx, q, p, []*domain.Chunk{c1, c2}))
		assert.Len(t, q.execs, 3)

		assert.True(t, p.IsParent)
		assert.Nil(t, p.ParentChunkID)
		for _, c := range []*domain.Chunk{c1, c2} {
			require.NotNil(t, c.ParentChunkID)
			assert.Equal(t, p.ID, *c.ParentChunkID)
			assert.Equal(t, p.Content, c.ParentContent)
			assert.Equal(t, p.SectionHeader, c.SectionHeader)
		}
	})
}

func TestUpdateChunkEmbeddingsValidates(t *testing.T) {
	s := &Store{opts: Options{EmbeddingDim: 3}}
	ctx := context.Background()

	t.Run("length mismatch rejected", func(t *testing.T) {
		err := s.UpdateChunkEmbeddings(ctx, &fakeQuerier{},
			[]uuid.UUID{uuid.New(), uuid.New()}, [][]float32{{1, 2, 3}})
		assert.ErrorIs(t, err, ErrInvariant)
	})

	t.Run("wrong dimension rejected", func(t *testing.T) {
		err := s.UpdateChunkEmbeddings(ctx, &fakeQuerier{},
			[]uuid.UUID{uuid.New()}, [][]float32{{1, 2}})
		assert.ErrorIs(t, err, ErrInvariant)
	})

	t.Run("matching batch writes one update per chunk", func(t *testing.T) {
		q := &fakeQuerier{}
		err := s.UpdateChunkEmbeddings(ctx, q,
			[]uuid.UUID{uuid.New(), uuid.New()}, [][]float32{{1, 2, 3}, {4, 5, 6}})
		require.NoError(t, err)
		assert.Len(t, q.execs, 2)
	})
}
