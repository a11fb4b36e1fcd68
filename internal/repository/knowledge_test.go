//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangde15/easyrag/internal/domain"
	"github.com/tangde15/easyrag/internal/testutil"
)

// unitVec builds a 1024-dim one-hot vector so cosine ordering in tests
// is exact.
func unitVec(hot int) []float32 {
	v := make([]float32, 1024)
	v[hot] = 1
	return v
}

func TestKnowledgeRepository_InsertBatchAndSearch(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeRepository(pool)

	ids, err := repo.InsertBatch(ctx, []domain.KnowledgeChunk{
		{Content: "Go channels block until both sides are ready.", Source: "go-notes.md", Embedding: unitVec(0)},
		{Content: "Goroutines are multiplexed onto OS threads.", Source: "go-notes.md", Embedding: unitVec(1)},
		{Content: "Postgres uses MVCC for concurrency.", Source: "pg-notes.md", Embedding: unitVec(2)},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	results, err := repo.SearchTopK(ctx, unitVec(1), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Goroutines are multiplexed onto OS threads.", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestKnowledgeRepository_GetByIDs(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeRepository(pool)

	ids, err := repo.InsertBatch(ctx, []domain.KnowledgeChunk{
		{Content: "chunk one", Source: "doc.txt", Embedding: unitVec(0)},
		{Content: "chunk two", Source: "doc.txt", Embedding: unitVec(1)},
	})
	require.NoError(t, err)

	chunks, err := repo.GetByIDs(ctx, []string{ids[0], uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "chunk one", chunks[0].Content)

	empty, err := repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestKnowledgeRepository_DeleteBySource(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeRepository(pool)

	_, err := repo.InsertBatch(ctx, []domain.KnowledgeChunk{
		{Content: "a", Source: "delete-me.md", Embedding: unitVec(0)},
		{Content: "b", Source: "delete-me.md", Embedding: unitVec(1)},
		{Content: "c", Source: "keep-me.md", Embedding: unitVec(2)},
	})
	require.NoError(t, err)

	deleted, err := repo.DeleteBySource(ctx, "delete-me.md")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = repo.DeleteBySource(ctx, "delete-me.md")
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	remaining, err := repo.CountBySource(ctx, "keep-me.md")
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}
