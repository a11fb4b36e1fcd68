package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tangde15/easyrag/internal/domain"
)

// KnowledgeRepository handles persistence of chunked knowledge embeddings.
type KnowledgeRepository struct {
	db dbtx
}

func NewKnowledgeRepository(pool *pgxpool.Pool) *KnowledgeRepository {
	return &KnowledgeRepository{db: pool}
}

func NewKnowledgeRepositoryWithTx(tx pgx.Tx) *KnowledgeRepository {
	return &KnowledgeRepository{db: tx}
}

// InsertBatch stores a batch of chunks. IDs and timestamps are filled
// in when missing.
func (r *KnowledgeRepository) InsertBatch(ctx context.Context, chunks []domain.KnowledgeChunk) ([]string, error) {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO knowledge_chunks (id, content, source, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.ID,
			c.Content,
			c.Source,
			pgvector.NewVector(c.Embedding),
			createdAt,
		)
		if err != nil {
			return nil, err
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// SearchTopK returns the top-k chunks by cosine similarity to the
// query embedding, best first. Score is 1 - cosine distance.
func (r *KnowledgeRepository) SearchTopK(ctx context.Context, embedding []float32, topK int) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		topK = 3
	}

	vec := pgvector.NewVector(embedding)
	rows, err := r.db.Query(ctx,
		`SELECT id, content, source, 1 - (embedding <=> $1) AS score
		 FROM knowledge_chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.RetrievalResult, 0, topK)
	for rows.Next() {
		var res domain.RetrievalResult
		if err := rows.Scan(&res.ID, &res.Content, &res.Source, &res.Score); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// GetByIDs fetches chunks by ID. Missing IDs are silently skipped.
func (r *KnowledgeRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.KnowledgeChunk, error) {
	if len(ids) == 0 {
		return []domain.KnowledgeChunk{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, content, source, created_at
		 FROM knowledge_chunks WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make([]domain.KnowledgeChunk, 0, len(ids))
	for rows.Next() {
		var c domain.KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.Content, &c.Source, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteBySource removes every chunk ingested from the named source and
// reports how many were deleted.
func (r *KnowledgeRepository) DeleteBySource(ctx context.Context, source string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM knowledge_chunks WHERE source = $1`, source)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountBySource returns the number of stored chunks for a source.
func (r *KnowledgeRepository) CountBySource(ctx context.Context, source string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_chunks WHERE source = $1`, source).Scan(&n)
	return n, err
}
