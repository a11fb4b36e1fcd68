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

// ConversationRepository persists completed conversation turns.
type ConversationRepository struct {
	db dbtx
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: pool}
}

func NewConversationRepositoryWithTx(tx pgx.Tx) *ConversationRepository {
	return &ConversationRepository{db: tx}
}

// Insert stores a turn. ID and CreatedAt are filled in when missing; a
// nil embedding is stored as NULL and the turn is excluded from
// similarity search.
func (r *ConversationRepository) Insert(ctx context.Context, t *domain.ConversationTurn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var embedding any
	if len(t.Embedding) > 0 {
		embedding = pgvector.NewVector(t.Embedding)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO conversations (id, session_id, user_message, ai_message, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.SessionID, t.UserMessage, t.AIMessage, embedding, t.CreatedAt,
	)
	return err
}

// ListBySession returns the most recent limit turns of a session in
// chronological order, oldest first. Ties on created_at fall back to
// insertion order. limit <= 0 means no limit.
func (r *ConversationRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	var rows pgx.Rows
	var err error
	if limit <= 0 {
		rows, err = r.db.Query(ctx,
			`SELECT id, session_id, user_message, ai_message, created_at
			 FROM conversations
			 WHERE session_id = $1
			 ORDER BY created_at ASC, seq ASC`,
			sessionID,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, session_id, user_message, ai_message, created_at
			 FROM (
				SELECT id, session_id, user_message, ai_message, created_at, seq
				FROM conversations
				WHERE session_id = $1
				ORDER BY created_at DESC, seq DESC
				LIMIT $2
			 ) recent
			 ORDER BY created_at ASC, seq ASC`,
			sessionID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTurns(rows)
}

// SearchBySession returns up to k turns of one session ranked by
// cosine similarity to the query embedding, best first. Turns without
// an embedding never match.
func (r *ConversationRepository) SearchBySession(ctx context.Context, embedding []float32, sessionID string, k int) ([]domain.ConversationTurn, error) {
	if k <= 0 {
		k = 10
	}

	vec := pgvector.NewVector(embedding)
	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, user_message, ai_message, created_at
		 FROM conversations
		 WHERE session_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		sessionID, vec, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTurns(rows)
}

// DeleteBySession removes all turns of a session and reports how many
// were deleted.
func (r *ConversationRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListAll returns every stored turn grouped by session, each session's
// turns oldest first.
func (r *ConversationRepository) ListAll(ctx context.Context) ([]domain.ConversationTurn, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, user_message, ai_message, created_at
		 FROM conversations
		 ORDER BY session_id, created_at ASC, seq ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTurns(rows)
}

func scanTurns(rows pgx.Rows) ([]domain.ConversationTurn, error) {
	turns := make([]domain.ConversationTurn, 0)
	for rows.Next() {
		var t domain.ConversationTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserMessage, &t.AIMessage, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
