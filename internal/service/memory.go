package service

import (
	"context"
	"log"
	"sync"

	"github.com/tangde15/easyrag/internal/domain"
	"github.com/tangde15/easyrag/internal/telemetry"
)

// ConversationStore is the persistent backing store for session turns.
type ConversationStore interface {
	Insert(ctx context.Context, turn *domain.ConversationTurn) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error)
	SearchBySession(ctx context.Context, embedding []float32, sessionID string, k int) ([]domain.ConversationTurn, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
	ListAll(ctx context.Context) ([]domain.ConversationTurn, error)
}

// MemoryService is session-scoped conversational history: recency
// reads, similarity reads, and write-through persistence. The
// per-session cache is an acceleration only; reads that matter re-read
// the backing store, and writes to the same session are serialized.
type MemoryService struct {
	store    ConversationStore
	embedder EmbeddingClient

	mu       sync.RWMutex
	cache    map[string][]domain.ConversationTurn
	loaded   bool
	sessions map[string]*sync.Mutex
}

func NewMemoryService(store ConversationStore, embedder EmbeddingClient) *MemoryService {
	return &MemoryService{
		store:    store,
		embedder: embedder,
		cache:    make(map[string][]domain.ConversationTurn),
		sessions: make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the write mutex for one session, creating it on
// first use.
func (s *MemoryService) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.sessions[sessionID] = l
	}
	return l
}

// Add embeds and persists a completed turn, then re-reads the session
// from the backing store and replaces the cache entry. The cache is
// never trusted without that re-read. A failed embedding does not lose
// the turn; it is stored without one and skipped by similarity search.
func (s *MemoryService) Add(ctx context.Context, turn *domain.ConversationTurn) error {
	ctx, span := telemetry.StartSpan(ctx, "MemoryService.Add", telemetry.SpanAttributes{
		SessionID: turn.SessionID,
		Operation: "add",
	})
	defer span.End()

	lock := s.sessionLock(turn.SessionID)
	lock.Lock()
	defer lock.Unlock()

	embedding, err := s.embedder.GenerateEmbedding(ctx, turn.EmbeddingText())
	if err != nil {
		log.Printf("memory: embedding failed for session %s, storing turn without one: %v", turn.SessionID, err)
		telemetry.CaptureError(ctx, err)
	} else {
		turn.Embedding = embedding
	}

	if err := s.store.Insert(ctx, turn); err != nil {
		return err
	}

	turns, err := s.store.ListBySession(ctx, turn.SessionID, 0)
	if err != nil {
		// The write landed; just drop the stale cache entry.
		s.evict(turn.SessionID)
		return nil
	}
	s.replace(turn.SessionID, turns)
	return nil
}

// Recent returns the last k turns of a session, oldest first. It
// always re-reads the backing store and refreshes the cache.
func (s *MemoryService) Recent(ctx context.Context, sessionID string, k int) ([]domain.ConversationTurn, error) {
	turns, err := s.store.ListBySession(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	s.replace(sessionID, turns)

	if k > 0 && len(turns) > k {
		turns = turns[len(turns)-k:]
	}
	return turns, nil
}

// Related returns up to k turns of the session ranked by similarity to
// the query. It does not touch the cache.
func (s *MemoryService) Related(ctx context.Context, query, sessionID string, k int) ([]domain.ConversationTurn, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.store.SearchBySession(ctx, embedding, sessionID, k)
}

// Delete removes all turns of a session and evicts its cache entry.
// Deleting a session that does not exist returns 0, not an error.
func (s *MemoryService) Delete(ctx context.Context, sessionID string) (int64, error) {
	count, err := s.store.DeleteBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	s.evict(sessionID)
	return count, nil
}

// All returns every session's turns. The full store is loaded lazily
// on first call; a failed load leaves the service unloaded so a later
// call retries instead of failing forever.
func (s *MemoryService) All(ctx context.Context) (map[string][]domain.ConversationTurn, error) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return copyCache(s.cache), nil
	}
	s.mu.RUnlock()

	turns, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]domain.ConversationTurn)
	for _, t := range turns {
		grouped[t.SessionID] = append(grouped[t.SessionID], t)
	}

	s.mu.Lock()
	s.cache = grouped
	s.loaded = true
	result := copyCache(s.cache)
	s.mu.Unlock()
	return result, nil
}

func (s *MemoryService) replace(sessionID string, turns []domain.ConversationTurn) {
	s.mu.Lock()
	s.cache[sessionID] = turns
	s.mu.Unlock()
}

func (s *MemoryService) evict(sessionID string) {
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()
}

func copyCache(cache map[string][]domain.ConversationTurn) map[string][]domain.ConversationTurn {
	out := make(map[string][]domain.ConversationTurn, len(cache))
	for k, v := range cache {
		out[k] = v
	}
	return out
}
