package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tangde15/easyrag/internal/chunker"
	"github.com/tangde15/easyrag/internal/domain"
	"github.com/tangde15/easyrag/internal/telemetry"
)

// BatchEmbedder embeds a batch of texts in one call, preserving order.
type BatchEmbedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// KnowledgeWriter persists and removes knowledge chunks.
type KnowledgeWriter interface {
	InsertBatch(ctx context.Context, chunks []domain.KnowledgeChunk) ([]string, error)
	DeleteBySource(ctx context.Context, source string) (int64, error)
}

// DocumentArchiver keeps a copy of the raw uploaded document.
type DocumentArchiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// IngestResult reports one ingestion attempt.
type IngestResult struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	IDs         []string `json:"ids,omitempty"`
	ChunksCount int      `json:"chunks_count"`
}

// IngestService turns raw documents into embedded knowledge chunks.
// Archiving to object storage is best effort and only attempted when an
// archiver is configured.
type IngestService struct {
	chunking  chunker.Config
	embedder  BatchEmbedder
	knowledge KnowledgeWriter
	archive   DocumentArchiver
}

func NewIngestService(chunking chunker.Config, embedder BatchEmbedder, knowledge KnowledgeWriter, archive DocumentArchiver) *IngestService {
	return &IngestService{
		chunking:  chunking,
		embedder:  embedder,
		knowledge: knowledge,
		archive:   archive,
	}
}

// Ingest splits, embeds and stores one document under the given source
// name. A document with no splittable content succeeds trivially with
// zero chunks and touches nothing.
func (s *IngestService) Ingest(ctx context.Context, content, source string) (*IngestResult, error) {
	if strings.TrimSpace(source) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "source name is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestService.Ingest", telemetry.SpanAttributes{
		Source:    source,
		Operation: "ingest",
	})
	defer span.End()

	chunks := chunker.Split(content, s.chunking)
	if len(chunks) == 0 {
		return &IngestResult{
			Success:     false,
			Message:     "document contains no indexable text",
			ChunksCount: 0,
		}, nil
	}

	embeddings, err := s.embedder.GenerateEmbeddings(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d embeddings for %d chunks", len(embeddings), len(chunks))
	}

	records := make([]domain.KnowledgeChunk, len(chunks))
	for i, c := range chunks {
		records[i] = domain.KnowledgeChunk{
			Content:   c,
			Source:    source,
			Embedding: embeddings[i],
		}
	}

	ids, err := s.knowledge.InsertBatch(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	s.archiveDocument(ctx, source, content)

	return &IngestResult{
		Success:     true,
		Message:     fmt.Sprintf("indexed %d chunks from %s", len(ids), source),
		IDs:         ids,
		ChunksCount: len(ids),
	}, nil
}

// DeleteSource removes every chunk ingested under a source name and
// returns how many were removed.
func (s *IngestService) DeleteSource(ctx context.Context, source string) (int64, error) {
	if strings.TrimSpace(source) == "" {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "source name is required")
	}
	return s.knowledge.DeleteBySource(ctx, source)
}

func (s *IngestService) archiveDocument(ctx context.Context, source, content string) {
	if s.archive == nil {
		return
	}
	key := fmt.Sprintf("documents/%s/%s", time.Now().UTC().Format("2006-01-02"), source)
	if err := s.archive.Put(ctx, key, []byte(content), "text/plain; charset=utf-8"); err != nil {
		// Archiving is best effort; the failure still gets reported.
		log.Printf("ingest: archiving %s failed: %v", source, err)
		telemetry.CaptureError(ctx, err)
	}
}
