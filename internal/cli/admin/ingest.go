package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/tangde15/easyrag/internal/chunker"
	"github.com/tangde15/easyrag/internal/config"
	"github.com/tangde15/easyrag/internal/database"
	"github.com/tangde15/easyrag/internal/openai"
	"github.com/tangde15/easyrag/internal/repository"
	"github.com/tangde15/easyrag/internal/service"
)

func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a document into the knowledge base",
		Long:  "Chunk, embed and index a local .txt or .md file without going through the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}

	cmd.Flags().StringP("source", "s", "", "Source name to store chunks under (defaults to the file name)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := args[0]
	source, _ := cmd.Flags().GetString("source")
	outputFormat, _ := cmd.Flags().GetString("output")

	if source == "" {
		source = filepath.Base(path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasOpenAI() {
		return fmt.Errorf("EASYRAG_OPENAI_API_KEY is required")
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDims,
		ChatModel:           cfg.ChatModel,
	})

	knowledgeRepo := repository.NewKnowledgeRepository(pool)
	ingestSvc := service.NewIngestService(chunker.DefaultConfig(), aiClient, knowledgeRepo, nil)

	result, err := ingestSvc.Ingest(ctx, string(content), source)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if outputFormat == "json" {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if !result.Success {
		fmt.Printf("nothing indexed: %s\n", result.Message)
		return nil
	}
	fmt.Printf("indexed %d chunks from %s\n", result.ChunksCount, source)
	return nil
}
