package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/tangde15/easyrag/internal/api/handlers"
	"github.com/tangde15/easyrag/internal/chunker"
	"github.com/tangde15/easyrag/internal/config"
	"github.com/tangde15/easyrag/internal/database"
	"github.com/tangde15/easyrag/internal/openai"
	"github.com/tangde15/easyrag/internal/repository"
	"github.com/tangde15/easyrag/internal/rerank"
	"github.com/tangde15/easyrag/internal/server"
	"github.com/tangde15/easyrag/internal/service"
	"github.com/tangde15/easyrag/internal/storage"
	"github.com/tangde15/easyrag/internal/telemetry"
	"github.com/tangde15/easyrag/internal/websearch"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the easyrag API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("EASYRAG_OPENAI_API_KEY is required")
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	knowledgeRepo := repository.NewKnowledgeRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)

	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDims,
		ChatModel:           cfg.ChatModel,
	})

	// Without a rerank endpoint the escalation path degrades to web
	// fallback; the router handles that on its own.
	rerankClient := rerank.NewClient(rerank.Config{
		URL:    cfg.RerankURL,
		APIKey: cfg.RerankKey,
		Model:  cfg.RerankModel,
	})
	if !cfg.HasRerank() {
		log.Println("no rerank endpoint configured, deep retrieval will fall back to web search")
	}

	webAdapter := websearch.NewAdapter()

	routerSvc := service.NewRouterService(aiClient, knowledgeRepo, rerankClient, webAdapter, service.Thresholds{
		Low:  cfg.RouteLowThreshold,
		High: cfg.RouteHighThreshold,
		Deep: cfg.RouteDeepThreshold,
	})
	memorySvc := service.NewMemoryService(conversationRepo, aiClient)
	coordinator := service.NewStreamCoordinator(memorySvc)
	chatSvc := service.NewChatService(routerSvc, memorySvc, chatStreamAdapter{client: aiClient}, coordinator)

	var archive service.DocumentArchiver
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		archive = s3Client
	}

	ingestSvc := service.NewIngestService(chunker.DefaultConfig(), aiClient, knowledgeRepo, archive)

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:         handlers.NewChatHandler(chatSvc),
		ConversationHandler: handlers.NewConversationHandler(memorySvc),
		KnowledgeHandler:    handlers.NewKnowledgeHandler(ingestSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// chatStreamAdapter narrows the OpenAI client to the interface the chat
// service consumes.
type chatStreamAdapter struct {
	client *openai.Client
}

func (a chatStreamAdapter) StreamChat(ctx context.Context, messages []openai.Message) (service.TokenStream, error) {
	stream, err := a.client.StreamChat(ctx, messages)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
