package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	ChatModel      string `envconfig:"CHAT_MODEL" default:"deepseek-chat"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"bge-m3"`
	EmbeddingDims  int    `envconfig:"EMBEDDING_DIMS" default:"1024"`

	RerankURL   string `envconfig:"RERANK_URL"`
	RerankKey   string `envconfig:"RERANK_API_KEY"`
	RerankModel string `envconfig:"RERANK_MODEL" default:"bge-reranker-v2-m3"`

	// Routing thresholds. Defaults match the tuned production values;
	// override only for experiments.
	RouteLowThreshold  float64 `envconfig:"ROUTE_LOW_THRESHOLD" default:"0.45"`
	RouteHighThreshold float64 `envconfig:"ROUTE_HIGH_THRESHOLD" default:"0.60"`
	RouteDeepThreshold float64 `envconfig:"ROUTE_DEEP_THRESHOLD" default:"0.55"`

	// Optional archive for raw uploaded documents.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"easyrag-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("EASYRAG", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasRerank() bool {
	return c.RerankURL != ""
}
