package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"kbingest"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"kbingest"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	// Must match nsqd --max-msg-size; ingestion requests are capped at it.
	NSQMaxMsgSize int64 `envconfig:"NSQ_MAX_MSG_SIZE" default:"10485760"` // 10MB

	EnableAPI            bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker   bool   `envconfig:"ENABLE_INGEST_WORKER" default:"true"`
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"4"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY"`
	SummaryModel         string `envconfig:"SUMMARY_MODEL" default:"gemini-2.0-flash"`
	EmbeddingModel       string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`

	// Chunking and storage
	ChunkSize             int `envconfig:"CHUNK_SIZE" default:"5000"`
	FlushChunkSize        int `envconfig:"FLUSH_CHUNK_SIZE" default:"250"`
	MaxCharsPerBatch      int `envconfig:"MAX_CHARS_PER_BATCH" default:"200000"`
	PagesPerBatch         int `envconfig:"PDF_PAGES_PER_BATCH" default:"75"`
	OffloadThresholdBytes int `envconfig:"OFFLOAD_THRESHOLD_BYTES" default:"50000"`
	ChunkPoolSize         int `envconfig:"CHUNK_POOL_SIZE" default:"4"`
	EmbedBatchSize        int `envconfig:"EMBED_BATCH_SIZE" default:"25"`
	EmbedConcurrency      int `envconfig:"EMBED_CONCURRENCY" default:"4"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	if !c.EnableAPI && !c.EnableIngestWorker {
		return fmt.Errorf("%w: one of ENABLE_API or ENABLE_INGEST_WORKER must be set", ErrInvalidValue)
	}

	if c.NSQMaxMsgSize < 0 {
		return fmt.Errorf("%w: NSQ_MAX_MSG_SIZE=%d", ErrInvalidValue, c.NSQMaxMsgSize)
	}

	// Zero means "use the built-in default"; negative values are mistakes.
	sizes := map[string]int{
		"INGESTION_CONCURRENCY":   c.IngestionConcurrency,
		"CHUNK_SIZE":              c.ChunkSize,
		"FLUSH_CHUNK_SIZE":        c.FlushChunkSize,
		"MAX_CHARS_PER_BATCH":     c.MaxCharsPerBatch,
		"PDF_PAGES_PER_BATCH":     c.PagesPerBatch,
		"OFFLOAD_THRESHOLD_BYTES": c.OffloadThresholdBytes,
		"CHUNK_POOL_SIZE":         c.ChunkPoolSize,
		"EMBED_BATCH_SIZE":        c.EmbedBatchSize,
		"EMBED_CONCURRENCY":       c.EmbedConcurrency,
	}
	for key, v := range sizes {
		if v < 0 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidValue, key, v)
		}
	}
	return nil
}
