package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	wstore "kbingest/internal/adapter/weaviate"
	"kbingest/internal/config"
	"kbingest/internal/vector"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

type Dependencies struct {
	DB          *sql.DB
	Weaviate    *weaviate.Client
	VectorStore *wstore.Store
	NSQProducer *nsq.Producer
}

// Close releases the connections opened by Bootstrap.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// Bootstrap connects to Postgres, applies migrations, ensures the Weaviate
// schema and creates the NSQ producer.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := pingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := runMigrations(db, cfg.MigrationPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}

	if err := vector.EnsureSchemaWithRetry(ctx, vector.NewSchemaAdapter(wClient), cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("weaviate schema error: %w", err)
	}

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}

	createTopics(ctx, http.DefaultClient, cfg.NSQDHTTP, config.TopicIngestDocuments, config.TopicIngestCompleted)

	return &Dependencies{
		DB:          db,
		Weaviate:    wClient,
		VectorStore: wstore.NewStore(wClient),
		NSQProducer: producer,
	}, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "error", err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// createTopics pre-creates topics through the nsqd HTTP API so consumers
// can subscribe before the first publish. Failures are logged only.
func createTopics(ctx context.Context, client *http.Client, nsqdHTTP string, topics ...string) int {
	created := 0
	for _, topic := range topics {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			slog.Warn("failed to build NSQ topic request", "topic", topic, "error", err)
			continue
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			continue
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
		if resp.StatusCode != http.StatusOK {
			slog.Warn("unexpected NSQ topic creation status", "topic", topic, "status", resp.StatusCode)
			continue
		}
		created++
	}
	return created
}
