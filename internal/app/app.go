package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ingestfeature "kbingest/features/ingestion"
	"kbingest/features/job"
	"kbingest/features/source"
	"kbingest/features/stats"
	"kbingest/internal/adapter/gemini"
	"kbingest/internal/config"
	"kbingest/internal/database"
	"kbingest/internal/ingestion"
	"kbingest/internal/middleware"
	"kbingest/internal/settings"
	"kbingest/internal/worker"
)

// VectorStore is everything the app needs from the chunk store.
type VectorStore interface {
	worker.VectorStore
	source.ChunkStore
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler           http.Handler
	Pipeline          *ingestion.Pipeline
	Registry          *ingestion.Registry
	IngestionConsumer *worker.IngestionConsumer
	SourceService     *source.Service
	Settings          *settings.Service

	cfg     *config.Config
	clients *gemini.Clients
}

// Option overrides a component New would otherwise build from config.
type Option func(*options)

type options struct {
	embedder   worker.Embedder
	summarizer ingestion.Summarizer
}

func WithEmbedder(e worker.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

func WithSummarizer(s ingestion.Summarizer) Option {
	return func(o *options) { o.summarizer = s }
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	pub Publisher,
	logger *slog.Logger,
	opts ...Option,
) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	if cfg.GeminiAPIKey != "" {
		seeded, err := settingsRepo.SeedAPIKey(context.Background(), cfg.GeminiAPIKey)
		switch {
		case err != nil:
			logger.Warn("failed to seed gemini api key", "error", err)
		case seeded:
			logger.Info("seeded gemini api key from environment")
		}
	}

	// Adapters
	clients := gemini.NewClients(settingsService)
	embedder := o.embedder
	if embedder == nil {
		embedder = gemini.NewDynamicEmbedder(clients, cfg.EmbeddingModel)
	}
	summarizer := o.summarizer
	if summarizer == nil {
		summarizer = gemini.NewDynamicSummarizer(clients, cfg.SummaryModel)
	}

	// Feature: Source
	sourceRepo := source.NewRepo(database.NewPostgresClient(db))
	sourceService := source.NewService(sourceRepo, vecStore)

	// Core: Pipeline
	chunkWriter := worker.NewChunkWriter(embedder, vecStore, cfg.EmbedConcurrency)
	pipeline, err := ingestion.NewPipeline(sourceRepo, sourceRepo, chunkWriter, summarizer,
		ingestion.WithChunkSize(cfg.ChunkSize),
		ingestion.WithFlushChunkSize(cfg.FlushChunkSize),
		ingestion.WithFlushSizeSource(settingsService),
		ingestion.WithWriteBatchSize(cfg.EmbedBatchSize),
		ingestion.WithBatchLimits(cfg.MaxCharsPerBatch, cfg.PagesPerBatch),
		ingestion.WithOffload(cfg.OffloadThresholdBytes, cfg.ChunkPoolSize),
		ingestion.WithLogger(logger),
	)
	if err != nil {
		_ = clients.Close()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	registry := ingestion.NewRegistry()

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, pub, logger)

	// Worker
	consumer := worker.NewIngestionConsumer(pipeline, registry, jobRepo, pub)

	// Handlers
	sourceHandler := source.NewHandler(sourceService)
	settingsHandler := settings.NewHandler(settingsService)
	jobHandler := job.NewHandler(jobService)
	ingestHandler := ingestfeature.NewHandler(pub, registry, ingestfeature.WithMaxMessageBytes(cfg.NSQMaxMsgSize))
	statsHandler := stats.NewHandler(sourceRepo, jobRepo, registry)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(enableCORS(h)))
	}

	route("POST /ingestions", ingestHandler.Create)
	route("GET /ingestions", ingestHandler.List)
	route("DELETE /ingestions/{id}", ingestHandler.Cancel)

	route("GET /sources", sourceHandler.List)
	route("GET /sources/{id}", sourceHandler.Get)
	route("GET /sources/{id}/pages", sourceHandler.GetPages)
	route("GET /sources/{id}/chunks", sourceHandler.GetChunks)
	route("GET /sources/{id}/stats", sourceHandler.GetStats)
	route("DELETE /sources/{id}", sourceHandler.Delete)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)

	route("GET /jobs/failed", jobHandler.List)
	route("GET /jobs/{id}", jobHandler.Get)
	route("POST /jobs/{id}/retry", jobHandler.Retry)

	route("GET /stats", statsHandler.GetStats)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:           mux,
		Pipeline:          pipeline,
		Registry:          registry,
		IngestionConsumer: consumer,
		SourceService:     sourceService,
		Settings:          settingsService,
		cfg:               cfg,
		clients:           clients,
	}, nil
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// Run serves the HTTP API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	port := a.cfg.ServerPort
	if port == 0 {
		port = 8081
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the chunk pool and the genai client.
func (a *App) Close() {
	a.Pipeline.Release()
	if err := a.clients.Close(); err != nil {
		slog.Warn("failed to close genai client", "error", err)
	}
}
