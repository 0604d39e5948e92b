package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kbingest/internal/app"
	"kbingest/internal/config"
	"kbingest/internal/logger"

	"github.com/nsqio/go-nsq"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, log)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	defer application.Close()

	if cfg.EnableIngestWorker {
		consumer, err := startIngestWorker(cfg, application)
		if err != nil {
			return err
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
		}()
	}

	if !cfg.EnableAPI {
		slog.Info("api disabled, running worker only")
		<-ctx.Done()
		return nil
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func startIngestWorker(cfg *config.Config, application *app.App) (*nsq.Consumer, error) {
	concurrency := cfg.IngestionConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = concurrency
	// Runs touch their message on progress; this bounds a silent stall.
	nsqCfg.MsgTimeout = 10 * time.Minute

	consumer, err := nsq.NewConsumer(config.TopicIngestDocuments, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ consumer: %w", err)
	}
	consumer.AddConcurrentHandlers(application.IngestionConsumer, concurrency)

	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		slog.Error("failed to connect to NSQLookupd", "error", err)
	} else {
		slog.Info("ingestion worker connected", "topic", config.TopicIngestDocuments, "concurrency", concurrency)
	}
	return consumer, nil
}
