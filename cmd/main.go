package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mediaingest/internal/content"
	"mediaingest/internal/ingest"
	"mediaingest/internal/logging"
	"mediaingest/internal/models"
	"mediaingest/internal/queue"
	"mediaingest/internal/server"
	"mediaingest/internal/storage"
)

func main() {
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to init logger")
	}
	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewStorage(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage")
	}
	defer db.Close()

	store, err := content.NewStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init content store")
	}

	fetcher := ingest.NewFetcher(store, db, &http.Client{Timeout: cfg.FetchTimeout}, cfg.MaxImageBytes, log)
	thumbs := ingest.NewThumbnailer(store, cfg.ThumbnailWidth, cfg.ThumbnailHeight, log)
	attacher := ingest.NewAttacher(db, store, ingest.SlugNamer{}, thumbs, log)
	pipeline := ingest.NewPipeline(fetcher, attacher, log)

	producer := queue.NewProducer(queue.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaTopic), log)
	defer producer.Close()
	deadLetters := queue.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaDeadLetterTopic)
	defer deadLetters.Close()

	consumer := queue.NewConsumer(
		queue.KafkaReaders(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID),
		deadLetters,
		pipeline,
		queue.ConsumerConfig{Workers: cfg.Workers, MaxAttempts: cfg.MaxAttempts, RetryBackoff: cfg.RetryBackoff},
		log,
	)
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(ctx) }()

	srv := server.NewServer(cfg, db, store, producer, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	select {
	case err := <-consumerDone:
		if err != nil {
			log.Error().Err(err).Msg("consumer stopped with error")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("consumer did not stop before shutdown timeout")
	}
}
