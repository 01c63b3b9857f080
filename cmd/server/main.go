package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"listen_later/internal/config"
	"listen_later/internal/extractor"
	"listen_later/internal/media"
	"listen_later/internal/queue"
	"listen_later/internal/scheduler"
	"listen_later/internal/server"
	"listen_later/internal/service"
	"listen_later/internal/storage/blob"
	"listen_later/internal/storage/postgres"
	"listen_later/internal/tts"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	rabbitMQ, err := queue.NewRabbitMQ(queue.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
		Prefetch:   cfg.RabbitMQ.Prefetch,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	articleStore := postgres.NewArticleStore(db)
	jobStore := postgres.NewJobStore(db)
	blobStore := blob.NewFileStore(cfg.Blob.Dir, cfg.Blob.BaseURL)

	llmClient := openai.NewClient(option.WithAPIKey(cfg.Extractor.APIKey))
	ttsClient := llmClient
	if cfg.TTS.APIKey != "" && cfg.TTS.APIKey != cfg.Extractor.APIKey {
		ttsClient = openai.NewClient(option.WithAPIKey(cfg.TTS.APIKey))
	}

	contentExtractor := extractor.New(extractor.Config{
		Model:             cfg.Extractor.Model,
		MaxRetries:        cfg.Extractor.MaxRetries,
		FetchTimeout:      cfg.Extractor.FetchTimeout,
		MaxContentChars:   cfg.Extractor.MaxContentChars,
		FallbackBodyChars: cfg.Extractor.FallbackBodyChars,
	}, llmClient, logger)

	synthesizer := tts.New(tts.Config{
		Model:   cfg.TTS.Model,
		Speed:   cfg.TTS.Speed,
		Timeout: cfg.TTS.Timeout,
	}, ttsClient, logger)

	downloader := media.NewDownloader(media.Config{
		BinPath:            cfg.YouTube.BinPath,
		MaxDurationSeconds: cfg.YouTube.MaxDurationSeconds,
		AudioQuality:       cfg.YouTube.AudioQuality,
		CookieFile:         cfg.YouTube.CookieFile,
		Timeout:            cfg.YouTube.Timeout,
	}, logger)

	pipeline := service.NewPipeline(articleStore, jobStore, blobStore, synthesizer, cfg.Pipeline, logger)
	videoPipeline := service.NewVideoPipeline(articleStore, jobStore, blobStore, downloader, cfg.Pipeline, logger)
	runner := service.NewRunner(
		articleStore,
		jobStore,
		contentExtractor,
		pipeline,
		videoPipeline,
		cfg.Pipeline.Voice,
		cfg.Pipeline.MaxRetries,
		logger,
	)
	submitService := service.NewSubmitService(articleStore, jobStore, blobStore, rabbitMQ, cfg.Pipeline.Voice, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := rabbitMQ.Consume(ctx, cfg.Pipeline.Workers, runner.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped", "error", err)
			cancel()
		}
	}()

	sweeper := scheduler.NewSweeper(
		articleStore,
		jobStore,
		blobStore,
		rabbitMQ,
		cfg.Sweep,
		cfg.Pipeline.MaxRetries,
		logger,
	)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	server.NewHandler(submitService, logger).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}()

	logger.Info("starting server",
		"addr", cfg.Server.Addr,
		"workers", cfg.Pipeline.Workers,
	)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
