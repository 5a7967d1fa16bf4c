package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ewintr.nl/ytsum/app"
	"ewintr.nl/ytsum/config"
	"ewintr.nl/ytsum/fetcher"
	"ewintr.nl/ytsum/handler"
	"ewintr.nl/ytsum/notify"
	"ewintr.nl/ytsum/process"
	"ewintr.nl/ytsum/schedule"
	"ewintr.nl/ytsum/storage"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type resolver interface {
	process.ChannelResolver
	app.ChannelResolver
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(getParam("YTSUM_CONFIG", "ytsum.yaml"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("unable to open store", slog.String("driver", cfg.DatabaseDriver), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	var res resolver
	switch cfg.VideoSource {
	case "miniflux":
		res = fetcher.NewMiniflux(fetcher.MinifluxInfo{
			Endpoint: cfg.MinifluxEndpoint,
			ApiKey:   cfg.MinifluxAPIKey,
		})
	default:
		ytClient, err := youtube.NewService(ctx, option.WithAPIKey(cfg.YoutubeAPIKey))
		if err != nil {
			logger.Error("unable to create youtube service", slog.String("error", err.Error()))
			os.Exit(1)
		}
		res = fetcher.NewYoutube(ytClient)
	}

	httpClient, err := transcriptClient(cfg.ProxyURL)
	if err != nil {
		logger.Error("invalid proxy url", slog.String("error", err.Error()))
		os.Exit(1)
	}
	transcripts := fetcher.NewTimedtext(httpClient, cfg.TranscriptLanguages)
	summarizer := fetcher.NewOpenAI(fetcher.OpenAIInfo{
		APIKey:            cfg.OpenRouterAPIKey,
		BaseURL:           cfg.OpenRouterBaseURL,
		Model:             cfg.OpenRouterModel,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})

	pipeline := process.NewPipeline(store, res, transcripts, summarizer, process.Config{
		LookBack:              time.Duration(cfg.DaysToLookBack) * 24 * time.Hour,
		MaxVideosPerChannel:   cfg.MaxVideosPerCheck,
		MaxTranscriptAttempts: cfg.MaxTranscriptAttempts,
		MaxTranscriptsPerRun:  cfg.MaxTranscriptsPerRun,
		MaxSummariesPerRun:    cfg.MaxSummariesPerRun,
		SummaryMaxLength:      cfg.SummaryMaxLength,
		MaxKeyPoints:          cfg.MaxKeyPoints,
		RequestTimeout:        cfg.RequestTimeout,
		LockTimeout:           cfg.CheckInterval,
		Owner:                 cfg.Owner,
		Recipients:            cfg.TelegramRecipients,
		SummaryURL:            cfg.SummaryURL,
	}, logger)

	if cfg.WeaviateHost != "" {
		index, err := storage.NewWeaviate(storage.WeaviateInfo{
			Host:         cfg.WeaviateHost,
			ApiKey:       cfg.WeaviateAPIKey,
			OpenAIApiKey: cfg.OpenAIAPIKey,
		})
		if err != nil {
			logger.Error("unable to create weaviate client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if cfg.ResetIndex {
			if err := index.ResetSchema(ctx); err != nil {
				logger.Error("unable to reset weaviate schema", slog.String("error", err.Error()))
				os.Exit(1)
			}
			logger.Info("weaviate schema reset")
		}
		pipeline.WithIndex(index)
	}

	var messenger notify.Messenger
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.RequestTimeout)
		if err != nil {
			logger.Error("unable to connect telegram bot", slog.String("error", err.Error()))
			os.Exit(1)
		}
		messenger = tg
	}
	dispatcher := notify.NewDispatcher(store, messenger, notify.Config{
		MaxRetries:     cfg.NotifyMaxRetries,
		BatchSize:      cfg.NotifyBatchSize,
		RequestTimeout: cfg.RequestTimeout,
		SendInterval:   cfg.NotifySendInterval,
		Retention:      cfg.NotifyRetention,
	}, logger)

	scheduler := schedule.New(pipeline, dispatcher, store, schedule.Config{
		CheckInterval: cfg.CheckInterval,
		DrainInterval: cfg.DrainInterval,
		RunOnStart:    cfg.RunOnStart,
	}, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("unable to start scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           handler.NewServer(app.New(store, scheduler, res, cfg.UserID, logger), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
			stop()
		}
	}()
	logger.Info("http server started", slog.Int("port", cfg.APIPort))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", slog.String("error", err.Error()))
	}
	if err := scheduler.Stop(); err != nil {
		logger.Error("scheduler stop", slog.String("error", err.Error()))
	}

	logger.Info("service stopped")
}

func openStore(cfg config.Config) (*storage.SQL, error) {
	if cfg.DatabaseDriver == "postgres" {
		return storage.NewPostgres(storage.PostgresInfo{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
		})
	}

	return storage.NewSQLite(cfg.DatabasePath)
}

func transcriptClient(proxy string) (*http.Client, error) {
	if proxy == "" {
		return &http.Client{}, nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, err
	}

	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}, nil
}

func logLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getParam(param, def string) string {
	if val, ok := os.LookupEnv(param); ok {
		return val
	}
	return def
}
