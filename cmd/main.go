package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/transcriber/adapters/stt"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
	"github.com/satriahrh/arunika/transcriber/domain/repositories"
	"github.com/satriahrh/arunika/transcriber/internal/api"
	"github.com/satriahrh/arunika/transcriber/internal/audio"
	"github.com/satriahrh/arunika/transcriber/internal/config"
	"github.com/satriahrh/arunika/transcriber/internal/logging"
	"github.com/satriahrh/arunika/transcriber/internal/metrics"
	"github.com/satriahrh/arunika/transcriber/internal/session"
	"github.com/satriahrh/arunika/transcriber/internal/websocket"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML configuration file")
	flag.Parse()

	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Audio.TempDir, 0o700); err != nil {
		logger.Fatal("Failed to create temp directory", zap.String("path", cfg.Audio.TempDir), zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize adapters
	provider := cfg.EffectiveProvider()
	factory, closeTranscriber, err := newTranscriberFactory(cfg, provider, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech-to-text", zap.String("provider", provider), zap.Error(err))
	}
	defer closeTranscriber()

	policy := sessionPolicy(cfg)
	corrector := audio.NewFFmpegCorrector(audio.CorrectorConfig{
		Command: cfg.Audio.FFmpegCommand,
		Profile: policy.Profile,
		Timeout: cfg.Audio.CorrectionTimeout,
	}, logger)
	engine := session.NewEngine(policy, corrector, factory, metrics.NewMetrics(reg), logger)

	// Initialize WebSocket hub
	hub := websocket.NewHub(engine, websocket.HubConfig{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		KeepAliveInterval: cfg.Session.KeepAliveInterval,
		QuickCloseWindow:  cfg.Session.QuickCloseWindow,
	}, logger)
	go hub.Run()

	janitor := websocket.NewSessionCleanupService(hub, cfg.Audio.TempDir,
		cfg.Session.JanitorInterval, cfg.Session.JanitorMaxAge, logger)
	janitor.Start()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.ConfigureMiddleware(e, cfg.Server, logger)
	api.InitRoutes(e, hub, reg, provider, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)

	// Graceful shutdown
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Transcription server started",
		zap.String("address", addr),
		zap.String("transcriber", provider),
		zap.Int("sampleRate", policy.Profile.SampleRate),
		zap.Int("channels", policy.Profile.Channels),
		zap.Int("bitDepth", policy.Profile.BitDepth),
		zap.Stringer("strictness", policy.Strictness),
		zap.Bool("autoFix", policy.AutoFix))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	janitor.Stop()
	if err := hub.Shutdown(ctx); err != nil {
		logger.Warn("Sessions did not close in time", zap.Error(err))
	}
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func sessionPolicy(cfg *config.Config) session.Policy {
	strictness := audio.Lenient
	if cfg.Audio.Strict {
		strictness = audio.Strict
	}

	return session.Policy{
		Profile: entities.TargetProfile{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			BitDepth:   cfg.Audio.BitDepth,
		},
		Limits:             audio.Limits{MinBytes: cfg.Audio.MinBytes, MaxBytes: cfg.Audio.MaxBytes},
		MaxDurationSeconds: cfg.Audio.MaxDurationSeconds,
		Strictness:         strictness,
		AutoFix:            cfg.Audio.AutoFix,
		MinInterval:        cfg.Session.MinInterval,
		PendingDelay:       cfg.Session.PendingDelay,
		ProcessingTimeout:  cfg.Session.ProcessingTimeout,
		Cooldown:           cfg.Session.Cooldown,
		ErrorThreshold:     cfg.Session.ErrorThreshold,
		TempDir:            cfg.Audio.TempDir,
	}
}

// newTranscriberFactory returns the per-session transcriber factory and a
// function releasing any shared client.
func newTranscriberFactory(cfg *config.Config, provider string, logger *zap.Logger) (repositories.SpeechToTextFactory, func(), error) {
	t := cfg.Transcription

	switch provider {
	case config.ProviderMock:
		if t.APIKey == "" && t.Provider == config.ProviderHTTP {
			logger.Warn("No speech API key configured, using mock transcriber")
		}
		return stt.MockFactory(t.MockLatency, logger), func() {}, nil

	case config.ProviderGoogle:
		client, err := stt.NewGoogleSpeechToText(context.Background(), t.LanguageCode, t.Timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close speech client", zap.Error(err))
			}
		}
		return func() repositories.SpeechToText { return client }, closer, nil

	default:
		client, err := stt.NewHTTPSpeechToText(stt.HTTPConfig{
			Endpoint:         t.Endpoint,
			APIKey:           t.APIKey,
			CredentialHeader: t.CredentialHeader,
			Model:            t.Model,
			LanguageCode:     t.LanguageCode,
			Timeout:          t.Timeout,
			MaxResponseBytes: t.MaxResponseBytes,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return func() repositories.SpeechToText { return client }, func() {}, nil
	}
}
