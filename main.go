package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/video-stream/transcriber/internal/api"
	"github.com/video-stream/transcriber/internal/config"
	"github.com/video-stream/transcriber/internal/ffmpeg"
	"github.com/video-stream/transcriber/internal/job"
	"github.com/video-stream/transcriber/internal/logger"
	"github.com/video-stream/transcriber/internal/storage"
	"github.com/video-stream/transcriber/internal/telemetry"
	"github.com/video-stream/transcriber/internal/transcribe"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	// Ensure data directories exist
	layout := storage.NewLayout(cfg.UploadDir, cfg.AudioDir, cfg.TranscriptDir)
	if err := layout.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directories")
	}

	if err := ffmpeg.CheckAudioEncoder(ctx, cfg.FFmpegPath, cfg.AudioCodec); err != nil {
		log.Warn().Err(err).Msg("audio extraction will fail until ffmpeg is fixed")
	}
	extractor := ffmpeg.NewExtractor(cfg.FFmpegPath, cfg.FFprobePath, cfg.AudioCodec, log.Logger)

	provider, err := transcribe.NewProvider(transcribe.Config{
		Provider:          cfg.Provider,
		AssemblyAIKey:     cfg.AssemblyAIKey,
		AssemblyAIBaseURL: cfg.AssemblyAIBaseURL,
		SpeechModel:       cfg.SpeechModel,
		PollInterval:      cfg.PollInterval,
		OpenAIKey:         cfg.OpenAIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcription provider")
	}

	store := job.NewStore()
	pipeline := job.NewPipeline(store, extractor, transcribe.NewService(provider, log.Logger), log.Logger)
	manager := job.NewManager(store, layout, pipeline, cfg.MaxConcurrentJobs, log.Logger)

	router := api.NewRouter(manager, api.Options{
		CORSOrigins:     cfg.Origins(),
		MaxUploadBytes:  cfg.MaxUploadBytes,
		StreamKeepAlive: cfg.StreamKeepAlive,
	}, log.Logger)

	// No WriteTimeout: progress streams stay open for the whole job.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("provider", provider.Name()).
			Str("data_path", cfg.DataPath).
			Int("max_concurrent_jobs", cfg.MaxConcurrentJobs).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Open streams end when their jobs do, so stop accepting and wait for
	// the pipelines before giving up on the remaining connections.
	manager.Close()
	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Shutdown(shutdownCtx) }()
	if err := manager.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("jobs still running at shutdown")
	}
	if err := <-serverDone; err != nil {
		log.Warn().Err(err).Msg("forcing remaining connections closed")
		srv.Close()
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}
