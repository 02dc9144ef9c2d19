package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxscribe/internal/audio"
	"voxscribe/internal/config"
	"voxscribe/internal/diarization"
	"voxscribe/internal/httpapi"
	"voxscribe/internal/jobstore"
	"voxscribe/internal/observability"
	"voxscribe/internal/pipeline"
	"voxscribe/internal/postprocess"
	"voxscribe/internal/transcription"
	"voxscribe/internal/upload"
	"voxscribe/internal/upstream/openai"
	"voxscribe/internal/upstream/pyannote"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; /transcribe requires a bearer key per request")
	}
	if cfg.PyannoteAPIKey == "" {
		logger.Warn("PYANNOTE_API_KEY is not set; diarization requests will be skipped")
	}
	if cfg.DiarizationWebhookURL() == "" {
		logger.Warn("PUBLIC_WEBHOOK_URL_BASE is not set; diarization requests will be skipped")
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	upstreamHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}

	openaiClient := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, upstreamHTTPClient, openai.WithObserver(metrics.ObserveUpstream))
	pyannoteClient := pyannote.New(cfg.PyannoteBaseURL, cfg.PyannoteAPIKey, upstreamHTTPClient, pyannote.WithObserver(metrics.ObserveUpstream))

	jobs, err := newJobStore(cfg)
	if err != nil {
		logger.Error("job store unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = jobs.Close() }()

	uploads, err := upload.NewStore(cfg.UploadDir)
	if err != nil {
		logger.Error("upload directory unavailable", "dir", cfg.UploadDir, "error", err)
		os.Exit(1)
	}

	splitter := audio.NewSplitter(cfg.FFmpegPath, cfg.FFprobePath, nil)
	transcriptionService := transcription.New(openaiClient, splitter, transcription.Options{
		DefaultModel:        cfg.TranscriptionModel,
		Timeout:             cfg.TranscriptionTimeout,
		ChunkThresholdBytes: cfg.ChunkThresholdBytes,
		ChunkDuration:       cfg.ChunkDuration,
	}, logger)
	postProcessService := postprocess.New(openaiClient, cfg.PostProcessModel, cfg.PostProcessTimeout)
	diarizationService := diarization.New(pyannoteClient, jobs, diarization.Options{
		WebhookURL: cfg.DiarizationWebhookURL(),
		Timeout:    cfg.PyannoteTimeout,
		OnOutcome: func(status string) {
			metrics.IncDiarizationOutcome(diarization.StatusClass(status))
		},
	}, logger)
	pipelineService := pipeline.New(uploads, transcriptionService, postProcessService, diarizationService, logger)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Pipeline:       pipelineService,
		Diarization:    diarizationService,
		Upstream:       openaiClient,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	// Uploads run to hundreds of megabytes and chunked files make several
	// sequential upstream calls, so body and response deadlines are generous.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr, "upload_dir", uploads.Dir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newJobStore(cfg config.Config) (jobstore.Store, error) {
	if cfg.RedisURL == "" {
		return jobstore.NewMemoryStore(cfg.JobTTL), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return jobstore.NewRedisStore(ctx, cfg.RedisURL, cfg.JobTTL)
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
