package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("backend", cfg.BackendBaseURL).
		Int("grace_period_seconds", cfg.GracePeriodSeconds).
		Msg("Starting proctor service")

	// ─── Initialize Validator & Metrics ───────────────────────────────
	validator.Setup()
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Certification Backend ─────────────────────────────────────────
	backend := gateway.NewClient(gateway.Config{
		BaseURL:           cfg.BackendBaseURL,
		QuestionGroupPath: cfg.BackendQuestionGroupPath,
		CertificationPath: cfg.BackendCertificationPath,
		SubmitPath:        cfg.BackendSubmitPath,
	}, log)

	// ─── Initialize Repositories ───────────────────────────────────────
	snapshotRepo := repository.NewSessionSnapshotRepository(rdb, cfg.SnapshotTTL)
	eventRepo := repository.NewProctorEventRepository(rdb)
	proctorRepo := repository.NewProctorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	sessionService := service.NewSessionService(backend, snapshotRepo, eventRepo, service.SessionOptions{
		GracePeriod: cfg.GracePeriodSeconds,
	}, log)
	proctorService := service.NewProctorService(proctorRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		WS: handler.NewWSHandler(sessionService, handler.WSOptions{
			AllowedOrigins:   cfg.AllowedOrigins,
			MessagesPerSec:   cfg.WSMessagesPerSecond,
			MessageBurst:     cfg.WSMessageBurst,
			SessionStartsMin: cfg.SessionStartsPerMin,
		}, log),
		Session: handler.NewSessionHandler(sessionService, log),
		Monitor: handler.NewMonitorHandler(eventRepo, proctorService, handler.MonitorOptions{}, log),
		Review:  handler.NewReviewHandler(backend, log),
		System:  handler.NewSystemHandler(pool, rdb, sessionService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	violationWorker := worker.NewViolationWorker(pool, rdb, log)
	submissionWorker := worker.NewSubmissionWorker(pool, rdb, log)

	workers.Add(2)
	go func() {
		defer workers.Done()
		violationWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		submissionWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close live sessions. Hijacked WebSocket connections are not
	// covered by srv.Shutdown.
	if err := sessionService.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Session shutdown timed out")
	}

	// 3. Stop background workers and wait for their buffers to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
