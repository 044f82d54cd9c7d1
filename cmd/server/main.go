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

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"examgate/internal/attempt"
	"examgate/internal/biometric"
	"examgate/internal/biometric/directory"
	"examgate/internal/capture"
	"examgate/internal/platform/config"
	"examgate/internal/platform/httpserver"
	"examgate/internal/platform/logger"
	"examgate/internal/platform/metrics"
	"examgate/internal/platform/postgres"
	"examgate/internal/platform/redis"
	"examgate/internal/ratelimit"
	httptransport "examgate/internal/transport/http"
	"examgate/internal/verification"
	"examgate/pkg/domain"
	"examgate/pkg/platform/audit"
	"examgate/pkg/platform/audit/publisher"
	"examgate/pkg/platform/audit/sink/kafka"
	auditmemory "examgate/pkg/platform/audit/store/memory"
	auditpg "examgate/pkg/platform/audit/store/postgres"
	"examgate/pkg/platform/circuit"
)

const (
	breakerCooldown = 30 * time.Second
	sweepInterval   = time.Minute
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Flow logic lives in the verification and attempt
// packages.
func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("examgate stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(nil)

	subjects, closeDirectory, err := buildDirectory(runCtx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDirectory()

	auditor, closeAudit, err := buildAudit(runCtx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	client, err := biometric.New(cfg.Biometric.BaseURL,
		biometric.WithHTTPClient(&http.Client{Timeout: cfg.Biometric.Timeout}),
		biometric.WithBreaker(circuit.New("biometric",
			circuit.WithFailureThreshold(cfg.Biometric.BreakerFailures),
			circuit.WithSuccessThreshold(cfg.Biometric.BreakerSuccesses),
			circuit.WithCooldown(breakerCooldown),
		)),
		biometric.WithMetrics(m),
		biometric.WithLogger(log),
		biometric.WithTracer(otel.Tracer("examgate/biometric")),
		biometric.WithDirectory(subjects),
	)
	if err != nil {
		return fmt.Errorf("biometric client: %w", err)
	}

	settings := verification.SessionSettings{
		DurationMinutes: cfg.Exam.DurationMinutes,
		Schedule:        cfg.Exam.Schedule,
		IntervalMinutes: cfg.Exam.IntervalMinutes,
	}
	newMachine := func(attemptID domain.AttemptID, device string) (*verification.Machine, error) {
		return verification.New(client,
			verification.WithLogger(log),
			verification.WithAuditPublisher(auditor),
			verification.WithMetrics(m),
			verification.WithAttemptID(attemptID),
			verification.WithDevice(device),
			verification.WithSettings(settings),
		)
	}
	registry, err := attempt.NewRegistry(newMachine, attempt.Config{
		TTL:                   cfg.Attempt.TTL,
		MaxCheckpointAttempts: cfg.Exam.MaxCheckpointAttempts,
		Capture: capture.Options{
			CameraOpenTimeout: cfg.Capture.CameraOpenTimeout,
			SnapshotMaxEdge:   cfg.Capture.SnapshotMaxEdge,
			MaxArtifactBytes:  cfg.Capture.MaxArtifactBytes,
		},
	}, attempt.WithLogger(log), attempt.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("attempt registry: %w", err)
	}
	tokens, err := attempt.NewTokens(cfg.Attempt.SigningKey, cfg.Attempt.TTL)
	if err != nil {
		return fmt.Errorf("attempt tokens: %w", err)
	}
	go registry.RunSweeper(runCtx, sweepInterval)

	handler := httptransport.New(registry, tokens, log, m,
		httptransport.WithReports(client),
		httptransport.WithMaxUpload(cfg.Capture.MaxArtifactBytes),
		httptransport.WithAllowAnyOrigin(cfg.AllowAnyOrigin),
		httptransport.WithRateLimit(ratelimit.New(ratelimit.NewLimiter(), map[ratelimit.Class]ratelimit.Policy{
			ratelimit.ClassLogin:     ratelimit.PerMinute(cfg.RateLimit.LoginPerMinute),
			ratelimit.ClassBiometric: ratelimit.PerMinute(cfg.RateLimit.BiometricPerMinute),
		}, log, ratelimit.WithMetrics(m))),
	)
	router := chi.NewRouter()
	handler.Register(router)

	srv := httpserver.New(cfg.Addr, router)
	// Capture feeds outlive the request timeout; tie them to the process.
	srv.BaseContext = func(net.Listener) context.Context { return runCtx }

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting examgate", "addr", cfg.Addr, "biometric_api", cfg.Biometric.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig.String())
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	registry.Close(shutdownCtx)
	log.Info("examgate stopped")
	return nil
}

// buildDirectory keeps email to subject mappings in Redis when configured so
// they survive restarts, in memory otherwise.
func buildDirectory(ctx context.Context, cfg config.Server, log *slog.Logger) (biometric.SubjectDirectory, func(), error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	if client == nil {
		log.Info("subject directory in memory")
		return directory.NewInMemoryDirectory(), func() {}, nil
	}
	log.Info("subject directory in redis")
	return directory.NewRedisDirectory(client.Client), func() { _ = client.Close() }, nil
}

// buildAudit picks the audit store and optional Kafka sink. The returned
// close drains the publisher before releasing its backends.
func buildAudit(ctx context.Context, cfg config.Server, log *slog.Logger) (*publisher.Publisher, func(), error) {
	var (
		store    audit.Store = auditmemory.NewInMemoryStore()
		closers  []func()
		pubOpts  = []publisher.Option{publisher.WithAsyncBuffer(cfg.Audit.Buffer), publisher.WithLogger(log)}
		closeAll = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	)

	pool, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if pool != nil {
		pgStore := auditpg.New(pool)
		if err := pgStore.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("audit schema: %w", err)
		}
		store = pgStore
		closers = append(closers, pool.Close)
		log.Info("audit store in postgres")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("kafka: %w", err)
		}
		if err := sink.EnsureTopic(ctx, 1, 1); err != nil {
			log.Warn("could not ensure audit topic", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		pubOpts = append(pubOpts, publisher.WithSink(sink))
		closers = append(closers, sink.Close)
		log.Info("audit events mirrored to kafka", "topic", cfg.Kafka.AuditTopic)
	}

	pub := publisher.NewPublisher(store, pubOpts...)
	return pub, func() {
		pub.Close()
		closeAll()
	}, nil
}
