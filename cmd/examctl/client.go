package main

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"examgate/internal/biometric"
	"examgate/internal/biometric/directory"
	"examgate/internal/capture"
	"examgate/internal/platform/config"
	"examgate/internal/platform/redis"
	"examgate/pkg/domain"
	"examgate/pkg/email"
	"examgate/pkg/platform/circuit"
)

// newClient builds the API client. Registration is not idempotent upstream, so
// a subject known from an earlier run is pinned for addr through the
// directory; with REDIS_URL set the gateway's directory is shared instead.
func newClient(ctx context.Context, cfg config.Server, log *slog.Logger, addr string, subject domain.SubjectID) (*biometric.Client, func(), error) {
	subjects, closeDirectory, err := openDirectory(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if !subject.IsNil() {
		if err := subjects.Remember(ctx, email.Normalize(addr), subject); err != nil {
			closeDirectory()
			return nil, nil, fmt.Errorf("failed to pin subject: %w", err)
		}
	}
	client, err := biometric.New(cfg.Biometric.BaseURL,
		biometric.WithHTTPClient(&http.Client{Timeout: cfg.Biometric.Timeout}),
		biometric.WithBreaker(circuit.New("biometric",
			circuit.WithFailureThreshold(cfg.Biometric.BreakerFailures),
			circuit.WithSuccessThreshold(cfg.Biometric.BreakerSuccesses),
		)),
		biometric.WithLogger(log),
		biometric.WithDirectory(subjects),
	)
	if err != nil {
		closeDirectory()
		return nil, nil, fmt.Errorf("failed to create biometric client: %w", err)
	}
	return client, closeDirectory, nil
}

func openDirectory(ctx context.Context, cfg config.Server) (biometric.SubjectDirectory, func(), error) {
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if rc == nil {
		return directory.NewInMemoryDirectory(), func() {}, nil
	}
	return directory.NewRedisDirectory(rc.Client), func() { _ = rc.Close() }, nil
}

// loadArtifact reads a capture from disk. The declared type comes from the
// extension; validation still sniffs the content.
func loadArtifact(modality domain.Modality, path string, maxBytes int64) (*capture.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%s artifact: %w", modality, err)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("%s artifact %s exceeds %d bytes", modality, path, maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s artifact: %w", modality, err)
	}
	art, err := capture.FromUpload(modality, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), data, maxBytes, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s artifact %s: %w", modality, path, err)
	}
	return art, nil
}
