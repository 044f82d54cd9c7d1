package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"examgate/pkg/domain"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	LogFormat       string
	AllowAnyOrigin  bool
	ShutdownTimeout time.Duration

	Biometric Biometric
	Exam      Exam
	Capture   Capture
	Attempt   Attempt
	Redis     RedisConfig
	Postgres  PostgresConfig
	Kafka     KafkaConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
}

// Biometric configures the remote verification API client.
type Biometric struct {
	BaseURL          string
	Timeout          time.Duration
	BreakerFailures  int
	BreakerSuccesses int
}

// Exam holds the parameters sent when an exam session starts.
type Exam struct {
	DurationMinutes       int
	Schedule              domain.ScheduleKind
	IntervalMinutes       int
	MaxCheckpointAttempts int // 0 means unlimited
}

type Capture struct {
	CameraOpenTimeout time.Duration
	SnapshotMaxEdge   int // 0 disables downscaling
	MaxArtifactBytes  int64
}

// Attempt configures per-tab attempt lifetime and cookie signing.
type Attempt struct {
	TTL        time.Duration
	SigningKey string
}

// RedisConfig is optional; an empty URL keeps the subject directory in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig is optional; an empty URL keeps audit events in memory.
type PostgresConfig struct {
	URL string
}

// KafkaConfig is optional; no brokers disables the audit sink.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

type AuditConfig struct {
	Buffer int
}

// RateLimitConfig caps requests per client IP per minute; 0 disables a class.
type RateLimitConfig struct {
	LoginPerMinute     int
	BiometricPerMinute int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:           envOrDefault("EXAMGATE_ADDR", ":8080"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		LogFormat:      envOrDefault("LOG_FORMAT", "json"),
		AllowAnyOrigin: os.Getenv("ALLOW_ANY_ORIGIN") == "true",
		Biometric: Biometric{
			BaseURL: strings.TrimRight(envOrDefault("BIOMETRIC_API_URL", "http://localhost:8000/api/v1"), "/"),
		},
		Attempt: Attempt{
			SigningKey: os.Getenv("ATTEMPT_SIGNING_KEY"),
		},
		Redis: RedisConfig{
			URL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOrDefault("KAFKA_AUDIT_TOPIC", "examgate.audit"),
		},
	}
	if cfg.Attempt.SigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.Attempt.SigningKey = "dev-attempt-key-change-in-production"
	}

	var err error
	p := parser{}
	cfg.ShutdownTimeout = p.duration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.Biometric.Timeout = p.duration("BIOMETRIC_TIMEOUT", 15*time.Second)
	cfg.Biometric.BreakerFailures = p.int("BIOMETRIC_BREAKER_FAILURES", 5)
	cfg.Biometric.BreakerSuccesses = p.int("BIOMETRIC_BREAKER_SUCCESSES", 2)
	cfg.Exam.DurationMinutes = p.int("EXAM_DURATION_MINUTES", 60)
	cfg.Exam.IntervalMinutes = p.int("EXAM_INTERVAL_MINUTES", 0)
	cfg.Exam.MaxCheckpointAttempts = p.int("MAX_CHECKPOINT_ATTEMPTS", 0)
	cfg.Capture.CameraOpenTimeout = p.duration("CAMERA_OPEN_TIMEOUT", 10*time.Second)
	cfg.Capture.SnapshotMaxEdge = p.int("SNAPSHOT_MAX_EDGE", 1280)
	cfg.Capture.MaxArtifactBytes = int64(p.int("MAX_ARTIFACT_BYTES", 10<<20))
	cfg.Attempt.TTL = p.duration("ATTEMPT_TTL", 3*time.Hour)
	cfg.Audit.Buffer = p.int("AUDIT_BUFFER", 256)
	cfg.RateLimit.LoginPerMinute = p.int("RATE_LIMIT_LOGIN_PER_MINUTE", 10)
	cfg.RateLimit.BiometricPerMinute = p.int("RATE_LIMIT_BIOMETRIC_PER_MINUTE", 30)
	if p.err != nil {
		return Server{}, p.err
	}

	cfg.Exam.Schedule, err = domain.ParseScheduleKind(envOrDefault("EXAM_SCHEDULE", string(domain.ScheduleStartEnd)))
	if err != nil {
		return Server{}, fmt.Errorf("EXAM_SCHEDULE: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the remote API would refuse.
func (c Server) Validate() error {
	if c.Exam.DurationMinutes <= 0 {
		return fmt.Errorf("EXAM_DURATION_MINUTES must be positive")
	}
	if c.Exam.Schedule == domain.ScheduleInterval && c.Exam.IntervalMinutes <= 0 {
		return fmt.Errorf("EXAM_INTERVAL_MINUTES must be positive for interval schedules")
	}
	if c.Exam.MaxCheckpointAttempts < 0 {
		return fmt.Errorf("MAX_CHECKPOINT_ATTEMPTS must not be negative")
	}
	if c.Capture.MaxArtifactBytes <= 0 {
		return fmt.Errorf("MAX_ARTIFACT_BYTES must be positive")
	}
	if c.RateLimit.LoginPerMinute < 0 || c.RateLimit.BiometricPerMinute < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.Biometric.BaseURL == "" {
		return fmt.Errorf("BIOMETRIC_API_URL is required")
	}
	return nil
}

type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || p.err != nil {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || p.err != nil {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
		return fallback
	}
	return v
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
