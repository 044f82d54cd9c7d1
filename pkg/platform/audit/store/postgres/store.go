package postgres

import (
	"context"
	"fmt"

	id "examgate/pkg/domain"
	audit "examgate/pkg/platform/audit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements audit.Store on a pgx pool. Events are immutable rows keyed
// by a generated id; reads are per attempt in append order.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Call InitSchema once at startup.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InitSchema creates the audit table when missing.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id UUID PRIMARY KEY,
			seq BIGSERIAL,
			category TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			attempt_id UUID NOT NULL,
			subject_id BIGINT NOT NULL DEFAULT 0,
			session_id BIGINT NOT NULL DEFAULT 0,
			action TEXT NOT NULL,
			checkpoint TEXT NOT NULL DEFAULT '',
			modality TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			epoch BIGINT NOT NULL DEFAULT 0,
			device TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_attempt ON audit_events (attempt_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init audit schema: %w", err)
		}
	}
	return nil
}

// Append inserts one event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (
			id, category, timestamp, attempt_id, subject_id, session_id, action,
			checkpoint, modality, decision, reason, epoch, device, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.New(),
		string(category),
		event.Timestamp,
		uuid.UUID(event.AttemptID),
		int64(event.SubjectID),
		int64(event.SessionID),
		event.Action,
		event.Checkpoint,
		event.Modality,
		event.Decision,
		event.Reason,
		int64(event.Epoch),
		event.Device,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByAttempt returns events for one attempt, oldest first.
func (s *Store) ListByAttempt(ctx context.Context, attemptID id.AttemptID) ([]audit.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, timestamp, attempt_id, subject_id, session_id, action,
			checkpoint, modality, decision, reason, epoch, device, request_id
		FROM audit_events
		WHERE attempt_id = $1
		ORDER BY seq ASC`,
		uuid.UUID(attemptID),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			category  string
			attemptID uuid.UUID
			subjectID int64
			sessionID int64
			epoch     int64
		)
		if err := rows.Scan(
			&category,
			&event.Timestamp,
			&attemptID,
			&subjectID,
			&sessionID,
			&event.Action,
			&event.Checkpoint,
			&event.Modality,
			&event.Decision,
			&event.Reason,
			&epoch,
			&event.Device,
			&event.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.AttemptID = id.AttemptID(attemptID)
		event.SubjectID = id.SubjectID(subjectID)
		event.SessionID = id.ExamSessionID(sessionID)
		event.Epoch = uint64(epoch)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
