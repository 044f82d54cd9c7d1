//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "examgate/pkg/domain"
	audit "examgate/pkg/platform/audit"
	auditpg "examgate/pkg/platform/audit/store/postgres"
	"examgate/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditpg.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = auditpg.New(s.postgres.Pool)
	s.Require().NoError(s.store.InitSchema(context.Background()))
}

func (s *StoreSuite) TearDownSuite() {
	s.postgres.Terminate(s.T())
}

func (s *StoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *StoreSuite) TestAppendAndListInOrder() {
	ctx := context.Background()
	attemptID := id.NewAttemptID()
	other := id.NewAttemptID()
	ts := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: ts,
		AttemptID: attemptID,
		SubjectID: 7,
		SessionID: 42,
		Action:    string(audit.EventExamSessionStarted),
		Epoch:     1,
		Device:    "Firefox 128 on Linux",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp:  ts.Add(time.Second),
		AttemptID:  attemptID,
		SubjectID:  7,
		SessionID:  42,
		Action:     string(audit.EventCheckpointFailed),
		Checkpoint: "start",
		Decision:   "rejected",
		Reason:     "voice did not match",
		Epoch:      1,
		RequestID:  "req-1",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: ts,
		AttemptID: other,
		Action:    string(audit.EventAttemptReset),
	}))

	events, err := s.store.ListByAttempt(ctx, attemptID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)

	s.Equal(string(audit.EventExamSessionStarted), events[0].Action)
	s.Equal(audit.CategoryOperations, events[0].Category)
	s.Equal(id.ExamSessionID(42), events[0].SessionID)
	s.Equal("Firefox 128 on Linux", events[0].Device)
	s.True(ts.Equal(events[0].Timestamp))

	s.Equal(string(audit.EventCheckpointFailed), events[1].Action)
	s.Equal(audit.CategorySecurity, events[1].Category)
	s.Equal("start", events[1].Checkpoint)
	s.Equal("voice did not match", events[1].Reason)
	s.Equal(uint64(1), events[1].Epoch)
	s.Equal("req-1", events[1].RequestID)
	s.Equal(attemptID, events[1].AttemptID)
}

func (s *StoreSuite) TestListUnknownAttempt() {
	events, err := s.store.ListByAttempt(context.Background(), id.NewAttemptID())
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *StoreSuite) TestInitSchemaIsIdempotent() {
	s.NoError(s.store.InitSchema(context.Background()))
}
