package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "examgate/pkg/domain-errors"
)

// SubjectID identifies an exam-taker. The remote store assigns it on first
// login; the gateway treats it as opaque.
type SubjectID int64

// ExamSessionID identifies one timed exam attempt in the remote store.
type ExamSessionID int64

// AttemptID identifies one browser tab's walk through the verification flow.
// It never outlives the process.
type AttemptID uuid.UUID

// maxIDLength bounds parsing input at trust boundaries.
const maxIDLength = 64

func (id SubjectID) IsNil() bool        { return id <= 0 }
func (id SubjectID) String() string     { return strconv.FormatInt(int64(id), 10) }
func (id ExamSessionID) IsNil() bool    { return id <= 0 }
func (id ExamSessionID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id AttemptID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AttemptID) String() string { return uuid.UUID(id).String() }

// NewAttemptID returns a fresh random attempt identifier.
func NewAttemptID() AttemptID {
	return AttemptID(uuid.New())
}

// ParseSubjectID parses a positive decimal subject identifier.
func ParseSubjectID(s string) (SubjectID, error) {
	n, err := parsePositiveInt(s, "subject id")
	if err != nil {
		return 0, err
	}
	return SubjectID(n), nil
}

// ParseExamSessionID parses a positive decimal exam session identifier.
func ParseExamSessionID(s string) (ExamSessionID, error) {
	n, err := parsePositiveInt(s, "session id")
	if err != nil {
		return 0, err
	}
	return ExamSessionID(n), nil
}

// ParseAttemptID parses a non-nil UUID attempt identifier.
func ParseAttemptID(s string) (AttemptID, error) {
	if s == "" || len(s) > maxIDLength {
		return AttemptID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid attempt id")
	}
	parsed, err := uuid.Parse(s)
	if err != nil || parsed == uuid.Nil {
		return AttemptID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid attempt id")
	}
	return AttemptID(parsed), nil
}

func parsePositiveInt(s, what string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxIDLength {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	return n, nil
}
