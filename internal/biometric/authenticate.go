package biometric

import (
	"context"
	"errors"

	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/email"
	"examgate/pkg/platform/sentinel"
)

// SubjectDirectory remembers which subject an email was registered as. The
// remote register call is not idempotent, so the directory is what makes
// Authenticate return the same subject for the same email.
type SubjectDirectory interface {
	// Lookup returns sentinel.ErrNotFound when the email is unknown.
	Lookup(ctx context.Context, email string) (domain.SubjectID, error)
	Remember(ctx context.Context, email string, subjectID domain.SubjectID) error
}

type noDirectory struct{}

func (noDirectory) Lookup(context.Context, string) (domain.SubjectID, error) {
	return 0, sentinel.ErrNotFound
}

func (noDirectory) Remember(context.Context, string, domain.SubjectID) error { return nil }

// Authenticate is login-or-register: the first call for an email registers
// it, later calls return the remembered subject.
func (c *Client) Authenticate(ctx context.Context, emailAddr, password string) (domain.SubjectID, error) {
	emailAddr = email.Normalize(emailAddr)
	if !email.IsValid(emailAddr) {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid email")
	}
	if password == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "password required")
	}

	known, lookupErr := c.directory.Lookup(ctx, emailAddr)
	if lookupErr != nil && !errors.Is(lookupErr, sentinel.ErrNotFound) {
		c.logger.WarnContext(ctx, "subject directory lookup failed", "error", lookupErr)
	}

	subjectID, err := c.Register(ctx, emailAddr, password)
	switch {
	case err == nil:
		if rememberErr := c.directory.Remember(ctx, emailAddr, subjectID); rememberErr != nil {
			c.logger.WarnContext(ctx, "subject directory write failed",
				"subject_id", subjectID.String(),
				"error", rememberErr,
			)
		}
		return subjectID, nil
	case errors.Is(err, ErrAlreadyRegistered):
		if lookupErr == nil && !known.IsNil() {
			return known, nil
		}
		return 0, dErrors.Wrap(err, dErrors.CodeConflict, "email is registered but its subject is unknown to this gateway")
	default:
		return 0, err
	}
}
