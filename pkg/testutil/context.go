package testutil

import (
	"net/http"

	id "examgate/pkg/domain"
	"examgate/pkg/requestcontext"
)

// WithAttemptID binds an attempt to the request context the way the attempt
// cookie middleware would. Invalid IDs are silently ignored.
func WithAttemptID(req *http.Request, attemptID string) *http.Request {
	if parsed, err := id.ParseAttemptID(attemptID); err == nil {
		return req.WithContext(requestcontext.WithAttemptID(req.Context(), parsed))
	}
	return req
}
