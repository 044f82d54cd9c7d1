// Package requesttime stamps every request with one "now" so a verdict, its
// audit event and the attempt's last-seen time agree.
package requesttime

import (
	"net/http"
	"time"

	"examgate/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
