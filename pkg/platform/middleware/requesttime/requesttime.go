// Package requesttime pins one "now" per request. The run report and the access
// log of a request agree on when it was received.
package requesttime

import (
	"net/http"
	"time"

	"github.com/drewstone/edgeware-watcher/pkg/requestcontext"
)

// Middleware stamps the request with the wall clock.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock stamps the request with now().
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), now())))
		})
	}
}
