package testutil

import (
	"net/http"
	"time"

	"github.com/drewstone/edgeware-watcher/pkg/requestcontext"
)

// WithSubject authenticates req as subject, as the auth middleware would.
func WithSubject(req *http.Request, subject string) *http.Request {
	return req.WithContext(requestcontext.WithSubject(req.Context(), subject))
}

// WithRequestTime pins the request time the handlers read.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
