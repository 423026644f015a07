// Package version scopes routes to an API version and keeps tokens minted for a
// newer version off older routes.
package version

import (
	"log/slog"
	"net/http"

	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	dErrors "github.com/drewstone/edgeware-watcher/pkg/domain-errors"
	"github.com/drewstone/edgeware-watcher/pkg/platform/httputil"
	"github.com/drewstone/edgeware-watcher/pkg/requestcontext"
)

// ExtractVersion records v as the version of every route below it. Mount it first
// inside the versioned chi subrouter.
func ExtractVersion(v id.APIVersion) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithAPIVersion(r.Context(), v)))
		})
	}
}

// ValidateTokenVersion refuses a token whose api_version is newer than the route.
// A token without the claim counts as v1. It needs ExtractVersion and the auth
// middleware to have run.
func ValidateTokenVersion(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			route := requestcontext.APIVersion(ctx)
			if route.IsNil() {
				logger.ErrorContext(ctx, "route has no API version",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "route version not configured"))
				return
			}

			token := requestcontext.TokenAPIVersion(ctx)
			if token.IsNil() {
				token = id.APIVersionV1
			}
			if route.IsAtLeast(token) {
				next.ServeHTTP(w, r)
				return
			}

			logger.WarnContext(ctx, "token minted for a newer API version",
				"token_version", token.String(),
				"route_version", route.String(),
				"subject", requestcontext.Subject(ctx),
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token API version not accepted by this endpoint"))
		})
	}
}
