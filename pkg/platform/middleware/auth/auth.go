package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	dErrors "github.com/drewstone/edgeware-watcher/pkg/domain-errors"
	"github.com/drewstone/edgeware-watcher/pkg/platform/httputil"
	"github.com/drewstone/edgeware-watcher/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	Subject    string
	JTI        string
	APIVersion string
}

// RequireAuth rejects requests without a valid bearer token and puts the
// token's subject, id and API version into the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			ctx = requestcontext.WithSubject(ctx, claims.Subject)
			ctx = requestcontext.WithTokenID(ctx, claims.JTI)
			if v, err := id.ParseAPIVersion(claims.APIVersion); err == nil {
				ctx = requestcontext.WithTokenAPIVersion(ctx, v)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
