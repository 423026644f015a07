package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drewstone/edgeware-watcher/internal/platform/middleware"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	"github.com/drewstone/edgeware-watcher/pkg/platform/httputil"
	"github.com/drewstone/edgeware-watcher/pkg/platform/middleware/auth"
	"github.com/drewstone/edgeware-watcher/pkg/platform/middleware/metadata"
	"github.com/drewstone/edgeware-watcher/pkg/platform/middleware/requesttime"
	"github.com/drewstone/edgeware-watcher/pkg/platform/middleware/version"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig carries what the router needs besides the intake handler.
type RouterConfig struct {
	Validator auth.JWTValidator
	Gatherer  prometheus.Gatherer
	Checks    map[string]HealthCheck
	Logger    *slog.Logger
}

// NewRouter mounts /healthz, /metrics and the authenticated /v1 intake routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.Recover(logger))

	r.Get("/healthz", healthz(cfg.Checks))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(version.ExtractVersion(id.APIVersionV1))
		v1.Use(auth.RequireAuth(cfg.Validator, logger))
		v1.Use(version.ValidateTokenVersion(logger))
		h.Register(v1)
	})
	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		httputil.WriteJSON(w, status, body)
	}
}
