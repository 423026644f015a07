package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/oracle"
	dErrors "github.com/drewstone/edgeware-watcher/pkg/domain-errors"
	"github.com/drewstone/edgeware-watcher/pkg/platform/httputil"
	"github.com/drewstone/edgeware-watcher/pkg/requestcontext"
)

// Runner runs the oracle pipeline over a batch of events.
type Runner interface {
	OnReceiveEvents(ctx context.Context, events []models.IdentityEvent) (*oracle.Report, error)
}

// Handler wires intake endpoints to the oracle.
type Handler struct {
	runner Runner
	logger *slog.Logger
}

func NewHandler(runner Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// Register mounts intake endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identity-events", h.HandleIdentityEvents)
}

// HandleIdentityEvents runs the pipeline synchronously over the posted events.
// A settlement failure still returns the run report, with status 502.
func (h *Handler) HandleIdentityEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	subject := requestcontext.Subject(ctx)
	start := time.Now()

	if subject == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[IdentityEventsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	report, err := h.runner.OnReceiveEvents(ctx, req.ParsedEvents())
	if report == nil {
		h.logger.ErrorContext(ctx, "oracle run failed before producing a report",
			"request_id", requestID,
			"subject", subject,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "oracle run failed"))
		return
	}

	resp := FromReport(report, requestcontext.Now(ctx))
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusBadGateway
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
	}

	h.logger.InfoContext(ctx, "identity events processed",
		"request_id", requestID,
		"subject", subject,
		"run_id", resp.RunID,
		"events", len(req.Events),
		"approved", len(resp.Approved),
		"denied", len(resp.Denied),
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, status, resp)
}
