// Package aggregator runs evidence retrieval and verification over a batch of
// identity events and splits the outcomes into approve and deny sets.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence"
	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

const defaultConcurrency = 8

// ClaimVerifier checks a retrieved document against the claim it backs.
type ClaimVerifier interface {
	Verify(ctx context.Context, event models.IdentityEvent, doc *models.EvidenceDocument) models.VerificationOutcome
}

type Aggregator struct {
	source      evidence.Source
	verifier    ClaimVerifier
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Aggregator)

// WithConcurrency bounds how many events are fetched and verified at once.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

func New(source evidence.Source, verifier ClaimVerifier, opts ...Option) (*Aggregator, error) {
	if source == nil {
		return nil, fmt.Errorf("evidence source is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("claim verifier is required")
	}
	a := &Aggregator{
		source:      source,
		verifier:    verifier,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Aggregate produces exactly one outcome per event, in input order. Per-event
// failures become deny outcomes; the only error is cancellation of ctx, in which
// case no outcome can be trusted and none is returned.
func (a *Aggregator) Aggregate(ctx context.Context, events []models.IdentityEvent) (models.Result, error) {
	outcomes := make([]models.VerificationOutcome, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, event := range events {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = a.process(gctx, event)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return models.Result{}, fmt.Errorf("aggregate: %w", err)
	}
	// A fetch cut short by the caller looks like a timeout; do not settle it as a deny.
	if err := ctx.Err(); err != nil {
		return models.Result{}, fmt.Errorf("aggregate: %w", err)
	}

	return models.Result{Outcomes: outcomes}, nil
}

func (a *Aggregator) process(ctx context.Context, event models.IdentityEvent) models.VerificationOutcome {
	start := time.Now()
	outcome := a.verify(ctx, event)

	a.metrics.IncOutcome(string(outcome.Decision()), string(outcome.Reason))
	if outcome.Success {
		a.logger.InfoContext(ctx, "identity claim verified",
			"identity_hash", event.IdentityHash.String(),
			"attestation", event.Attestation.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		a.logger.InfoContext(ctx, "identity claim rejected",
			"identity_hash", event.IdentityHash.String(),
			"attestation", event.Attestation.String(),
			"reason", string(outcome.Reason),
			"error", outcome.Error,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return outcome
}

func (a *Aggregator) verify(ctx context.Context, event models.IdentityEvent) models.VerificationOutcome {
	if _, err := id.ParseEvidenceReference(event.Attestation.String()); err != nil {
		return models.Denied(event, models.ReasonFetchError, fmt.Sprintf("invalid evidence reference: %v", err))
	}

	doc, err := a.source.Fetch(ctx, event.Attestation)
	if err != nil {
		if evidence.IsRetryable(err) {
			a.logger.WarnContext(ctx, "evidence retrieval failed; claim will be denied",
				"identity_hash", event.IdentityHash.String(),
				"attestation", event.Attestation.String(),
				"error", err,
			)
		}
		return models.Denied(event, evidence.ReasonOf(err), err.Error())
	}

	return a.verifier.Verify(ctx, event, doc)
}
