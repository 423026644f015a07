// Package oracle is the verifier oracle's entry point. One call to
// OnReceiveEvents is one run: every pending identity event is fetched and
// verified, the outcomes are split into approve and deny, and each non-empty
// side is settled on the ledger in its own signed call.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	"github.com/drewstone/edgeware-watcher/internal/settlement"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	audit "github.com/drewstone/edgeware-watcher/pkg/platform/audit"
)

const tracerName = "github.com/drewstone/edgeware-watcher/internal/oracle"

// Aggregator verifies a batch of events.
type Aggregator interface {
	Aggregate(ctx context.Context, events []models.IdentityEvent) (models.Result, error)
}

// Settler records a partition on the ledger.
type Settler interface {
	SettleAll(ctx context.Context, p models.Partition) (settlement.Report, error)
}

// Auditor journals outcomes and settlement attempts.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// EvidenceCache forgets cached evidence so a claimant's corrected document is read
// on the next run.
type EvidenceCache interface {
	Invalidate(ctx context.Context, ref id.EvidenceReference) error
}

// Report describes one run.
type Report struct {
	RunID      id.RunID
	Outcomes   []models.VerificationOutcome
	Partition  models.Partition
	Settlement settlement.Report
	// Duplicates counts events dropped because an earlier event in the batch
	// carried the same identity hash.
	Duplicates int
}

type Service struct {
	aggregator Aggregator
	settler    Settler
	auditor    Auditor
	cache      EvidenceCache
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// WithEvidenceCache makes the service drop cached evidence for denied claims.
func WithEvidenceCache(c EvidenceCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(aggregator Aggregator, settler Settler, opts ...Option) (*Service, error) {
	if aggregator == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if settler == nil {
		return nil, fmt.Errorf("settler is required")
	}
	s := &Service{
		aggregator: aggregator,
		settler:    settler,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OnReceiveEvents runs the pipeline over events and returns once both
// settlements, when non-empty, have been attempted. Per-event problems become
// deny outcomes; only settlement failures and cancellation are returned.
func (s *Service) OnReceiveEvents(ctx context.Context, events []models.IdentityEvent) (*Report, error) {
	report := &Report{RunID: id.NewRunID()}
	runID := report.RunID.String()

	ctx, span := s.tracer.Start(ctx, "oracle.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	events, report.Duplicates = dedupe(events)
	if report.Duplicates > 0 {
		s.logger.WarnContext(ctx, "dropped duplicate identity events",
			"run_id", runID,
			"duplicates", report.Duplicates,
		)
	}

	s.logger.InfoContext(ctx, "oracle run started", "run_id", runID, "events", len(events))

	result, err := s.aggregate(ctx, events)
	if err != nil {
		s.fail(ctx, span, runID, err)
		return report, err
	}
	report.Outcomes = result.Outcomes
	report.Partition = result.Partition()
	for _, o := range result.Outcomes {
		if o.Reason == models.ReasonFetchError {
			s.logger.ErrorContext(ctx, "denying claim with unfetched evidence",
				"run_id", runID,
				"identity_hash", o.IdentityHash.String(),
				"attestation", o.Event.Attestation.String(),
				"error", o.Error,
			)
		}
		s.emit(ctx, outcomeEvent(report.RunID, o))
	}
	s.forgetDenied(ctx, runID, result.Outcomes)

	report.Settlement, err = s.settle(ctx, report.Partition)
	for _, a := range report.Settlement.Attempts() {
		s.emit(ctx, settlementEvent(report.RunID, a))
	}
	if err != nil {
		s.fail(ctx, span, runID, err)
		return report, err
	}

	s.metrics.IncRun("settled")
	s.logger.InfoContext(ctx, "oracle run settled",
		"run_id", runID,
		"approved", len(report.Partition.Approve),
		"denied", len(report.Partition.Deny),
	)
	return report, nil
}

func (s *Service) aggregate(ctx context.Context, events []models.IdentityEvent) (models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "oracle.aggregate")
	defer span.End()

	result, err := s.aggregator.Aggregate(ctx, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("aggregate events: %w", err)
	}
	p := result.Partition()
	span.SetAttributes(
		attribute.Int("approved", len(p.Approve)),
		attribute.Int("denied", len(p.Deny)),
	)
	return result, nil
}

func (s *Service) settle(ctx context.Context, p models.Partition) (settlement.Report, error) {
	ctx, span := s.tracer.Start(ctx, "oracle.settle")
	defer span.End()

	report, err := s.settler.SettleAll(ctx, p)
	for _, a := range report.Attempts() {
		span.AddEvent(string(a.Call), trace.WithAttributes(
			attribute.Int64("nonce", int64(a.Nonce)), //nolint:gosec // nonces stay far below 2^63
			attribute.String("status", string(a.Status)),
		))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("settle partition: %w", err)
	}
	return report, nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, runID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.IncRun("failed")

	var settleErr *settlement.Error
	if errors.As(err, &settleErr) && settleErr.IsAmbiguous() {
		s.logger.ErrorContext(ctx, "oracle run ended with an unconfirmed settlement",
			"run_id", runID,
			"error", err,
		)
		return
	}
	s.logger.ErrorContext(ctx, "oracle run failed", "run_id", runID, "error", err)
}

// forgetDenied drops cached evidence for denied claims. Fetch failures are skipped
// since nothing was cached for them.
func (s *Service) forgetDenied(ctx context.Context, runID string, outcomes []models.VerificationOutcome) {
	if s.cache == nil {
		return
	}
	for _, o := range outcomes {
		if o.Success || o.Reason == models.ReasonFetchError || o.Event.Attestation == "" {
			continue
		}
		if err := s.cache.Invalidate(ctx, o.Event.Attestation); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate cached evidence",
				"run_id", runID,
				"attestation", o.Event.Attestation.String(),
				"error", err,
			)
		}
	}
}

// emit journals event. A journal failure never fails the run.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"run_id", event.RunID.String(),
			"kind", string(event.Kind),
			"error", err,
		)
	}
}

func outcomeEvent(runID id.RunID, o models.VerificationOutcome) audit.Event {
	return audit.Event{
		RunID:        runID,
		Kind:         audit.KindOutcome,
		IdentityHash: o.IdentityHash,
		Sender:       o.Event.Sender,
		Attestation:  o.Event.Attestation,
		Decision:     string(o.Decision()),
		Reason:       string(o.Reason),
		Detail:       o.Error,
	}
}

func settlementEvent(runID id.RunID, a *settlement.Attempt) audit.Event {
	e := audit.Event{
		RunID:  runID,
		Kind:   audit.KindSettlement,
		Call:   string(a.Call),
		Hashes: a.Hashes,
		Nonce:  a.Nonce,
		Status: string(a.Status),
		TxHash: a.TxHash,
	}
	if a.Receipt != nil {
		e.BlockHash = a.Receipt.BlockHash
	}
	if a.Err != nil {
		e.Detail = a.Err.Error()
	}
	return e
}

// dedupe keeps the first event per identity hash.
func dedupe(events []models.IdentityEvent) ([]models.IdentityEvent, int) {
	seen := make(map[id.Hash]struct{}, len(events))
	out := make([]models.IdentityEvent, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e.IdentityHash]; ok {
			continue
		}
		seen[e.IdentityHash] = struct{}{}
		out = append(out, e)
	}
	return out, len(events) - len(out)
}
