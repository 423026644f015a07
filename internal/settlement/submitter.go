// Package settlement records the oracle's decisions on the ledger: one batched
// verifyMany for approved claims and one denyMany for denied claims, signed by the
// verifier account with a nonce read immediately before signing.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/ledger"
	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

const defaultFinalizationTimeout = 2 * time.Minute

// Attempt is the record of one settlement call.
type Attempt struct {
	Call     ledger.CallName
	Hashes   []id.Hash
	Nonce    uint64
	TxHash   id.Hash
	Status   ledger.Status
	Receipt  *ledger.Receipt
	Err      error
	Duration time.Duration
}

// Approve reports whether the attempt was a verifyMany.
func (a *Attempt) Approve() bool {
	return a.Call == ledger.CallVerifyMany
}

// Report holds the attempts of one run. A side is nil when its partition was empty.
type Report struct {
	Approve *Attempt
	Deny    *Attempt
}

// Attempts returns the non-nil attempts in submission order.
func (r Report) Attempts() []*Attempt {
	var out []*Attempt
	for _, a := range []*Attempt{r.Approve, r.Deny} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Submitter is safe for concurrent use. Calls from one signer are serialized from
// the nonce read until finalization, so concurrent runs never sign the same nonce.
type Submitter struct {
	mu sync.Mutex

	client              ledger.Client
	signer              ledger.Signer
	verifierIndex       uint32
	finalizationTimeout time.Duration
	logger              *slog.Logger
	metrics             *metrics.Metrics
}

type Option func(*Submitter)

// WithFinalizationTimeout bounds the wait between broadcast and a terminal status.
func WithFinalizationTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.finalizationTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

func New(client ledger.Client, signer ledger.Signer, verifierIndex uint32, opts ...Option) (*Submitter, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	s := &Submitter{
		client:              client,
		signer:              signer,
		verifierIndex:       verifierIndex,
		finalizationTimeout: defaultFinalizationTimeout,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit settles hashes in one call and waits for finalization. Failures are
// returned as *Error.
func (s *Submitter) Submit(ctx context.Context, hashes []id.Hash, approve bool) (*ledger.Receipt, error) {
	if len(hashes) == 0 {
		return nil, ErrEmptyBatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt := s.attempt(ctx, hashes, approve)
	return attempt.Receipt, attempt.Err
}

// SettleAll submits the approve batch and then the deny batch, strictly in that
// order. Empty sides are skipped. The deny batch is attempted even when the
// approve batch failed; the returned error joins both failures. A run's two
// calls are adjacent: other runs wait until both have settled.
func (s *Submitter) SettleAll(ctx context.Context, p models.Partition) (Report, error) {
	var report Report
	var errs []error

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p.Approve) > 0 {
		report.Approve = s.attempt(ctx, p.Approve, true)
		errs = append(errs, report.Approve.Err)
	}
	if len(p.Deny) > 0 {
		report.Deny = s.attempt(ctx, p.Deny, false)
		errs = append(errs, report.Deny.Err)
	}
	return report, errors.Join(errs...)
}

func (s *Submitter) attempt(ctx context.Context, hashes []id.Hash, approve bool) *Attempt {
	start := time.Now()
	a := &Attempt{
		Call:   ledger.CallFor(approve),
		Hashes: hashes,
		Status: ledger.StatusPending,
	}

	s.run(ctx, a)

	a.Duration = time.Since(start)
	s.metrics.IncSubmission(string(a.Call), string(a.Status))
	s.metrics.ObserveSubmission(a.Duration)
	if a.Err != nil {
		s.logger.ErrorContext(ctx, "settlement failed",
			"call", string(a.Call),
			"approve", approve,
			"nonce", a.Nonce,
			"status", string(a.Status),
			"identity_hashes", hashStrings(hashes),
			"error", a.Err,
		)
	}
	return a
}

// run steps a through Pending -> Broadcast -> Finalized | Rejected | TimedOut.
func (s *Submitter) run(ctx context.Context, a *Attempt) {
	approve := a.Approve()
	fail := func(stage Stage, err error) {
		a.Err = &Error{Stage: stage, Approve: approve, Hashes: a.Hashes, Nonce: a.Nonce, Status: a.Status, Err: err}
	}

	nonce, err := s.client.AccountNonce(ctx, s.signer.Account())
	if err != nil {
		fail(StageNonce, err)
		return
	}
	a.Nonce = nonce
	s.metrics.SetLastNonce(nonce)

	signed, err := s.signer.Sign(ledger.Call{
		Name:          a.Call,
		Hashes:        a.Hashes,
		VerifierIndex: s.verifierIndex,
	}, nonce)
	if err != nil {
		fail(StageSign, err)
		return
	}

	s.logger.InfoContext(ctx, "submitting settlement",
		"call", string(a.Call),
		"signer", s.signer.Account().String(),
		"nonce", nonce,
		"batch_size", len(a.Hashes),
	)
	pending, err := s.client.Submit(ctx, signed)
	if err != nil {
		fail(StageBroadcast, err)
		return
	}
	a.Status = ledger.StatusBroadcast
	a.TxHash = pending.TxHash()

	waitCtx, cancel := context.WithTimeout(ctx, s.finalizationTimeout)
	defer cancel()

	receipt, err := pending.Await(waitCtx)
	a.Receipt = receipt
	switch {
	case err == nil:
		a.Status = ledger.StatusFinalized
		s.logger.InfoContext(ctx, "settlement finalized",
			"call", string(a.Call),
			"tx_hash", pending.TxHash().String(),
			"block_hash", receipt.BlockHash.String(),
			"block_number", receipt.BlockNumber,
			"events", eventStrings(receipt.Events),
		)
	case errors.Is(err, ledger.ErrRejected):
		a.Status = ledger.StatusRejected
		fail(StageFinalize, err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		a.Status = ledger.StatusTimedOut
		fail(StageFinalize, fmt.Errorf("%w after %s (tx %s): %v", ErrFinalizationTimeout, s.finalizationTimeout, pending.TxHash(), err))
	default:
		fail(StageFinalize, err)
	}
}

func hashStrings(hashes []id.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}

func eventStrings(events []ledger.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}
