package settlement

import (
	"errors"
	"fmt"

	"github.com/drewstone/edgeware-watcher/internal/ledger"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

var (
	// ErrEmptyBatch is returned by Submit for an empty hash list. No call is built.
	ErrEmptyBatch = errors.New("empty settlement batch")
	// ErrFinalizationTimeout means the call was broadcast but no terminal status was
	// seen in time. It may still finalize; it must not be resubmitted blindly.
	ErrFinalizationTimeout = errors.New("finalization wait timed out")
)

// Stage is the step of a settlement that failed.
type Stage string

const (
	StageNonce     Stage = "nonce"
	StageSign      Stage = "sign"
	StageBroadcast Stage = "broadcast"
	StageFinalize  Stage = "finalize"
)

// Error is a settlement failure with enough context to retry it by hand.
type Error struct {
	Stage   Stage
	Approve bool
	Hashes  []id.Hash
	Nonce   uint64
	Status  ledger.Status
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("settle %s of %d hashes failed at %s (nonce %d, status %s): %v",
		ledger.CallFor(e.Approve), len(e.Hashes), e.Stage, e.Nonce, e.Status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAmbiguous reports whether the failed call may still land on the ledger.
func (e *Error) IsAmbiguous() bool {
	return e.Stage == StageFinalize && !errors.Is(e.Err, ledger.ErrRejected)
}
