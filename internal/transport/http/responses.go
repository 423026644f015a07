package httptransport

import (
	"time"

	"github.com/drewstone/edgeware-watcher/internal/oracle"
	"github.com/drewstone/edgeware-watcher/internal/settlement"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// RunResponse is the HTTP response for POST /v1/identity-events. Approved,
// Denied and Duplicates together account for every submitted event.
type RunResponse struct {
	RunID       string               `json:"run_id"`
	Approved    []id.Hash            `json:"approved"`
	Denied      []id.Hash            `json:"denied"`
	Duplicates  int                  `json:"duplicates"`
	Outcomes    []OutcomeResponse    `json:"outcomes"`
	Settlements []SettlementResponse `json:"settlements"`
	ReceivedAt  time.Time            `json:"received_at"`
	Error       string               `json:"error,omitempty"`
}

type OutcomeResponse struct {
	IdentityHash id.Hash `json:"identity_hash"`
	Decision     string  `json:"decision"`
	Reason       string  `json:"reason,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type SettlementResponse struct {
	Call      string    `json:"call"`
	Hashes    []id.Hash `json:"hashes"`
	Nonce     uint64    `json:"nonce"`
	Status    string    `json:"status"`
	TxHash    *id.Hash  `json:"tx_hash,omitempty"`
	BlockHash *id.Hash  `json:"block_hash,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// FromReport converts a run report to an HTTP response.
func FromReport(report *oracle.Report, receivedAt time.Time) *RunResponse {
	resp := &RunResponse{
		RunID:       report.RunID.String(),
		Approved:    nonNil(report.Partition.Approve),
		Denied:      nonNil(report.Partition.Deny),
		Duplicates:  report.Duplicates,
		Outcomes:    make([]OutcomeResponse, 0, len(report.Outcomes)),
		Settlements: []SettlementResponse{},
		ReceivedAt:  receivedAt,
	}
	for _, o := range report.Outcomes {
		resp.Outcomes = append(resp.Outcomes, OutcomeResponse{
			IdentityHash: o.IdentityHash,
			Decision:     string(o.Decision()),
			Reason:       string(o.Reason),
			Error:        o.Error,
		})
	}
	for _, a := range report.Settlement.Attempts() {
		resp.Settlements = append(resp.Settlements, fromAttempt(a))
	}
	return resp
}

func fromAttempt(a *settlement.Attempt) SettlementResponse {
	s := SettlementResponse{
		Call:   string(a.Call),
		Hashes: a.Hashes,
		Nonce:  a.Nonce,
		Status: string(a.Status),
	}
	if !a.TxHash.IsZero() {
		h := a.TxHash
		s.TxHash = &h
	}
	if a.Receipt != nil {
		h := a.Receipt.BlockHash
		s.BlockHash = &h
	}
	if a.Err != nil {
		s.Error = a.Err.Error()
	}
	return s
}

func nonNil(hashes []id.Hash) []id.Hash {
	if hashes == nil {
		return []id.Hash{}
	}
	return hashes
}
