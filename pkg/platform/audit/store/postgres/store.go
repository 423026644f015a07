package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	audit "github.com/drewstone/edgeware-watcher/pkg/platform/audit"
	txcontext "github.com/drewstone/edgeware-watcher/pkg/platform/tx"
)

// Schema creates the journal table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS attestation_audit (
	id            UUID PRIMARY KEY,
	run_id        UUID NOT NULL,
	kind          TEXT NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL,
	identity_hash TEXT NOT NULL DEFAULT '',
	sender        TEXT NOT NULL DEFAULT '',
	attestation   TEXT NOT NULL DEFAULT '',
	decision      TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL DEFAULT '',
	detail        TEXT NOT NULL DEFAULT '',
	call          TEXT NOT NULL DEFAULT '',
	hashes        TEXT[] NOT NULL DEFAULT '{}',
	nonce         BIGINT NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT '',
	tx_hash       TEXT NOT NULL DEFAULT '',
	block_hash    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS attestation_audit_run_idx ON attestation_audit (run_id);
CREATE INDEX IF NOT EXISTS attestation_audit_timestamp_idx ON attestation_audit (timestamp DESC);
`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer joins the caller's transaction when one is carried in ctx.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO attestation_audit (
			id, run_id, kind, timestamp, identity_hash, sender, attestation,
			decision, reason, detail, call, hashes, nonce, status, tx_hash, block_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		uuid.UUID(event.RunID),
		string(event.Kind),
		event.Timestamp,
		hashText(event.IdentityHash),
		event.Sender.String(),
		event.Attestation.String(),
		event.Decision,
		event.Reason,
		event.Detail,
		event.Call,
		pq.Array(hashStrings(event.Hashes)),
		int64(event.Nonce), //nolint:gosec // nonces stay far below 2^63
		event.Status,
		hashText(event.TxHash),
		hashText(event.BlockHash),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AppendBatch writes events in one transaction. Either all of them land or none do.
func (s *Store) AppendBatch(ctx context.Context, events []audit.Event) error {
	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		for _, event := range events {
			if err := s.Append(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

const selectColumns = `
		SELECT run_id, kind, timestamp, identity_hash, sender, attestation,
			   decision, reason, detail, call, hashes, nonce, status, tx_hash, block_hash
		FROM attestation_audit
`

// ListByRun returns the events of one run in the order they were recorded.
func (s *Store) ListByRun(ctx context.Context, runID id.RunID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE run_id = $1
		ORDER BY timestamp ASC
	`, uuid.UUID(runID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			event        audit.Event
			runID        uuid.UUID
			kind         string
			identityHash string
			sender       string
			reference    string
			txHash       string
			blockHash    string
			hashes       []string
			nonce        int64
			timestamp    time.Time
		)

		err := rows.Scan(
			&runID,
			&kind,
			&timestamp,
			&identityHash,
			&sender,
			&reference,
			&event.Decision,
			&event.Reason,
			&event.Detail,
			&event.Call,
			pq.Array(&hashes),
			&nonce,
			&event.Status,
			&txHash,
			&blockHash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.RunID = id.RunID(runID)
		event.Kind = audit.Kind(kind)
		event.Timestamp = timestamp
		event.Sender = id.AccountID(sender)
		event.Attestation = id.EvidenceReference(reference)
		event.Nonce = uint64(nonce) //nolint:gosec // written from a uint64
		if event.IdentityHash, err = parseHashText(identityHash); err != nil {
			return nil, err
		}
		if event.TxHash, err = parseHashText(txHash); err != nil {
			return nil, err
		}
		if event.BlockHash, err = parseHashText(blockHash); err != nil {
			return nil, err
		}
		for _, h := range hashes {
			parsed, err := id.ParseHash(h)
			if err != nil {
				return nil, fmt.Errorf("scan audit event hashes: %w", err)
			}
			event.Hashes = append(event.Hashes, parsed)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

// hashText stores the zero hash as an empty string.
func hashText(h id.Hash) string {
	if h.IsZero() {
		return ""
	}
	return h.String()
}

func parseHashText(s string) (id.Hash, error) {
	if s == "" {
		return id.Hash{}, nil
	}
	h, err := id.ParseHash(s)
	if err != nil {
		return id.Hash{}, fmt.Errorf("scan audit event hash: %w", err)
	}
	return h, nil
}

func hashStrings(hashes []id.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}

var _ audit.BatchStore = (*Store)(nil)
