package weave

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ocn-ai/orca/pkg/contracts"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_receipts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id         TEXT NOT NULL,
	receipt_hash     TEXT NOT NULL,
	event_type       TEXT NOT NULL,
	timestamp        TEXT NOT NULL,
	block_height     INTEGER NOT NULL,
	transaction_hash TEXT NOT NULL,
	gas_used         INTEGER NOT NULL,
	gas_price        TEXT NOT NULL,
	status           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_receipts_trace ON audit_receipts(trace_id, block_height);
`

// SQLiteStore is the durable receipt log. Block height resumes from the
// highest persisted value so it stays monotonic across restarts.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes appends so height assignment and insert are atomic
	// without relying on database-level locking behavior.
	mu     sync.Mutex
	height int64
}

// OpenSQLite opens (and if needed initializes) the receipt log at path.
// ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("weave: open receipt log: %w", err)
	}
	// modernc.org/sqlite serializes internally; a single connection
	// avoids SQLITE_BUSY on concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("weave: init receipt log: %w", err)
	}

	var height sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(block_height) FROM audit_receipts`).Scan(&height); err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = db.Close()
		return nil, fmt.Errorf("weave: read block height: %w", err)
	}
	return &SQLiteStore{db: db, height: height.Int64}, nil
}

// Append persists r with the next block height.
func (s *SQLiteStore) Append(ctx context.Context, r *contracts.AuditReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.BlockHeight = s.height + 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_receipts
			(trace_id, receipt_hash, event_type, timestamp, block_height, transaction_hash, gas_used, gas_price, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TraceID, r.ReceiptHash, r.EventType, r.Timestamp.Format(time.RFC3339Nano),
		r.BlockHeight, r.TransactionHash, r.GasUsed, r.GasPrice, r.Status)
	if err != nil {
		return fmt.Errorf("weave: append receipt: %w", err)
	}
	s.height = r.BlockHeight
	return nil
}

// Latest returns the newest receipt for a trace id.
func (s *SQLiteStore) Latest(ctx context.Context, traceID string) (contracts.AuditReceipt, bool, error) {
	var (
		r  contracts.AuditReceipt
		ts string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT trace_id, receipt_hash, event_type, timestamp, block_height, transaction_hash, gas_used, gas_price, status
		FROM audit_receipts WHERE trace_id = ? ORDER BY block_height DESC LIMIT 1`, traceID).
		Scan(&r.TraceID, &r.ReceiptHash, &r.EventType, &ts, &r.BlockHeight,
			&r.TransactionHash, &r.GasUsed, &r.GasPrice, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.AuditReceipt{}, false, nil
	}
	if err != nil {
		return contracts.AuditReceipt{}, false, fmt.Errorf("weave: lookup receipt: %w", err)
	}
	if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
		r.Timestamp = parsed
	}
	return r, true, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
