// Package weave implements the audit subscriber: an HTTP sink that
// receives Orca CloudEvents, re-validates them, and records append-only
// audit receipts with a mock ledger reference.
package weave

import (
	"context"
	"sync"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// ReceiptStore is the append-only receipt log. Append assigns the
// monotonic block height.
type ReceiptStore interface {
	Append(ctx context.Context, r *contracts.AuditReceipt) error
	Latest(ctx context.Context, traceID string) (contracts.AuditReceipt, bool, error)
	Close() error
}

// MemoryStore keeps receipts in process memory; tests and stateless
// deployments use it.
type MemoryStore struct {
	mu      sync.Mutex
	height  int64
	byTrace map[string][]contracts.AuditReceipt
}

// NewMemoryStore builds an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTrace: make(map[string][]contracts.AuditReceipt)}
}

// Append records r and assigns the next block height.
func (s *MemoryStore) Append(_ context.Context, r *contracts.AuditReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height++
	r.BlockHeight = s.height
	s.byTrace[r.TraceID] = append(s.byTrace[r.TraceID], *r)
	return nil
}

// Latest returns the most recent receipt for a trace id.
func (s *MemoryStore) Latest(_ context.Context, traceID string) (contracts.AuditReceipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byTrace[traceID]
	if len(list) == 0 {
		return contracts.AuditReceipt{}, false, nil
	}
	return list[len(list)-1], true, nil
}

// Close is a no-op for the in-memory log.
func (s *MemoryStore) Close() error { return nil }
