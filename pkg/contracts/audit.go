package contracts

import "time"

// Audit event types recorded by the Weave subscriber.
const (
	AuditEventDecision    = "decision"
	AuditEventExplanation = "explanation"
)

// AuditReceipt is the record the Weave subscriber returns for every
// accepted CloudEvent. The block fields are a mock ledger reference:
// height is a per-instance monotonic counter and the transaction hash is
// deterministic from trace id and receipt hash.
type AuditReceipt struct {
	TraceID         string    `json:"trace_id"`
	ReceiptHash     string    `json:"receipt_hash"`
	EventType       string    `json:"event_type"`
	Timestamp       time.Time `json:"timestamp"`
	BlockHeight     int64     `json:"block_height"`
	TransactionHash string    `json:"transaction_hash"`
	GasUsed         int64     `json:"gas_used"`
	GasPrice        string    `json:"gas_price"`
	Status          string    `json:"status"`
}

// Mock ledger constants for audit receipts.
const (
	AuditGasUsed  int64 = 21000
	AuditGasPrice       = "20000000000"
)
