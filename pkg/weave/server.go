package weave

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ocn-ai/orca/pkg/canonicalize"
	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/events"
	"github.com/ocn-ai/orca/pkg/schema"
)

var subjectRe = regexp.MustCompile(`^txn_[A-Za-z0-9_-]+$`)

// Default ingest rate: generous for a single producer, tight enough to
// shed a runaway retry loop.
const (
	defaultRateLimit = 100
	defaultBurst     = 200
)

// ServerConfig wires the audit subscriber.
type ServerConfig struct {
	// Store is the receipt log; defaults to an in-memory store.
	Store ReceiptStore
	// Validator re-validates incoming envelopes; defaults to the
	// embedded schemas.
	Validator *schema.Validator
	// AuditEmitter, when set, publishes an ocn.weave.audit.v1 event for
	// every accepted receipt.
	AuditEmitter *events.Emitter
	// RateLimit and Burst tune the ingest limiter; zero selects
	// defaults.
	RateLimit float64
	Burst     int
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Server is the Weave audit subscriber HTTP surface.
type Server struct {
	store     ReceiptStore
	validator *schema.Validator
	emitter   *events.Emitter
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time

	emissions sync.WaitGroup
}

// NewServer builds the subscriber.
func NewServer(cfg ServerConfig) *Server {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = schema.New()
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "weave")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Server{
		store:     store,
		validator: validator,
		emitter:   cfg.AuditEmitter,
		limiter:   rate.NewLimiter(rate.Limit(limit), burst),
		logger:    logger,
		now:       now,
	}
}

// Handler returns the subscriber's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleIngest)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /receipts/{trace_id}", s.handleReceiptLookup)
	return mux
}

// Drain waits for in-flight audit emissions.
func (s *Server) Drain() {
	s.emissions.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   contracts.FormatTime(s.now()),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "ingest rate limit exceeded")
		return
	}

	var event contracts.CloudEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed CloudEvent: %v", err))
		return
	}

	if !subjectRe.MatchString(event.Subject) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("subject %q must match ^txn_", event.Subject))
		return
	}

	eventType, ok := auditEventType(event.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported event type %q", event.Type))
		return
	}

	if errs := s.validator.ValidateCloudEvent(event.Type, event); len(errs) > 0 {
		s.logger.Warn("rejected event failing schema validation",
			"type", event.Type, "subject", event.Subject, "error", errs[0].Error())
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "event failed schema validation",
			"detail": errs,
		})
		return
	}

	receipt, err := s.buildReceipt(&event, eventType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Append(r.Context(), receipt); err != nil {
		s.logger.Error("receipt append failed", "trace_id", receipt.TraceID, "error", err)
		writeError(w, http.StatusInternalServerError, "receipt store unavailable")
		return
	}

	s.logger.Info("event audited",
		"type", event.Type, "subject", event.Subject,
		"block_height", receipt.BlockHeight, "receipt_hash", receipt.ReceiptHash)

	s.emitAudit(receipt)
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleReceiptLookup(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	receipt, found, err := s.store.Latest(r.Context(), traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "receipt store unavailable")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no receipt for %s", traceID))
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// buildReceipt hashes the event payload and assembles the receipt
// record. The transaction hash is deterministic from trace id and
// content hash so replays are detectable.
func (s *Server) buildReceipt(event *contracts.CloudEvent, eventType string) (*contracts.AuditReceipt, error) {
	var data any
	if err := event.DecodeData(&data); err != nil {
		return nil, fmt.Errorf("event data is not valid JSON: %w", err)
	}
	contentHash, err := canonicalize.PrefixedHash(data)
	if err != nil {
		return nil, fmt.Errorf("event data cannot be canonicalized: %w", err)
	}
	return &contracts.AuditReceipt{
		TraceID:         event.Subject,
		ReceiptHash:     contentHash,
		EventType:       eventType,
		Timestamp:       s.now().UTC(),
		TransactionHash: transactionHash(event.Subject, contentHash),
		GasUsed:         contracts.AuditGasUsed,
		GasPrice:        contracts.AuditGasPrice,
		Status:          "confirmed",
	}, nil
}

// emitAudit publishes the receipt as an ocn.weave.audit.v1 event on a
// background goroutine; audit fan-out never blocks ingest.
func (s *Server) emitAudit(receipt *contracts.AuditReceipt) {
	if s.emitter == nil || !s.emitter.Enabled() {
		return
	}
	rec := *receipt
	s.emissions.Add(1)
	go func() {
		defer s.emissions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.emitter.Emit(ctx, contracts.EventTypeAudit, rec.TraceID, rec); err != nil {
			s.logger.Error("audit event delivery failed", "trace_id", rec.TraceID, "error", err)
		}
	}()
}

func auditEventType(ceType string) (string, bool) {
	switch ceType {
	case contracts.EventTypeDecision:
		return contracts.AuditEventDecision, true
	case contracts.EventTypeExplanation:
		return contracts.AuditEventExplanation, true
	default:
		return "", false
	}
}

// transactionHash derives the mock ledger transaction reference.
func transactionHash(traceID, receiptHash string) string {
	sum := sha256.Sum256([]byte(traceID + ":" + receiptHash))
	return "0x" + hex.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
