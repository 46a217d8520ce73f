package weave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocn-ai/orca/pkg/canonicalize"
	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/events"
)

func decisionEvent(t *testing.T, traceID string) []byte {
	t.Helper()
	req := &contracts.DecisionRequest{
		CartTotal: 120.50,
		Currency:  "USD",
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
	}
	resp := &contracts.DecisionResponse{
		Decision: contracts.DecisionApprove,
		Reasons:  []string{"Cart total 120.50 within approved threshold"},
		Actions:  []string{"Process payment"},
		MetaStructured: contracts.DecisionMeta{
			Model:        contracts.ModelTypeStub,
			ModelVersion: "stub-0.1.0",
			TraceID:      traceID,
			RiskScore:    0.35,
		},
	}
	contract := contracts.BuildContract(req, resp, contracts.WithTraceID(traceID))

	emitter := events.New(events.Config{SubscriberURL: "http://unused", Version: "test"})
	event, err := emitter.Build(contracts.EventTypeDecision, traceID, contract)
	require.NoError(t, err)
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return raw
}

func postEvent(t *testing.T, srv *httptest.Server, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/events", "application/cloudevents+json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestIngestReturnsReceipt(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := decisionEvent(t, "txn_weave1")
	resp := postEvent(t, srv, body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var receipt contracts.AuditReceipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))

	assert.Equal(t, "txn_weave1", receipt.TraceID)
	assert.Equal(t, contracts.AuditEventDecision, receipt.EventType)
	assert.Equal(t, int64(1), receipt.BlockHeight)
	assert.Equal(t, contracts.AuditGasUsed, receipt.GasUsed)
	assert.Equal(t, contracts.AuditGasPrice, receipt.GasPrice)
	assert.Equal(t, "confirmed", receipt.Status)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, receipt.TransactionHash)

	// Content hash must equal the canonical digest of the data section.
	var envelope contracts.CloudEvent
	require.NoError(t, json.Unmarshal(body, &envelope))
	var data any
	require.NoError(t, envelope.DecodeData(&data))
	want, err := canonicalize.PrefixedHash(data)
	require.NoError(t, err)
	assert.Equal(t, want, receipt.ReceiptHash)
}

func TestIngestRejectsBadSubject(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var event contracts.CloudEvent
	require.NoError(t, json.Unmarshal(decisionEvent(t, "txn_ok"), &event))
	event.Subject = "order-17"
	raw, err := json.Marshal(event)
	require.NoError(t, err)

	resp := postEvent(t, srv, raw)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestRejectsUnknownType(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var event contracts.CloudEvent
	require.NoError(t, json.Unmarshal(decisionEvent(t, "txn_ok"), &event))
	event.Type = "ocn.orca.unknown.v1"
	raw, err := json.Marshal(event)
	require.NoError(t, err)

	resp := postEvent(t, srv, raw)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestRejectsSchemaViolation(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var event contracts.CloudEvent
	require.NoError(t, json.Unmarshal(decisionEvent(t, "txn_ok"), &event))
	event.Data = json.RawMessage(`{"not": "a contract"}`)
	raw, err := json.Marshal(event)
	require.NoError(t, err)

	resp := postEvent(t, srv, raw)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestBlockHeightMonotonic(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for i := 1; i <= 3; i++ {
		resp := postEvent(t, srv, decisionEvent(t, fmt.Sprintf("txn_h%d", i)))
		var receipt contracts.AuditReceipt
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
		resp.Body.Close()
		assert.Equal(t, int64(i), receipt.BlockHeight)
	}
}

func TestReceiptLookup(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	postEvent(t, srv, decisionEvent(t, "txn_lookup")).Body.Close()

	resp, err := http.Get(srv.URL + "/receipts/txn_lookup")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var receipt contracts.AuditReceipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	assert.Equal(t, "txn_lookup", receipt.TraceID)

	missing, err := http.Get(srv.URL + "/receipts/txn_absent")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestHealth(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngestRateLimit(t *testing.T) {
	s := NewServer(ServerConfig{RateLimit: 0.001, Burst: 1})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	first := postEvent(t, srv, decisionEvent(t, "txn_rate1"))
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postEvent(t, srv, decisionEvent(t, "txn_rate2"))
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestAuditEventFanOut(t *testing.T) {
	auditCh := make(chan contracts.CloudEvent, 1)
	auditSink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev contracts.CloudEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		auditCh <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer auditSink.Close()

	s := NewServer(ServerConfig{
		AuditEmitter: events.New(events.Config{SubscriberURL: auditSink.URL, Version: "test"}),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	postEvent(t, srv, decisionEvent(t, "txn_audit1")).Body.Close()
	s.Drain()

	select {
	case ev := <-auditCh:
		assert.Equal(t, contracts.EventTypeAudit, ev.Type)
		assert.Equal(t, "txn_audit1", ev.Subject)
		var receipt contracts.AuditReceipt
		require.NoError(t, ev.DecodeData(&receipt))
		assert.Equal(t, contracts.AuditEventDecision, receipt.EventType)
	case <-time.After(5 * time.Second):
		t.Fatal("audit event never delivered")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	r := &contracts.AuditReceipt{
		TraceID:         "txn_sql1",
		ReceiptHash:     "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		EventType:       contracts.AuditEventDecision,
		Timestamp:       time.Now().UTC(),
		TransactionHash: "0xabc",
		GasUsed:         contracts.AuditGasUsed,
		GasPrice:        contracts.AuditGasPrice,
		Status:          "confirmed",
	}
	require.NoError(t, store.Append(context.Background(), r))
	assert.Equal(t, int64(1), r.BlockHeight)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	second := *r
	require.NoError(t, reopened.Append(context.Background(), &second))
	assert.Equal(t, int64(2), second.BlockHeight)

	latest, found, err := reopened.Latest(context.Background(), "txn_sql1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), latest.BlockHeight)
}
