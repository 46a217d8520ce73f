// Package contracts defines the wire and domain types shared across the
// Orca decision pipeline: the inbound checkout request, the internal
// decision response, and the AP2 contract emitted to external consumers.
package contracts

import (
	"time"
)

// Rail is the payment clearing system for a transaction.
type Rail string

const (
	RailCard Rail = "Card"
	RailACH  Rail = "ACH"
)

// Channel is the point of sale.
type Channel string

const (
	ChannelOnline Channel = "online"
	ChannelPOS    Channel = "pos"
)

// Decision is the internal three-way outcome.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReview  Decision = "REVIEW"
	DecisionDecline Decision = "DECLINE"
)

// Status is the external projection of Decision (REVIEW maps to ROUTE).
type Status string

const (
	StatusApprove Status = "APPROVE"
	StatusRoute   Status = "ROUTE"
	StatusDecline Status = "DECLINE"
)

// StatusOf projects a Decision onto the legacy status vocabulary.
func StatusOf(d Decision) Status {
	if d == DecisionReview {
		return StatusRoute
	}
	return Status(d)
}

// RoutingHint tells the downstream processor what to do with an
// approved, routed, or blocked transaction.
type RoutingHint string

const (
	RouteBlockTransaction RoutingHint = "BLOCK_TRANSACTION"
	RouteManualReview     RoutingHint = "ROUTE_TO_MANUAL_REVIEW"
	RouteVisaNetwork      RoutingHint = "ROUTE_TO_VISA_NETWORK"
	RouteACHNetwork       RoutingHint = "ROUTE_TO_ACH_NETWORK"
	RouteProcessNormally  RoutingHint = "PROCESS_NORMALLY"
)

// DecisionRequest is the inbound checkout request. It is immutable
// through the pipeline; every stage reads, none writes.
type DecisionRequest struct {
	CartTotal float64        `json:"cart_total"`
	Currency  string         `json:"currency"`
	Rail      Rail           `json:"rail"`
	Channel   Channel        `json:"channel"`
	Features  map[string]any `json:"features"`
	Context   map[string]any `json:"context"`
}

// DerivedFeatures is the flat numeric feature map produced by the
// feature extractor and consumed by the risk model and rule registry.
type DerivedFeatures map[string]float64

// Model type tags.
const (
	ModelTypeStub = "stub"
	ModelTypeXGB  = "xgb"
)

// RiskPrediction is the output of a risk model variant.
type RiskPrediction struct {
	RiskScore   float64  `json:"risk_score"`
	ReasonCodes []string `json:"reason_codes"`
	Version     string   `json:"version"`
	ModelType   string   `json:"model_type"`
}

// RuleOutcome is the contribution of a single rule. Hint is empty when
// the rule only contributes actions or signals.
type RuleOutcome struct {
	Name    string   `json:"name"`
	Hint    Decision `json:"decision_hint,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// AIMeta carries provenance for the optional LLM explanation overlay.
type AIMeta struct {
	Status      string   `json:"status"`
	Model       string   `json:"model,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	KeyFactors  []string `json:"key_factors,omitempty"`
	Explanation string   `json:"llm_explanation,omitempty"`
}

// DecisionMeta is the typed mirror of the required meta fields.
type DecisionMeta struct {
	Model            string   `json:"model"`
	ModelVersion     string   `json:"version"`
	TraceID          string   `json:"trace_id"`
	RiskScore        float64  `json:"risk_score"`
	RulesEvaluated   []string `json:"rules_evaluated"`
	ProcessingTimeMS float64  `json:"processing_time_ms"`
	Timestamp        string   `json:"timestamp"`
	AI               *AIMeta  `json:"ai,omitempty"`
}

// DecisionResponse is the internal result of a decision, returned to the
// caller alongside the AP2 contract.
type DecisionResponse struct {
	Decision         Decision       `json:"decision"`
	Status           Status         `json:"status"`
	Reasons          []string       `json:"reasons"`
	Actions          []string       `json:"actions"`
	SignalsTriggered []string       `json:"signals_triggered"`
	RoutingHint      RoutingHint    `json:"routing_hint"`
	Meta             map[string]any `json:"meta"`
	MetaStructured   DecisionMeta   `json:"meta_structured"`
	Explanation      string         `json:"explanation"`
	ExplanationHuman string         `json:"explanation_human"`

	// Backward-compatibility fields kept for legacy consumers.
	TransactionID string  `json:"transaction_id"`
	Timestamp     string  `json:"timestamp"`
	CartTotal     float64 `json:"cart_total"`
	Rail          Rail    `json:"rail"`
}

// Timestamp formatting helpers. The wire format is RFC 3339 in UTC with
// a trailing Z, second precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
