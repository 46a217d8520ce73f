package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocn-ai/orca/pkg/contracts"
)

func TestComposeApprove(t *testing.T) {
	req := &contracts.DecisionRequest{CartTotal: 123.45, Currency: "USD"}
	got := Compose(contracts.DecisionApprove, nil, req, 0.35)
	assert.Equal(t, "Transaction approved for $123.45. Cart total within approved limits.", got)
}

func TestComposeDeclineHighScore(t *testing.T) {
	req := &contracts.DecisionRequest{CartTotal: 900, Currency: "USD"}
	got := Compose(contracts.DecisionDecline, []string{"HIGH_RISK: ML risk score 0.950 exceeds 0.800 threshold"}, req, 0.95)
	assert.Equal(t, "Transaction declined due to high ML risk score of 0.950.", got)
}

func TestComposeDeclineReasonCodes(t *testing.T) {
	req := &contracts.DecisionRequest{CartTotal: 6000, Currency: "USD"}
	reasons := []string{
		"high_ticket: amount exceeds card hard limit",
		"velocity_flag: card velocity exceeds hard limit",
		"LOCATION_MISMATCH: IP country differs from billing country",
	}
	got := Compose(contracts.DecisionDecline, reasons, req, 0.6)
	assert.Equal(t, "Transaction declined due to: high_ticket, velocity_flag.", got)
}

func TestComposeReview(t *testing.T) {
	req := &contracts.DecisionRequest{CartTotal: 750, Currency: "USD"}
	got := Compose(contracts.DecisionReview, []string{"HIGH_TICKET: cart total exceeds threshold"}, req, 0.55)
	assert.Equal(t, "Transaction flagged for manual review due to: HIGH_TICKET.", got)
}

func TestComposeReviewNoReasons(t *testing.T) {
	req := &contracts.DecisionRequest{CartTotal: 750, Currency: "USD"}
	got := Compose(contracts.DecisionReview, nil, req, 0.55)
	assert.Contains(t, got, "risk signals")
}

func TestHumanNarrativeDedupsAndCloses(t *testing.T) {
	reasons := []string{
		"HIGH_RISK: ML risk score 0.900 exceeds 0.800 threshold",
		"ml_score_high",
		"HIGH_TICKET: cart total exceeds threshold",
	}
	got := HumanNarrative(contracts.DecisionReview, reasons)
	assert.Contains(t, got, "high risk")
	assert.Contains(t, got, "unusually high")
	assert.Contains(t, got, "Final decision: REVIEW")
	// HIGH_RISK and ml_score_high share one sentence.
	assert.Equal(t, 1, countOccurrences(got, "scored this transaction as high risk"))
}

func TestHumanNarrativeApproveDefault(t *testing.T) {
	got := HumanNarrative(contracts.DecisionApprove, nil)
	assert.Contains(t, got, "No risk signals fired")
	assert.Contains(t, got, "Final decision: APPROVE")
}

func TestReasonCode(t *testing.T) {
	assert.Equal(t, "HIGH_TICKET", ReasonCode("HIGH_TICKET: cart total 750.00 exceeds 500.00"))
	assert.Equal(t, "BASELINE", ReasonCode("BASELINE"))
	assert.Equal(t, "velocity_flag", ReasonCode("velocity_flag:  card velocity"))
}

func countOccurrences(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}
	return n
}
