// Package explain produces the decision narrative: a deterministic
// template rendering that always succeeds, and an optional LLM overlay
// gated by a guardrail that falls back to the deterministic text on any
// violation.
package explain

import (
	"fmt"
	"strings"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// highScoreNarrativeCutoff selects the score-centric decline narrative.
const highScoreNarrativeCutoff = 0.9

// Compose renders the deterministic narrative for a decision.
func Compose(d contracts.Decision, reasons []string, req *contracts.DecisionRequest, riskScore float64) string {
	switch d {
	case contracts.DecisionApprove:
		return fmt.Sprintf("Transaction approved for $%.2f. Cart total within approved limits.", req.CartTotal)
	case contracts.DecisionDecline:
		if riskScore > highScoreNarrativeCutoff {
			return fmt.Sprintf("Transaction declined due to high ML risk score of %.3f.", riskScore)
		}
		return fmt.Sprintf("Transaction declined due to: %s.", leadingCodes(reasons, 2))
	case contracts.DecisionReview:
		return fmt.Sprintf("Transaction flagged for manual review due to: %s.", leadingCodes(reasons, 2))
	default:
		return fmt.Sprintf("Transaction decision: %s", d)
	}
}

// reasonSentences maps canonical reason codes onto single-sentence
// human phrasings for the longer narrative.
var reasonSentences = map[string]string{
	"HIGH_TICKET":             "The cart total was unusually high; flagged for review.",
	"VELOCITY_FLAG":           "Too many transactions were attempted in a short window.",
	"LOCATION_MISMATCH":       "The IP location did not match the billing country.",
	"HIGH_IP_DISTANCE":        "The IP geolocation was far from the billing address.",
	"CHARGEBACK_HISTORY":      "The customer has recent chargebacks on record.",
	"ITEM_COUNT":              "The cart held an unusually large number of items.",
	"HIGH_RISK":               "The machine-learning model scored this transaction as high risk.",
	"ml_score_high":           "The machine-learning model scored this transaction as high risk.",
	"high_ticket":             "The card amount exceeded the hard ticket limit.",
	"velocity_flag":           "Card velocity exceeded the hard limit.",
	"online_verification":     "A large online card payment requires step-up verification.",
	"ach_limit_exceeded":      "The amount exceeded the ACH transfer limit.",
	"location_mismatch":       "The transfer origin did not match the billing country.",
	"ach_online_verification": "An online ACH payment of this size requires micro-deposit verification.",
}

// HumanNarrative renders the longer phrasing: one sentence per
// recognized reason code, closed with the final decision.
func HumanNarrative(d contracts.Decision, reasons []string) string {
	var parts []string
	seen := make(map[string]struct{})
	for _, r := range reasons {
		code := ReasonCode(r)
		sentence, ok := reasonSentences[code]
		if !ok {
			continue
		}
		if _, dup := seen[sentence]; dup {
			continue
		}
		seen[sentence] = struct{}{}
		parts = append(parts, sentence)
	}
	if len(parts) == 0 {
		if d == contracts.DecisionApprove {
			parts = append(parts, "No risk signals fired; the cart total was within approved limits.")
		} else {
			parts = append(parts, "Risk signals contributed to this outcome.")
		}
	}
	parts = append(parts, fmt.Sprintf("Final decision: %s", d))
	return strings.Join(parts, " ")
}

// ReasonCode extracts the canonical code from a "CODE: gloss" reason
// string; reasons without a colon are returned whole.
func ReasonCode(reason string) string {
	if i := strings.Index(reason, ":"); i > 0 {
		return strings.TrimSpace(reason[:i])
	}
	return strings.TrimSpace(reason)
}

func leadingCodes(reasons []string, n int) string {
	codes := make([]string, 0, n)
	for _, r := range reasons {
		codes = append(codes, ReasonCode(r))
		if len(codes) == n {
			break
		}
	}
	if len(codes) == 0 {
		codes = append(codes, "risk signals")
	}
	return strings.Join(codes, ", ")
}
