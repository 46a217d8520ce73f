// Package decision combines rule outcomes and the ML risk score into a
// single decision under a fixed precedence lattice:
// DECLINE > REVIEW > APPROVE.
package decision

import (
	"fmt"
	"strings"

	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/features"
)

// SignalHighRisk is recorded when the ML score crosses the threshold.
const SignalHighRisk = "HIGH_RISK"

// DefaultHighRiskThreshold is the score above which (strictly) the
// decision escalates to DECLINE regardless of rule hints.
const DefaultHighRiskThreshold = 0.80

// Aggregator folds rule outcomes and a risk prediction into a decision.
type Aggregator struct {
	highRisk float64
}

// New builds an aggregator. threshold <= 0 selects the default.
func New(threshold float64) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultHighRiskThreshold
	}
	return &Aggregator{highRisk: threshold}
}

// Result is the aggregate before explanation and contract assembly.
type Result struct {
	Decision         contracts.Decision
	Status           contracts.Status
	Reasons          []string
	Actions          []string
	SignalsTriggered []string
	RoutingHint      contracts.RoutingHint
	ApprovedAmount   float64 // set only on a clean approval
}

var level = map[contracts.Decision]int{
	contracts.DecisionApprove: 0,
	contracts.DecisionReview:  1,
	contracts.DecisionDecline: 2,
}

// Aggregate applies the precedence procedure: start at APPROVE, raise
// per rule hints, escalate to DECLINE on a high risk score, then merge
// reasons and actions preserving first occurrence.
func (a *Aggregator) Aggregate(req *contracts.DecisionRequest, pred contracts.RiskPrediction, outcomes []contracts.RuleOutcome) Result {
	final := contracts.DecisionApprove
	for _, out := range outcomes {
		if out.Hint != "" && level[out.Hint] > level[final] {
			final = out.Hint
		}
	}

	var reasons, actions, signals []string

	highRisk := pred.RiskScore > a.highRisk
	if highRisk {
		if level[final] < level[contracts.DecisionDecline] {
			final = contracts.DecisionDecline
		}
		reasons = append(reasons,
			fmt.Sprintf("HIGH_RISK: ML risk score %.3f exceeds %.3f threshold", pred.RiskScore, a.highRisk),
			"ml_score_high")
		actions = append(actions, "BLOCK")
	}

	for _, out := range outcomes {
		reasons = append(reasons, out.Reasons...)
		actions = append(actions, out.Actions...)
		signals = append(signals, out.Name)
	}
	if highRisk {
		signals = append(signals, SignalHighRisk)
	}

	reasons = dedup(reasons)
	actions = dedup(actions)

	res := Result{
		Decision:         final,
		Status:           contracts.StatusOf(final),
		Reasons:          reasons,
		Actions:          actions,
		SignalsTriggered: signals,
		RoutingHint:      a.route(final, req),
	}

	if final == contracts.DecisionApprove && len(res.Reasons) == 0 {
		res.Reasons = []string{fmt.Sprintf("Cart total %.2f within approved threshold", req.CartTotal)}
		res.Actions = dedup(append([]string{"Process payment", "Send confirmation"}, res.Actions...))
		res.ApprovedAmount = req.CartTotal
	}

	return res
}

// route maps the final decision onto a processor routing hint. Approved
// transactions route by payment method, matched case-insensitively.
func (a *Aggregator) route(final contracts.Decision, req *contracts.DecisionRequest) contracts.RoutingHint {
	switch final {
	case contracts.DecisionDecline:
		return contracts.RouteBlockTransaction
	case contracts.DecisionReview:
		return contracts.RouteManualReview
	}

	switch strings.ToLower(features.PaymentMethod(req.Context)) {
	case "visa", "mastercard", "amex":
		return contracts.RouteVisaNetwork
	case "ach", "bank_transfer":
		return contracts.RouteACHNetwork
	default:
		return contracts.RouteProcessNormally
	}
}

// dedup keeps the first occurrence of each entry, preserving order.
func dedup(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
