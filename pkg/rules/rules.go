// Package rules holds the ordered registry of independent decision
// rules. Each rule is a closure over its thresholds and a pure function
// of the request; outcomes are collected, never short-circuited, so
// every applicable rule contributes reasons, actions, and signals.
package rules

import (
	"fmt"

	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/features"
)

// Stable rule identifiers. Registration order is fixed so that
// signals_triggered is deterministic across invocations.
const (
	NameHighTicket          = "HIGH_TICKET"
	NameVelocity            = "VELOCITY"
	NameLocationMismatch    = "LOCATION_MISMATCH"
	NameHighIPDistance      = "HIGH_IP_DISTANCE"
	NameChargebackHistory   = "CHARGEBACK_HISTORY"
	NameLoyaltyBoost        = "LOYALTY_BOOST"
	NameItemCount           = "ITEM_COUNT"
	NameCardHighTicket      = "CARD_HIGH_TICKET"
	NameCardVelocity        = "CARD_VELOCITY"
	NameCardChannel         = "CARD_CHANNEL"
	NameACHLimit            = "ACH_LIMIT"
	NameACHLocationMismatch = "ACH_LOCATION_MISMATCH"
	NameACHChannel          = "ACH_CHANNEL"
)

// ActionRouteToReview is the shared follow-up for review-hinting rules.
const ActionRouteToReview = "ROUTE_TO_REVIEW"

// Rule is one independently-evaluable rule. Eval returns nil when the
// rule does not apply.
type Rule struct {
	Name string
	Eval func(req *contracts.DecisionRequest, feats contracts.DerivedFeatures) *contracts.RuleOutcome
}

// Registry is the fixed, ordered rule collection.
type Registry struct {
	rules []Rule
}

// NewRegistry builds the built-in rule set closed over th.
func NewRegistry(th Thresholds) *Registry {
	return &Registry{rules: []Rule{
		highTicketRule(th),
		velocityRule(th),
		locationMismatchRule(),
		highIPDistanceRule(),
		chargebackHistoryRule(),
		loyaltyBoostRule(),
		itemCountRule(th),
		cardHighTicketRule(th),
		cardVelocityRule(th),
		cardChannelRule(th),
		achLimitRule(th),
		achLocationMismatchRule(),
		achChannelRule(th),
	}}
}

// Names returns the registered rule identifiers in evaluation order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Evaluate runs every rule in order and collects the non-nil outcomes.
func (r *Registry) Evaluate(req *contracts.DecisionRequest, feats contracts.DerivedFeatures) []contracts.RuleOutcome {
	var outcomes []contracts.RuleOutcome
	for _, rule := range r.rules {
		if out := rule.Eval(req, feats); out != nil {
			out.Name = rule.Name
			outcomes = append(outcomes, *out)
		}
	}
	return outcomes
}

func highTicketRule(th Thresholds) Rule {
	return Rule{Name: NameHighTicket, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		if req.CartTotal <= th.HighTicket {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionReview,
			Reasons: []string{fmt.Sprintf("HIGH_TICKET: cart total %.2f exceeds %.2f review threshold", req.CartTotal, th.HighTicket)},
			Actions: []string{ActionRouteToReview},
		}
	}}
}

func velocityRule(th Thresholds) Rule {
	return Rule{Name: NameVelocity, Eval: func(_ *contracts.DecisionRequest, feats contracts.DerivedFeatures) *contracts.RuleOutcome {
		v := feats["velocity_24h"]
		if v <= th.Velocity {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionReview,
			Reasons: []string{fmt.Sprintf("VELOCITY_FLAG: %.0f transactions in 24h exceeds %.0f", v, th.Velocity)},
			Actions: []string{ActionRouteToReview},
		}
	}}
}

func locationMismatchRule() Rule {
	return Rule{Name: NameLocationMismatch, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		ip, billing := features.CountryPair(req.Context)
		if ip == "" || billing == "" || ip == billing {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionReview,
			Reasons: []string{fmt.Sprintf("LOCATION_MISMATCH: IP country %s differs from billing country %s", ip, billing)},
			Actions: []string{ActionRouteToReview},
		}
	}}
}

func highIPDistanceRule() Rule {
	return Rule{Name: NameHighIPDistance, Eval: func(_ *contracts.DecisionRequest, feats contracts.DerivedFeatures) *contracts.RuleOutcome {
		if feats["high_ip_distance"] <= 0 {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionReview,
			Reasons: []string{"HIGH_IP_DISTANCE: IP geolocation far from billing address"},
			Actions: []string{ActionRouteToReview},
		}
	}}
}

func chargebackHistoryRule() Rule {
	return Rule{Name: NameChargebackHistory, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		n := features.Chargebacks12M(req.Context)
		if n <= 0 {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionReview,
			Reasons: []string{fmt.Sprintf("CHARGEBACK_HISTORY: %.0f chargebacks in the last 12 months", n)},
			Actions: []string{ActionRouteToReview},
		}
	}}
}

// loyaltyBoostRule contributes an action and a signal but no decision
// hint and no reason, so a clean approval keeps its synthesized
// "within approved threshold" narrative.
func loyaltyBoostRule() Rule {
	return Rule{Name: NameLoyaltyBoost, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		tier := features.LoyaltyTier(req.Context)
		if tier != "GOLD" && tier != "PLATINUM" {
			return nil
		}
		return &contracts.RuleOutcome{
			Actions: []string{"LOYALTY_BOOST"},
		}
	}}
}

func itemCountRule(th Thresholds) Rule {
	return Rule{Name: NameItemCount, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		n := features.ItemCount(req.Context)
		if n <= th.ItemCount {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionReview,
			Reasons: []string{fmt.Sprintf("ITEM_COUNT: %.0f items exceeds %.0f item limit", n, th.ItemCount)},
			Actions: []string{ActionRouteToReview},
		}
	}}
}

func cardHighTicketRule(th Thresholds) Rule {
	return Rule{Name: NameCardHighTicket, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		if req.Rail != contracts.RailCard || req.CartTotal <= th.CardHighTicket {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionDecline,
			Reasons: []string{fmt.Sprintf("high_ticket: card amount %.2f exceeds %.2f limit", req.CartTotal, th.CardHighTicket)},
			Actions: []string{"manual_review"},
		}
	}}
}

func cardVelocityRule(th Thresholds) Rule {
	return Rule{Name: NameCardVelocity, Eval: func(req *contracts.DecisionRequest, feats contracts.DerivedFeatures) *contracts.RuleOutcome {
		v := feats["velocity_24h"]
		if req.Rail != contracts.RailCard || v <= th.CardVelocity {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionDecline,
			Reasons: []string{fmt.Sprintf("velocity_flag: %.0f card transactions in 24h exceeds %.0f", v, th.CardVelocity)},
			Actions: []string{"block_transaction"},
		}
	}}
}

// cardChannelRule has two branches: online high-value carts need
// step-up auth; POS carts only record a processing action.
func cardChannelRule(th Thresholds) Rule {
	return Rule{Name: NameCardChannel, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		if req.Rail != contracts.RailCard {
			return nil
		}
		switch req.Channel {
		case contracts.ChannelOnline:
			if req.CartTotal <= th.CardOnlineAmount {
				return nil
			}
			return &contracts.RuleOutcome{
				Hint:    contracts.DecisionReview,
				Reasons: []string{fmt.Sprintf("online_verification: online card amount %.2f exceeds %.2f", req.CartTotal, th.CardOnlineAmount)},
				Actions: []string{"step_up_auth"},
			}
		case contracts.ChannelPOS:
			return &contracts.RuleOutcome{
				Actions: []string{"pos_processing"},
			}
		default:
			return nil
		}
	}}
}

func achLimitRule(th Thresholds) Rule {
	return Rule{Name: NameACHLimit, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		if req.Rail != contracts.RailACH || req.CartTotal <= th.ACHLimit {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionDecline,
			Reasons: []string{fmt.Sprintf("ach_limit_exceeded: amount %.2f exceeds %.2f ACH limit", req.CartTotal, th.ACHLimit)},
			Actions: []string{"fallback_card"},
		}
	}}
}

func achLocationMismatchRule() Rule {
	return Rule{Name: NameACHLocationMismatch, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		if req.Rail != contracts.RailACH {
			return nil
		}
		ip, billing := features.CountryPair(req.Context)
		if ip == "" || billing == "" || ip == billing {
			return nil
		}
		return &contracts.RuleOutcome{
			Hint:    contracts.DecisionDecline,
			Reasons: []string{fmt.Sprintf("location_mismatch: ACH from %s with billing in %s", ip, billing)},
			Actions: []string{"fallback_card"},
		}
	}}
}

func achChannelRule(th Thresholds) Rule {
	return Rule{Name: NameACHChannel, Eval: func(req *contracts.DecisionRequest, _ contracts.DerivedFeatures) *contracts.RuleOutcome {
		if req.Rail != contracts.RailACH {
			return nil
		}
		switch req.Channel {
		case contracts.ChannelOnline:
			if req.CartTotal <= th.ACHOnlineAmount {
				return nil
			}
			return &contracts.RuleOutcome{
				Hint:    contracts.DecisionReview,
				Reasons: []string{fmt.Sprintf("ach_online_verification: online ACH amount %.2f exceeds %.2f", req.CartTotal, th.ACHOnlineAmount)},
				Actions: []string{"micro_deposit_verification"},
			}
		case contracts.ChannelPOS:
			return &contracts.RuleOutcome{
				Actions: []string{"ach_pos_processing"},
			}
		default:
			return nil
		}
	}}
}
