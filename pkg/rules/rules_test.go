package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/features"
)

func evaluate(t *testing.T, req *contracts.DecisionRequest) []contracts.RuleOutcome {
	t.Helper()
	reg := NewRegistry(DefaultThresholds())
	return reg.Evaluate(req, features.Extract(req))
}

func outcomeByName(outs []contracts.RuleOutcome, name string) *contracts.RuleOutcome {
	for i := range outs {
		if outs[i].Name == name {
			return &outs[i]
		}
	}
	return nil
}

func TestCleanCartTriggersNothing(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Features:  map[string]any{"velocity_24h": 1.0},
	})
	assert.Empty(t, outs)
}

func TestHighTicketBoundary(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{CartTotal: 500, Rail: contracts.RailCard, Channel: contracts.ChannelOnline})
	assert.Nil(t, outcomeByName(outs, NameHighTicket))

	outs = evaluate(t, &contracts.DecisionRequest{CartTotal: 500.01, Rail: contracts.RailCard, Channel: contracts.ChannelOnline})
	out := outcomeByName(outs, NameHighTicket)
	require.NotNil(t, out)
	assert.Equal(t, contracts.DecisionReview, out.Hint)
	assert.Contains(t, out.Reasons[0], "HIGH_TICKET")
	assert.Equal(t, []string{ActionRouteToReview}, out.Actions)
}

func TestVelocityRules(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Features:  map[string]any{"velocity_24h": 5.0},
	})

	vel := outcomeByName(outs, NameVelocity)
	require.NotNil(t, vel)
	assert.Equal(t, contracts.DecisionReview, vel.Hint)
	assert.Contains(t, vel.Reasons[0], "VELOCITY_FLAG")

	cardVel := outcomeByName(outs, NameCardVelocity)
	require.NotNil(t, cardVel)
	assert.Equal(t, contracts.DecisionDecline, cardVel.Hint)
	assert.Contains(t, cardVel.Reasons[0], "velocity_flag")
	assert.Equal(t, []string{"block_transaction"}, cardVel.Actions)
}

func TestVelocityBoundaryNotTriggered(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Features:  map[string]any{"velocity_24h": 3.0},
	})
	assert.Nil(t, outcomeByName(outs, NameVelocity))
	assert.Nil(t, outcomeByName(outs, NameCardVelocity))
}

func TestLocationMismatch(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Context:   map[string]any{"location_ip_country": "GB", "billing_country": "US"},
	})
	out := outcomeByName(outs, NameLocationMismatch)
	require.NotNil(t, out)
	assert.Contains(t, out.Reasons[0], "GB")
	assert.Contains(t, out.Reasons[0], "US")
}

func TestACHLocationMismatchDeclines(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailACH,
		Channel:   contracts.ChannelOnline,
		Context:   map[string]any{"location_ip_country": "GB", "billing_country": "US"},
	})
	out := outcomeByName(outs, NameACHLocationMismatch)
	require.NotNil(t, out)
	assert.Equal(t, contracts.DecisionDecline, out.Hint)
	assert.Equal(t, []string{"fallback_card"}, out.Actions)
}

func TestHighIPDistance(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Features:  map[string]any{"high_ip_distance": true},
	})
	require.NotNil(t, outcomeByName(outs, NameHighIPDistance))
}

func TestChargebackHistory(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Context:   map[string]any{"customer": map[string]any{"chargebacks_12m": 1.0}},
	})
	out := outcomeByName(outs, NameChargebackHistory)
	require.NotNil(t, out)
	assert.Equal(t, contracts.DecisionReview, out.Hint)
}

func TestLoyaltyBoostHasNoHintAndNoReason(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 250,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Context:   map[string]any{"customer": map[string]any{"loyalty_tier": "GOLD"}},
	})
	out := outcomeByName(outs, NameLoyaltyBoost)
	require.NotNil(t, out)
	assert.Empty(t, out.Hint)
	assert.Empty(t, out.Reasons)
	assert.Equal(t, []string{"LOYALTY_BOOST"}, out.Actions)

	outs = evaluate(t, &contracts.DecisionRequest{
		CartTotal: 250,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Context:   map[string]any{"customer": map[string]any{"loyalty_tier": "SILVER"}},
	})
	assert.Nil(t, outcomeByName(outs, NameLoyaltyBoost))
}

func TestItemCount(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Context:   map[string]any{"item_count": 11.0},
	})
	require.NotNil(t, outcomeByName(outs, NameItemCount))
}

func TestCardHighTicketDecline(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 6000,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
	})
	out := outcomeByName(outs, NameCardHighTicket)
	require.NotNil(t, out)
	assert.Equal(t, contracts.DecisionDecline, out.Hint)
	assert.Contains(t, out.Reasons[0], "high_ticket")
	assert.Equal(t, []string{"manual_review"}, out.Actions)
}

func TestCardChannelBranches(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 1500,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
	})
	out := outcomeByName(outs, NameCardChannel)
	require.NotNil(t, out)
	assert.Equal(t, contracts.DecisionReview, out.Hint)
	assert.Equal(t, []string{"step_up_auth"}, out.Actions)

	outs = evaluate(t, &contracts.DecisionRequest{
		CartTotal: 50,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelPOS,
	})
	out = outcomeByName(outs, NameCardChannel)
	require.NotNil(t, out)
	assert.Empty(t, out.Hint)
	assert.Equal(t, []string{"pos_processing"}, out.Actions)
}

func TestACHRules(t *testing.T) {
	outs := evaluate(t, &contracts.DecisionRequest{
		CartTotal: 2500,
		Rail:      contracts.RailACH,
		Channel:   contracts.ChannelOnline,
	})

	limit := outcomeByName(outs, NameACHLimit)
	require.NotNil(t, limit)
	assert.Equal(t, contracts.DecisionDecline, limit.Hint)
	assert.Contains(t, limit.Reasons[0], "ach_limit_exceeded")
	assert.Equal(t, []string{"fallback_card"}, limit.Actions)

	channel := outcomeByName(outs, NameACHChannel)
	require.NotNil(t, channel)
	assert.Equal(t, contracts.DecisionReview, channel.Hint)
	assert.Equal(t, []string{"micro_deposit_verification"}, channel.Actions)

	outs = evaluate(t, &contracts.DecisionRequest{
		CartTotal: 100,
		Rail:      contracts.RailACH,
		Channel:   contracts.ChannelPOS,
	})
	channel = outcomeByName(outs, NameACHChannel)
	require.NotNil(t, channel)
	assert.Empty(t, channel.Hint)
	assert.Equal(t, []string{"ach_pos_processing"}, channel.Actions)
}

func TestEvaluationOrderIsStable(t *testing.T) {
	req := &contracts.DecisionRequest{
		CartTotal: 6000,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Features:  map[string]any{"velocity_24h": 9.0, "high_ip_distance": 1.0},
		Context: map[string]any{
			"location_ip_country": "GB",
			"billing_country":     "US",
			"item_count":          20.0,
			"customer":            map[string]any{"chargebacks_12m": 2.0, "loyalty_tier": "PLATINUM"},
		},
	}
	first := evaluate(t, req)
	second := evaluate(t, req)
	assert.Equal(t, first, second)

	var names []string
	for _, out := range first {
		names = append(names, out.Name)
	}
	assert.Equal(t, []string{
		NameHighTicket, NameVelocity, NameLocationMismatch, NameHighIPDistance,
		NameChargebackHistory, NameLoyaltyBoost, NameItemCount,
		NameCardHighTicket, NameCardVelocity, NameCardChannel,
	}, names)
}

func TestLoadProfileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  high_ticket: 900\n  ach_limit: 3000\n"), 0o644))

	th, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 900.0, th.HighTicket)
	assert.Equal(t, 3000.0, th.ACHLimit)
	assert.Equal(t, DefaultThresholds().Velocity, th.Velocity)
}

func TestLoadProfileMissingFileKeepsDefaults(t *testing.T) {
	th, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, DefaultThresholds(), th)
}
