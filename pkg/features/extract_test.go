package features

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocn-ai/orca/pkg/contracts"
)

func TestExtractCopiesNumericAndBooleanFeatures(t *testing.T) {
	req := &contracts.DecisionRequest{
		CartTotal: 100,
		Features: map[string]any{
			"velocity_24h": 3.0,
			"cross_border": true,
			"device_score": 42,
			"note":         "not a number",
			"nested":       map[string]any{"x": 1},
		},
	}

	feats := Extract(req)

	assert.Equal(t, 3.0, feats["velocity_24h"])
	assert.Equal(t, 1.0, feats["cross_border"])
	assert.Equal(t, 42.0, feats["device_score"])
	assert.NotContains(t, feats, "note")
	assert.NotContains(t, feats, "nested")
}

func TestExtractHighTicketBoundary(t *testing.T) {
	tests := []struct {
		total float64
		want  float64
	}{
		{499.99, 0.0},
		{500.0, 0.0}, // strict inequality
		{500.01, 1.0},
		{750.0, 1.0},
	}
	for _, tt := range tests {
		feats := Extract(&contracts.DecisionRequest{CartTotal: tt.total})
		assert.Equal(t, tt.want, feats[KeyHighTicket], "cart_total=%v", tt.total)
	}
}

func TestExtractCountryMismatch(t *testing.T) {
	tests := []struct {
		name string
		ctx  map[string]any
		want float64
	}{
		{"mismatch", map[string]any{"location_ip_country": "GB", "billing_country": "US"}, 1.0},
		{"match", map[string]any{"location_ip_country": "US", "billing_country": "US"}, 0.0},
		{"ip missing", map[string]any{"billing_country": "US"}, 0.0},
		{"billing missing", map[string]any{"location_ip_country": "GB"}, 0.0},
		{"ill-typed", map[string]any{"location_ip_country": 7, "billing_country": "US"}, 0.0},
		{"nil context", nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feats := Extract(&contracts.DecisionRequest{Context: tt.ctx})
			assert.Equal(t, tt.want, feats[KeyIPCountryMismatch])
		})
	}
}

func TestExtractChargebacks(t *testing.T) {
	feats := Extract(&contracts.DecisionRequest{
		Context: map[string]any{"customer": map[string]any{"chargebacks_12m": 2.0}},
	})
	assert.Equal(t, 1.0, feats[KeyHasChargebacks])

	feats = Extract(&contracts.DecisionRequest{
		Context: map[string]any{"customer": map[string]any{"chargebacks_12m": 0.0}},
	})
	assert.Equal(t, 0.0, feats[KeyHasChargebacks])

	feats = Extract(&contracts.DecisionRequest{
		Context: map[string]any{"customer": map[string]any{"chargebacks_12m": "two"}},
	})
	assert.Equal(t, 0.0, feats[KeyHasChargebacks])
}

func TestExtractDoesNotMutateRequest(t *testing.T) {
	req := &contracts.DecisionRequest{
		CartTotal: 600,
		Features:  map[string]any{"velocity_24h": 1.0},
		Context:   map[string]any{"billing_country": "US"},
	}
	_ = Extract(req)

	assert.Len(t, req.Features, 1)
	assert.Len(t, req.Context, 1)
	assert.NotContains(t, req.Features, KeyHighTicket)
}

func TestPaymentMethod(t *testing.T) {
	assert.Equal(t, "visa", PaymentMethod(map[string]any{"payment_method": "visa"}))
	assert.Equal(t, "ach", PaymentMethod(map[string]any{"payment_method": map[string]any{"type": "ach"}}))
	assert.Equal(t, "", PaymentMethod(map[string]any{"payment_method": 12}))
	assert.Equal(t, "", PaymentMethod(nil))
}

func TestLoyaltyTierDefaults(t *testing.T) {
	assert.Equal(t, "NONE", LoyaltyTier(nil))
	assert.Equal(t, "NONE", LoyaltyTier(map[string]any{"customer": map[string]any{}}))
	assert.Equal(t, "GOLD", LoyaltyTier(map[string]any{"customer": map[string]any{"loyalty_tier": "GOLD"}}))
}
