// Package features derives the flat numeric feature map the risk model
// and rule registry consume. Extraction is pure: the request is never
// mutated and missing or ill-typed fields yield zero-valued flags rather
// than errors.
package features

import (
	"encoding/json"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// Derived flag names always present in the output.
const (
	KeyHighTicket        = "is_high_ticket"
	KeyIPCountryMismatch = "ip_country_mismatch"
	KeyHasChargebacks    = "has_chargebacks"
)

// highTicketThreshold is the strict cart_total boundary for the derived
// is_high_ticket flag.
const highTicketThreshold = 500.0

// Extract builds DerivedFeatures from a request. Numeric feature values
// are copied as floats, booleans coerce to 0/1, anything else is dropped
// silently.
func Extract(req *contracts.DecisionRequest) contracts.DerivedFeatures {
	out := make(contracts.DerivedFeatures, len(req.Features)+3)

	for k, v := range req.Features {
		if f, ok := AsNumber(v); ok {
			out[k] = f
		}
	}

	out[KeyHighTicket] = boolFlag(req.CartTotal > highTicketThreshold)
	out[KeyIPCountryMismatch] = boolFlag(countryMismatch(req.Context))
	out[KeyHasChargebacks] = boolFlag(Chargebacks12M(req.Context) > 0)

	return out
}

// AsNumber coerces a JSON-decoded value into a float64. Booleans map to
// 0/1; strings and nested values are rejected.
func AsNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case bool:
		if t {
			return 1.0, true
		}
		return 0.0, true
	default:
		return 0, false
	}
}

// CountryPair reads the IP and billing countries from the request
// context. Empty strings mean "absent".
func CountryPair(ctx map[string]any) (ip, billing string) {
	if ctx == nil {
		return "", ""
	}
	ip, _ = ctx["location_ip_country"].(string)
	billing, _ = ctx["billing_country"].(string)
	return ip, billing
}

func countryMismatch(ctx map[string]any) bool {
	ip, billing := CountryPair(ctx)
	return ip != "" && billing != "" && ip != billing
}

// Chargebacks12M reads context.customer.chargebacks_12m, returning 0
// when the path is absent or non-numeric.
func Chargebacks12M(ctx map[string]any) float64 {
	if ctx == nil {
		return 0
	}
	customer, ok := ctx["customer"].(map[string]any)
	if !ok {
		return 0
	}
	n, ok := AsNumber(customer["chargebacks_12m"])
	if !ok {
		return 0
	}
	return n
}

// LoyaltyTier reads context.customer.loyalty_tier, defaulting to NONE.
func LoyaltyTier(ctx map[string]any) string {
	if ctx == nil {
		return "NONE"
	}
	customer, ok := ctx["customer"].(map[string]any)
	if !ok {
		return "NONE"
	}
	tier, ok := customer["loyalty_tier"].(string)
	if !ok || tier == "" {
		return "NONE"
	}
	return tier
}

// ItemCount reads context.item_count, returning 0 when absent.
func ItemCount(ctx map[string]any) float64 {
	if ctx == nil {
		return 0
	}
	n, ok := AsNumber(ctx["item_count"])
	if !ok {
		return 0
	}
	return n
}

// PaymentMethod reads context.payment_method, which may be a plain
// string or a struct carrying a "type" field.
func PaymentMethod(ctx map[string]any) string {
	if ctx == nil {
		return ""
	}
	switch pm := ctx["payment_method"].(type) {
	case string:
		return pm
	case map[string]any:
		s, _ := pm["type"].(string)
		return s
	default:
		return ""
	}
}

func boolFlag(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
