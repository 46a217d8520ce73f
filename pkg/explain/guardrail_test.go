package explain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/llm"
)

func testRequest() *contracts.DecisionRequest {
	return &contracts.DecisionRequest{CartTotal: 750, Currency: "USD", Rail: contracts.RailCard}
}

func wrap(explanation string, confidence float64) string {
	return fmt.Sprintf(`{"explanation": %q, "confidence": %v, "key_factors": ["cart total"]}`, explanation, confidence)
}

func TestGuardrailAccepts(t *testing.T) {
	g, err := NewGuardrail(false)
	require.NoError(t, err)

	raw := wrap("The cart total of 750.00 USD exceeded the review threshold.", 0.9)
	parsed, violation := g.Check(raw, testRequest())
	require.Empty(t, violation)
	assert.Contains(t, parsed.Explanation, "750.00")
	assert.Equal(t, 0.9, parsed.Confidence)
}

func TestGuardrailStripsFences(t *testing.T) {
	g, err := NewGuardrail(false)
	require.NoError(t, err)

	raw := "```json\n" + wrap("The cart total of 750.00 USD exceeded the review threshold.", 0.8) + "\n```"
	_, violation := g.Check(raw, testRequest())
	assert.Empty(t, violation)
}

func TestGuardrailViolations(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", "the model rambled", ViolationParse},
		{"schema short", wrap("too short", 0.9), ViolationSchema},
		{"timestamp", wrap("The cart total spiked at 2024-01-15T10:30 this morning.", 0.9), ViolationHallucination},
		{"fabricated stat", wrap("The cart total carries a 97.3% fraud probability.", 0.9), ViolationHallucination},
		{"exact count", wrap("The cart total followed exactly 14 transactions today.", 0.9), ViolationHallucination},
		{"ssn", wrap("The cart total belongs to SSN 123-45-6789.", 0.9), ViolationPII},
		{"email", wrap("The cart total was charged by buyer@example.com today.", 0.9), ViolationPII},
		{"honorific name", wrap("The cart total was charged by Mr. Smith today.", 0.9), ViolationPII},
		{"advice", wrap("Given the cart total, you should consult a lawyer.", 0.9), ViolationAdvice},
		{"guarantee", wrap("This cart total is guaranteed to be fraudulent.", 0.9), ViolationGuarantee},
		{"no context", wrap("Something seemed generally suspicious about this one.", 0.9), ViolationNoContext},
		{"low confidence", wrap("The cart total of 750.00 exceeded the threshold.", 0.3), ViolationLowConfidence},
	}
	g, err := NewGuardrail(false)
	require.NoError(t, err)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, violation := g.Check(tc.raw, testRequest())
			assert.Equal(t, tc.want, violation)
		})
	}
}

func TestGuardrailUncertaintyToggle(t *testing.T) {
	raw := wrap("I'm not sure, but the cart total of 750.00 looked high.", 0.9)

	lenient, err := NewGuardrail(false)
	require.NoError(t, err)
	_, violation := lenient.Check(raw, testRequest())
	assert.Empty(t, violation)

	strict, err := NewGuardrail(true)
	require.NoError(t, err)
	_, violation = strict.Check(raw, testRequest())
	assert.Equal(t, ViolationUncertainty, violation)
}

func TestSanitizeSoftensPhrasing(t *testing.T) {
	got := Sanitize("This is guaranteed; contact buyer@example.com, exactly as before.")
	assert.NotContains(t, got, "guaranteed")
	assert.NotContains(t, got, "@example.com")
	assert.Contains(t, got, "approximately")
}

type scriptedClient struct {
	reply string
	err   error
}

func (s *scriptedClient) Chat(_ context.Context, _ []llm.Message, _ *llm.Options) (string, error) {
	return s.reply, s.err
}

func TestOverlayAccepted(t *testing.T) {
	o, err := NewOverlay(OverlayConfig{
		Client: &scriptedClient{reply: wrap("The cart total of 750.00 USD exceeded the review threshold.", 0.9)},
		Model:  "gpt-4o",
	})
	require.NoError(t, err)

	narrative, meta := o.Explain(context.Background(), testRequest(), contracts.DecisionReview, nil, "fallback")
	assert.Contains(t, narrative, "750.00")
	assert.Equal(t, StatusOK, meta.Status)
	assert.Equal(t, "gpt-4o", meta.Model)
}

func TestOverlayGuardrailRefusal(t *testing.T) {
	o, err := NewOverlay(OverlayConfig{
		Client: &scriptedClient{reply: "not json at all"},
	})
	require.NoError(t, err)

	narrative, meta := o.Explain(context.Background(), testRequest(), contracts.DecisionReview, nil, "fallback")
	assert.Equal(t, "fallback", narrative)
	assert.Equal(t, StatusGuardrailRefusal, meta.Status)
}

func TestOverlayUnavailable(t *testing.T) {
	o, err := NewOverlay(OverlayConfig{
		Client: &scriptedClient{err: errors.New("connection refused")},
	})
	require.NoError(t, err)

	narrative, meta := o.Explain(context.Background(), testRequest(), contracts.DecisionDecline, nil, "fallback")
	assert.Equal(t, "fallback", narrative)
	assert.Equal(t, StatusUnavailable, meta.Status)
}

func TestOverlayNilClient(t *testing.T) {
	o, err := NewOverlay(OverlayConfig{})
	require.NoError(t, err)

	narrative, meta := o.Explain(context.Background(), testRequest(), contracts.DecisionApprove, nil, "fallback")
	assert.Equal(t, "fallback", narrative)
	assert.Equal(t, StatusUnavailable, meta.Status)
}
