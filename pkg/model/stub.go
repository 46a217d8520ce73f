package model

import "github.com/ocn-ai/orca/pkg/contracts"

// StubVersion is the fixed version tag of the deterministic stub.
const StubVersion = "stub-0.1.0"

// Stub default parameters.
const (
	stubBaseScore      = 0.35
	stubAmountDelta    = 0.20
	stubVelocityDelta  = 0.10
	stubXBorderDelta   = 0.10
	stubAmountCutoff   = 500.0
	stubVelocityCutoff = 2.0
)

// StubModel is the deterministic risk model: a fixed base score plus
// additive rule deltas, clamped to [0,1].
type StubModel struct {
	base           float64
	amountDelta    float64
	velocityDelta  float64
	xborderDelta   float64
	amountCutoff   float64
	velocityCutoff float64
}

// StubOption retunes a stub parameter.
type StubOption func(*StubModel)

// WithBaseScore overrides the fixed base score.
func WithBaseScore(s float64) StubOption {
	return func(m *StubModel) { m.base = s }
}

// NewStub builds the stub with spec defaults.
func NewStub(opts ...StubOption) *StubModel {
	m := &StubModel{
		base:           stubBaseScore,
		amountDelta:    stubAmountDelta,
		velocityDelta:  stubVelocityDelta,
		xborderDelta:   stubXBorderDelta,
		amountCutoff:   stubAmountCutoff,
		velocityCutoff: stubVelocityCutoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Predict scores the feature map. Reason codes record which additive
// triggers fired; BASELINE when none did.
func (m *StubModel) Predict(feats contracts.DerivedFeatures) contracts.RiskPrediction {
	score := m.base
	var reasons []string

	if feats["amount"] > m.amountCutoff {
		score += m.amountDelta
		reasons = append(reasons, ReasonDummyMCC)
	}
	if feats["velocity_24h"] > m.velocityCutoff {
		score += m.velocityDelta
		reasons = append(reasons, ReasonVelocity)
	}
	if feats["cross_border"] > 0 {
		score += m.xborderDelta
		reasons = append(reasons, ReasonCrossBorder)
	}
	if len(reasons) == 0 {
		reasons = []string{ReasonBaseline}
	}

	return contracts.RiskPrediction{
		RiskScore:   clamp(score),
		ReasonCodes: reasons,
		Version:     StubVersion,
		ModelType:   contracts.ModelTypeStub,
	}
}

func (m *StubModel) Version() string { return StubVersion }
func (m *StubModel) Type() string    { return contracts.ModelTypeStub }

// ErrorPrediction is the recovery value used when a model invocation
// fails internally. The decision proceeds on the stub baseline.
func ErrorPrediction() contracts.RiskPrediction {
	return contracts.RiskPrediction{
		RiskScore:   stubBaseScore,
		ReasonCodes: []string{ReasonModelError},
		Version:     StubVersion,
		ModelType:   contracts.ModelTypeStub,
	}
}

// FixedModel returns a constant score; tests use it to force boundary
// and high-risk paths.
type FixedModel struct {
	Score float64
}

func (m FixedModel) Predict(contracts.DerivedFeatures) contracts.RiskPrediction {
	return contracts.RiskPrediction{
		RiskScore:   clamp(m.Score),
		ReasonCodes: []string{ReasonBaseline},
		Version:     "fixed-test",
		ModelType:   contracts.ModelTypeStub,
	}
}

func (m FixedModel) Version() string { return "fixed-test" }
func (m FixedModel) Type() string    { return contracts.ModelTypeStub }
