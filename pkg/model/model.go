// Package model implements the polymorphic risk model: a deterministic
// stub and a gradient-boosted classifier loaded from disk artifacts.
// Predict never fails; every error path degrades to a stub-shaped
// prediction carrying the MODEL_ERROR reason code.
package model

import (
	"log/slog"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// Reason codes emitted by the model variants.
const (
	ReasonBaseline    = "BASELINE"
	ReasonDummyMCC    = "DUMMY_MCC"
	ReasonVelocity    = "VELOCITY"
	ReasonCrossBorder = "CROSS_BORDER"
	ReasonModelError  = "MODEL_ERROR"
)

// RiskModel scores a derived feature map. Implementations must be
// idempotent and safe for concurrent use; artifacts are read-only after
// load.
type RiskModel interface {
	Predict(feats contracts.DerivedFeatures) contracts.RiskPrediction
	Version() string
	Type() string
}

// Selector is the subset of configuration the model factory needs.
type Selector struct {
	UseXGB   bool
	ModelDir string
}

// Select binds a model variant at startup. A requested trained model
// that fails to load falls back to the stub with a warning; the engine
// keeps serving either way.
func Select(sel Selector, logger *slog.Logger) RiskModel {
	if logger == nil {
		logger = slog.Default()
	}
	if !sel.UseXGB {
		return NewStub()
	}
	m, err := LoadXGB(sel.ModelDir)
	if err != nil {
		logger.Warn("trained model unavailable, falling back to stub",
			"model_dir", sel.ModelDir, "error", err)
		return NewStub()
	}
	logger.Info("trained risk model loaded",
		"model_dir", sel.ModelDir, "version", m.Version())
	return m
}

// clamp bounds a score to [0,1].
func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
