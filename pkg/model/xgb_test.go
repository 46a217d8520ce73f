package model

import (
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// writeArtifacts lays down a tiny but structurally complete model
// directory: one stump splitting on velocity_24h, identity-ish scaler,
// platt calibrator.
func writeArtifacts(t *testing.T, dir string, meta metadata) {
	t.Helper()

	ens := ensemble{
		BaseScore: -1.0,
		Trees: []tree{{
			Nodes: []treeNode{
				{Feature: 1, Threshold: 0.5, Left: 1, Right: 2},
				{Leaf: true, Value: -0.5},
				{Leaf: true, Value: 2.0},
			},
		}},
	}
	sc := scaler{Mean: []float64{0, 0, 0}, Scale: []float64{1, 1, 1}}
	cal := calibrator{Kind: "platt", A: 1.0, B: 0.0}

	for name, v := range map[string]any{
		fileModel:      ens,
		fileScaler:     sc,
		fileCalibrator: cal,
		fileMetadata:   meta,
	} {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
	}
}

func testMeta() metadata {
	return metadata{
		FormatVersion: "1.2.0",
		Version:       "xgb-2026.01",
		FeatureNames:  []string{"amount", "velocity_24h", "cross_border"},
		Defaults:      map[string]float64{"amount": 0, "velocity_24h": 0, "cross_border": 0},
		Importances:   map[string]float64{"velocity_24h": 0.4, "cross_border": 0.2, "amount": 0.05},
		ReasonCodes:   map[string]string{"velocity_24h": "VELOCITY", "cross_border": "CROSS_BORDER"},
		ReasonMargin:  0.1,
		TrainedOn:     "synthetic-v1",
	}
}

func TestLoadXGBAndPredict(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, testMeta())

	m, err := LoadXGB(dir)
	require.NoError(t, err)
	assert.Equal(t, "xgb-2026.01", m.Version())
	assert.Equal(t, contracts.ModelTypeXGB, m.Type())

	// velocity 3 goes right: margin = -1 + 2 = 1, p = sigmoid(1)
	pred := m.Predict(contracts.DerivedFeatures{"velocity_24h": 3})
	assert.InDelta(t, 1.0/(1.0+math.Exp(-1)), pred.RiskScore, 1e-9)
	assert.Equal(t, []string{"VELOCITY"}, pred.ReasonCodes)

	// velocity 0 goes left: margin = -1.5, low score, no active
	// reason features -> BASELINE
	pred = m.Predict(contracts.DerivedFeatures{})
	assert.Less(t, pred.RiskScore, 0.5)
	assert.Equal(t, []string{ReasonBaseline}, pred.ReasonCodes)
}

func TestXGBDeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, testMeta())

	m1, err := LoadXGB(dir)
	require.NoError(t, err)
	m2, err := LoadXGB(dir)
	require.NoError(t, err)

	feats := contracts.DerivedFeatures{"velocity_24h": 3, "cross_border": 1, "amount": 900}
	assert.Equal(t, m1.Predict(feats), m2.Predict(feats))
}

func TestXGBReasonOrderFollowsImportance(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, testMeta())

	m, err := LoadXGB(dir)
	require.NoError(t, err)

	pred := m.Predict(contracts.DerivedFeatures{"velocity_24h": 3, "cross_border": 1})
	assert.Equal(t, []string{"VELOCITY", "CROSS_BORDER"}, pred.ReasonCodes)
}

func TestLoadXGBMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, testMeta())
	require.NoError(t, os.Remove(filepath.Join(dir, fileCalibrator)))

	_, err := LoadXGB(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fileCalibrator)
}

func TestLoadXGBRejectsUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta()
	meta.FormatVersion = "2.0.0"
	writeArtifacts(t, dir, meta)

	_, err := LoadXGB(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format_version")
}

func TestSelectFallsBackToStub(t *testing.T) {
	m := Select(Selector{UseXGB: true, ModelDir: t.TempDir()}, slog.Default())
	assert.Equal(t, contracts.ModelTypeStub, m.Type())

	m = Select(Selector{UseXGB: false}, nil)
	assert.Equal(t, contracts.ModelTypeStub, m.Type())
}

func TestSelectLoadsTrainedModel(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, testMeta())

	m := Select(Selector{UseXGB: true, ModelDir: dir}, slog.Default())
	assert.Equal(t, contracts.ModelTypeXGB, m.Type())
}
