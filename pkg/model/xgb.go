package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// Artifact file names expected inside the model directory.
const (
	fileModel      = "model.json"
	fileCalibrator = "calibrator.json"
	fileScaler     = "scaler.json"
	fileMetadata   = "metadata.json"
)

// metadataFormatConstraint gates which artifact descriptor layouts this
// loader understands.
const metadataFormatConstraint = "^1"

// defaultReasonMargin is the importance threshold above which a feature
// contributes a reason code, unless metadata overrides it.
const defaultReasonMargin = 0.10

// treeNode is one node of a regression tree in the serialized ensemble.
// Leaves carry a value; internal nodes split on feature < threshold.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
}

type tree struct {
	Nodes []treeNode `json:"nodes"`
}

type ensemble struct {
	BaseScore float64 `json:"base_score"`
	Trees     []tree  `json:"trees"`
}

// calibrator maps the raw ensemble margin onto a probability. Platt
// scaling: p = sigmoid(a*margin + b).
type calibrator struct {
	Kind string  `json:"kind"`
	A    float64 `json:"a"`
	B    float64 `json:"b"`
}

// scaler applies standard scaling per feature position.
type scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// metadata describes the artifact: feature ordering, fill defaults,
// importance table, and provenance.
type metadata struct {
	FormatVersion string             `json:"format_version"`
	Version       string             `json:"version"`
	FeatureNames  []string           `json:"feature_names"`
	Defaults      map[string]float64 `json:"defaults"`
	Importances   map[string]float64 `json:"importances"`
	ReasonCodes   map[string]string  `json:"reason_codes"`
	ReasonMargin  float64            `json:"reason_margin"`
	TrainedOn     string             `json:"trained_on"`
}

// XGBModel is the trained gradient-boosted variant. All fields are
// read-only after load, so Predict is safe for concurrent use.
type XGBModel struct {
	ensemble   ensemble
	calibrator calibrator
	scaler     scaler
	meta       metadata

	// reasonFeatures is the importance table filtered by the margin and
	// sorted by descending weight, precomputed at load.
	reasonFeatures []string
}

// LoadXGB reads the four artifacts from dir, verifying presence of each
// before parsing any.
func LoadXGB(dir string) (*XGBModel, error) {
	for _, name := range []string{fileModel, fileCalibrator, fileScaler, fileMetadata} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("model artifact %s: %w", name, err)
		}
	}

	m := &XGBModel{}
	if err := readJSON(filepath.Join(dir, fileModel), &m.ensemble); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, fileCalibrator), &m.calibrator); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, fileScaler), &m.scaler); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, fileMetadata), &m.meta); err != nil {
		return nil, err
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	m.precomputeReasons()
	return m, nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (m *XGBModel) validate() error {
	if len(m.meta.FeatureNames) == 0 {
		return fmt.Errorf("metadata declares no feature_names")
	}
	if len(m.scaler.Mean) != len(m.meta.FeatureNames) || len(m.scaler.Scale) != len(m.meta.FeatureNames) {
		return fmt.Errorf("scaler dimensions %d/%d do not match %d features",
			len(m.scaler.Mean), len(m.scaler.Scale), len(m.meta.FeatureNames))
	}
	if len(m.ensemble.Trees) == 0 {
		return fmt.Errorf("ensemble has no trees")
	}

	ver, err := semver.NewVersion(m.meta.FormatVersion)
	if err != nil {
		return fmt.Errorf("metadata format_version %q: %w", m.meta.FormatVersion, err)
	}
	constraint, err := semver.NewConstraint(metadataFormatConstraint)
	if err != nil {
		return fmt.Errorf("format constraint: %w", err)
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("metadata format_version %s outside supported range %s",
			m.meta.FormatVersion, metadataFormatConstraint)
	}
	return nil
}

func (m *XGBModel) precomputeReasons() {
	margin := m.meta.ReasonMargin
	if margin <= 0 {
		margin = defaultReasonMargin
	}
	for name, weight := range m.meta.Importances {
		if weight >= margin {
			m.reasonFeatures = append(m.reasonFeatures, name)
		}
	}
	sort.Slice(m.reasonFeatures, func(i, j int) bool {
		wi, wj := m.meta.Importances[m.reasonFeatures[i]], m.meta.Importances[m.reasonFeatures[j]]
		if wi != wj {
			return wi > wj
		}
		return m.reasonFeatures[i] < m.reasonFeatures[j]
	})
}

// Predict runs the inference path: ordered vector fill with declared
// defaults, standard scaling, ensemble margin, calibration, clamp.
// Inference is deterministic given the same artifact and input.
func (m *XGBModel) Predict(feats contracts.DerivedFeatures) contracts.RiskPrediction {
	vec := make([]float64, len(m.meta.FeatureNames))
	for i, name := range m.meta.FeatureNames {
		v, ok := feats[name]
		if !ok {
			v = m.meta.Defaults[name]
		}
		scale := m.scaler.Scale[i]
		if scale == 0 {
			scale = 1
		}
		vec[i] = (v - m.scaler.Mean[i]) / scale
	}

	margin := m.ensemble.BaseScore
	for _, t := range m.ensemble.Trees {
		margin += t.eval(vec)
	}

	return contracts.RiskPrediction{
		RiskScore:   clamp(m.calibrator.probability(margin)),
		ReasonCodes: m.reasons(feats),
		Version:     m.meta.Version,
		ModelType:   contracts.ModelTypeXGB,
	}
}

// reasons derives reason codes from the top-weighted features that are
// active in this input; BASELINE when none qualify.
func (m *XGBModel) reasons(feats contracts.DerivedFeatures) []string {
	var codes []string
	for _, name := range m.reasonFeatures {
		if feats[name] > 0 {
			codes = append(codes, m.reasonCode(name))
		}
	}
	if len(codes) == 0 {
		return []string{ReasonBaseline}
	}
	return codes
}

func (m *XGBModel) reasonCode(feature string) string {
	if code, ok := m.meta.ReasonCodes[feature]; ok {
		return code
	}
	return strings.ToUpper(feature)
}

func (m *XGBModel) Version() string { return m.meta.Version }
func (m *XGBModel) Type() string    { return contracts.ModelTypeXGB }

func (t tree) eval(vec []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.Leaf {
			return node.Value
		}
		feat := 0.0
		if node.Feature >= 0 && node.Feature < len(vec) {
			feat = vec[node.Feature]
		}
		if feat < node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
		if i < 0 || i >= len(t.Nodes) {
			return 0 // malformed tree, treat as neutral leaf
		}
	}
}

func (c calibrator) probability(margin float64) float64 {
	switch c.Kind {
	case "platt":
		return sigmoid(c.A*margin + c.B)
	default:
		return sigmoid(margin)
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
