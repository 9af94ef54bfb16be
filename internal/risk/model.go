package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
)

// ErrFeatureMismatch is returned when an artifact does not match FeatureNames.
var ErrFeatureMismatch = errors.New("artifact feature count does not match")

// Scaler standardizes a feature vector: (x - mean) / scale.
type Scaler struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// IdentityScaler leaves vectors unchanged.
func IdentityScaler() Scaler {
	n := len(FeatureNames)
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}
	return Scaler{Features: append([]string(nil), FeatureNames...), Mean: make([]float64, n), Scale: scale}
}

// Transform returns a scaled copy of x.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	floats.Sub(out, s.Mean)
	floats.Div(out, s.Scale)
	return out
}

// Classifier is a binary logistic regression.
type Classifier struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Probability returns P(high risk | scaled x).
func (c Classifier) Probability(scaled []float64) float64 {
	return sigmoid(floats.Dot(c.Weights, scaled) + c.Bias)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Model pairs a scaler with a classifier.
type Model struct {
	Version    string
	Scaler     Scaler
	Classifier Classifier
	// Trained is false for the fallback model; its assessments are low confidence.
	Trained bool
}

// DefaultModel is the deterministic untrained fallback: identity scaling and
// zero weights, so every child scores 50.
func DefaultModel() *Model {
	return &Model{
		Version:    "untrained",
		Scaler:     IdentityScaler(),
		Classifier: Classifier{Weights: make([]float64, len(FeatureNames))},
	}
}

// Predict returns the positive-class probability for a feature record.
func (m *Model) Predict(f Features) float64 {
	p := m.Classifier.Probability(m.Scaler.Transform(f.Vector()))
	if math.IsNaN(p) {
		return 0.5
	}
	return p
}

type classifierArtifact struct {
	Version  string    `json:"version"`
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
}

// SaveArtifacts writes the classifier and scaler as two JSON files.
func SaveArtifacts(m *Model, modelPath, scalerPath string) error {
	clf, err := json.MarshalIndent(classifierArtifact{
		Version:  m.Version,
		Features: FeatureNames,
		Weights:  m.Classifier.Weights,
		Bias:     m.Classifier.Bias,
	}, "", "  ")
	if err != nil {
		return err
	}
	for _, p := range []string{modelPath, scalerPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create artifact directory: %w", err)
		}
	}
	if err := os.WriteFile(modelPath, clf, 0o644); err != nil {
		return fmt.Errorf("write model artifact: %w", err)
	}
	sc, err := json.MarshalIndent(m.Scaler, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(scalerPath, sc, 0o644); err != nil {
		return fmt.Errorf("write scaler artifact: %w", err)
	}
	return nil
}

// LoadArtifacts reads a model written by SaveArtifacts.
func LoadArtifacts(modelPath, scalerPath string) (*Model, error) {
	raw, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var clf classifierArtifact
	if err := json.Unmarshal(raw, &clf); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	raw, err = os.ReadFile(scalerPath)
	if err != nil {
		return nil, fmt.Errorf("read scaler artifact: %w", err)
	}
	var sc Scaler
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode scaler artifact: %w", err)
	}

	n := len(FeatureNames)
	if len(clf.Weights) != n || len(sc.Mean) != n || len(sc.Scale) != n {
		return nil, fmt.Errorf("%w: want %d", ErrFeatureMismatch, n)
	}
	for i, v := range sc.Scale {
		if v == 0 {
			sc.Scale[i] = 1
		}
	}
	version := clf.Version
	if version == "" {
		version = "unversioned"
	}
	return &Model{
		Version:    version,
		Scaler:     sc,
		Classifier: Classifier{Weights: clf.Weights, Bias: clf.Bias},
		Trained:    true,
	}, nil
}

// LoadOrDefault loads the artifacts, falling back to DefaultModel on any error.
// The returned error is the load failure, for logging.
func LoadOrDefault(modelPath, scalerPath string) (*Model, error) {
	if modelPath == "" || scalerPath == "" {
		return DefaultModel(), errors.New("model artifact paths not configured")
	}
	m, err := LoadArtifacts(modelPath, scalerPath)
	if err != nil {
		return DefaultModel(), err
	}
	return m, nil
}
