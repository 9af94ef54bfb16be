package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNoSamples is returned when training is attempted without data.
var ErrNoSamples = errors.New("no training samples")

// Sample is one labeled feature record.
type Sample struct {
	Features Features `json:"features"`
	HighRisk bool     `json:"high_risk"`
}

// TrainOptions controls gradient descent.
type TrainOptions struct {
	Iterations   int
	LearningRate float64
	L2           float64
}

// DefaultTrainOptions are used for zero fields of TrainOptions.
var DefaultTrainOptions = TrainOptions{Iterations: 1000, LearningRate: 0.1, L2: 0.01}

// Metrics summarizes classifier quality on a labeled set.
type Metrics struct {
	Samples   int     `json:"samples"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Train fits a standard scaler and a logistic regression with full-batch
// gradient descent from zero weights. Identical input gives identical output.
func Train(samples []Sample, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultTrainOptions.Iterations
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultTrainOptions.LearningRate
	}
	if opts.L2 < 0 {
		opts.L2 = 0
	}

	n := len(FeatureNames)
	m := len(samples)
	scaler := fitScaler(samples)

	xs := make([][]float64, m)
	ys := make([]float64, m)
	for i, s := range samples {
		xs[i] = scaler.Transform(s.Features.Vector())
		if s.HighRisk {
			ys[i] = 1
		}
	}

	clf := Classifier{Weights: make([]float64, n)}
	grad := make([]float64, n)
	for it := 0; it < opts.Iterations; it++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, x := range xs {
			residual := clf.Probability(x) - ys[i]
			floats.AddScaled(grad, residual, x)
			gradBias += residual
		}
		floats.Scale(1/float64(m), grad)
		floats.AddScaled(grad, opts.L2, clf.Weights)
		floats.AddScaled(clf.Weights, -opts.LearningRate, grad)
		clf.Bias -= opts.LearningRate * gradBias / float64(m)
	}

	return &Model{
		Version:    uuid.NewString(),
		Scaler:     scaler,
		Classifier: clf,
		Trained:    true,
	}, nil
}

func fitScaler(samples []Sample) Scaler {
	n := len(FeatureNames)
	sc := Scaler{
		Features: append([]string(nil), FeatureNames...),
		Mean:     make([]float64, n),
		Scale:    make([]float64, n),
	}
	column := make([]float64, len(samples))
	for j := 0; j < n; j++ {
		for i, s := range samples {
			column[i] = s.Features.Vector()[j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		sc.Mean[j] = mean
		if std == 0 {
			std = 1
		}
		sc.Scale[j] = std
	}
	return sc
}

// Evaluate scores model on samples at a 0.5 threshold. Precision and recall
// are 0 when their denominators are empty; so is F1 when both are 0.
func Evaluate(model *Model, samples []Sample) Metrics {
	met := Metrics{Samples: len(samples)}
	if len(samples) == 0 {
		return met
	}
	var tp, fp, fn, correct float64
	for _, s := range samples {
		predicted := model.Predict(s.Features) >= 0.5
		switch {
		case predicted && s.HighRisk:
			tp++
		case predicted && !s.HighRisk:
			fp++
		case !predicted && s.HighRisk:
			fn++
		}
		if predicted == s.HighRisk {
			correct++
		}
	}
	met.Accuracy = correct / float64(len(samples))
	if tp+fp > 0 {
		met.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		met.Recall = tp / (tp + fn)
	}
	if met.Precision+met.Recall > 0 {
		met.F1 = 2 * met.Precision * met.Recall / (met.Precision + met.Recall)
	}
	return met
}

// Split divides samples into training and held-out sets, keeping order. The
// last testFraction of the samples is held out.
func Split(samples []Sample, testFraction float64) (train, test []Sample) {
	if testFraction <= 0 || len(samples) < 2 {
		return samples, nil
	}
	if testFraction >= 1 {
		return nil, samples
	}
	cut := len(samples) - int(float64(len(samples))*testFraction)
	if cut == len(samples) {
		cut--
	}
	return samples[:cut], samples[cut:]
}

// LoadSamples reads a JSON array of samples.
func LoadSamples(path string) ([]Sample, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	var samples []Sample
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	return samples, nil
}
