// Package risk derives a 0-100 risk score per child from a fixed feature
// record fed through a swappable scaler and logistic classifier.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/anomaly"
	"guardian_tracker/internal/models"
	"guardian_tracker/internal/repository"
)

// ErrEntityNotFound is returned by Score for an unknown child.
var ErrEntityNotFound = errors.New("child not found")

// Store is the history the scorer reads and where assessments are written.
type Store interface {
	GetChild(ctx context.Context, id uint) (models.Child, error)
	CountIncidents(ctx context.Context, childID uint) (int64, error)
	PositionsSince(ctx context.Context, childID uint, since time.Time) ([]models.Position, error)
	ActivitiesSince(ctx context.Context, childID uint, since time.Time) ([]models.Activity, error)
	ListWearablesForChild(ctx context.Context, childID uint) ([]models.WearableDevice, error)
	NotesSince(ctx context.Context, childID uint, since time.Time) ([]models.Note, error)
	CreateRiskAssessment(ctx context.Context, r *models.RiskAssessment) error
}

// ChangeObserver is told after a new assessment was stored.
type ChangeObserver interface {
	TrackingChanged(childID uint)
}

// Scorer produces risk assessments.
type Scorer struct {
	store     Store
	sentiment anomaly.SentimentScorer
	observers []ChangeObserver
	log       logrus.FieldLogger
	now       func() time.Time

	mu    sync.RWMutex
	model *Model
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithSentiment plugs in the note sentiment scorer.
func WithSentiment(s anomaly.SentimentScorer) Option { return func(sc *Scorer) { sc.sentiment = s } }

// WithObserver registers an assessment observer.
func WithObserver(o ChangeObserver) Option {
	return func(sc *Scorer) { sc.observers = append(sc.observers, o) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(sc *Scorer) { sc.now = now } }

// NewScorer creates a scorer. A nil model means DefaultModel.
func NewScorer(store Store, model *Model, log logrus.FieldLogger, opts ...Option) *Scorer {
	if model == nil {
		model = DefaultModel()
	}
	s := &Scorer{store: store, model: model, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetModel swaps the active model.
func (s *Scorer) SetModel(m *Model) {
	if m == nil {
		m = DefaultModel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
}

// Model returns the active model.
func (s *Scorer) Model() *Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Score extracts features, scores them and stores a new assessment.
func (s *Scorer) Score(ctx context.Context, childID uint) (models.RiskAssessment, error) {
	if _, err := s.store.GetChild(ctx, childID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.RiskAssessment{}, fmt.Errorf("%w: %d", ErrEntityNotFound, childID)
		}
		return models.RiskAssessment{}, err
	}

	model := s.Model()
	features := s.ExtractFeatures(ctx, childID)
	assessment := models.RiskAssessment{
		ChildID:       childID,
		Score:         ScoreFromProbability(model.Predict(features)),
		Factors:       RiskFactors(features),
		LowConfidence: !model.Trained,
		ModelVersion:  model.Version,
		Timestamp:     s.now(),
	}
	if err := s.store.CreateRiskAssessment(ctx, &assessment); err != nil {
		return models.RiskAssessment{}, fmt.Errorf("store risk assessment: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"child_id":       childID,
		"score":          assessment.Score,
		"low_confidence": assessment.LowConfidence,
		"model_version":  assessment.ModelVersion,
	}).Info("Risk assessment recorded.")

	for _, o := range s.observers {
		o.TrackingChanged(childID)
	}
	return assessment, nil
}

// ScoreFromProbability scales p by 100 and truncates into [0,100].
func ScoreFromProbability(p float64) int {
	score := int(p * 100)
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}
