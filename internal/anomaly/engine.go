// Package anomaly runs the fixed set of behavioral detectors over a child's
// recent history and records what they find.
//
// Detectors are independent. Each one swallows its own failures (logged, empty
// result) so a broken data source never aborts the rest of the pass.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/broadcast"
	"guardian_tracker/internal/models"
	"guardian_tracker/internal/notify"
	"guardian_tracker/internal/repository"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"

	CategoryLocation = "location"
	CategoryActivity = "activity"
	CategoryDevice   = "device"
	CategoryNote     = "note"
)

// ErrEntityNotFound is returned by Run for an unknown child.
var ErrEntityNotFound = errors.New("child not found")

// Finding is one detector output.
type Finding struct {
	Category    string    `json:"type"`
	Rule        string    `json:"rule"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alert is the payload broadcast on the anomalies topic.
type Alert struct {
	ID          uint      `json:"id"`
	ChildID     uint      `json:"child_id"`
	Child       string    `json:"child"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store is the history the detectors read and where findings are written.
type Store interface {
	GetChild(ctx context.Context, id uint) (models.Child, error)
	PositionsSince(ctx context.Context, childID uint, since time.Time) ([]models.Position, error)
	ActivitiesSince(ctx context.Context, childID uint, since time.Time) ([]models.Activity, error)
	RecentActivities(ctx context.Context, childID uint, since time.Time, limit int) ([]models.Activity, error)
	ListWearablesForChild(ctx context.Context, childID uint) ([]models.WearableDevice, error)
	NotesSince(ctx context.Context, childID uint, since time.Time) ([]models.Note, error)
	CountTrackingsWithStatus(ctx context.Context, childID uint, status string, since time.Time) (int64, error)
	LatestTracking(ctx context.Context, childID uint) (models.Tracking, error)
	CreateAnomaly(ctx context.Context, a *models.Anomaly) error
	MarkAnomalyChecked(ctx context.Context, childID uint, at time.Time) error
}

// Alerter receives high severity findings.
type Alerter interface {
	NotifyAdmins(ctx context.Context, msg notify.Message) int
	Broadcast(topic string, payload interface{})
}

type detector struct {
	name string
	run  func(ctx context.Context, childID uint, now time.Time) ([]Finding, error)
}

// Engine runs detectors and persists their findings.
type Engine struct {
	store     Store
	alerter   Alerter
	sentiment SentimentScorer
	loc       *time.Location
	log       logrus.FieldLogger
	now       func() time.Time
	detectors []detector
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSentiment plugs in a note sentiment scorer. Without one, notes lacking a
// stored score produce no sentiment finding.
func WithSentiment(s SentimentScorer) Option { return func(e *Engine) { e.sentiment = s } }

// WithLocation sets the time zone used by the night movement rule.
func WithLocation(loc *time.Location) Option { return func(e *Engine) { e.loc = loc } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine wires a rule engine.
func NewEngine(store Store, alerter Alerter, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		alerter: alerter,
		loc:     time.UTC,
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.detectors = []detector{
		{"location", e.detectLocation},
		{"activity", e.detectActivity},
		{"device", e.detectDevice},
		{"note", e.detectNotes},
		{"night_movement", e.detectNightMovement},
		{"tampering", e.detectTampering},
		{"missed_streak", e.detectMissedStreak},
		{"escape_repetition", e.detectEscapeRepetition},
		{"stale_tracking", e.detectStaleTracking},
	}
	return e
}

// Detect runs every detector for a child and concatenates their findings in
// a fixed order. It never fails; broken detectors contribute nothing.
func (e *Engine) Detect(ctx context.Context, childID uint) []Finding {
	now := e.now()
	var all []Finding
	for _, d := range e.detectors {
		all = append(all, e.safeRun(ctx, d, childID, now)...)
	}
	return all
}

func (e *Engine) safeRun(ctx context.Context, d detector, childID uint, now time.Time) (out []Finding) {
	entry := e.log.WithFields(logrus.Fields{"child_id": childID, "rule": d.name})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("Anomaly detector panicked; skipping.")
			out = nil
		}
	}()
	findings, err := d.run(ctx, childID, now)
	if err != nil {
		entry.WithError(err).Warn("Anomaly detector failed; skipping.")
		return nil
	}
	return findings
}

// Run detects, persists every finding, marks the child as checked and alerts
// on high severity findings. Persistence failures are logged per finding.
func (e *Engine) Run(ctx context.Context, childID uint) ([]Finding, error) {
	child, err := e.store.GetChild(ctx, childID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrEntityNotFound, childID)
	}
	if err != nil {
		return nil, err
	}

	findings := e.Detect(ctx, childID)
	saved := make([]models.Anomaly, 0, len(findings))
	for _, f := range findings {
		row := models.Anomaly{
			ChildID:     childID,
			AnomalyType: f.Category,
			Rule:        f.Rule,
			Description: f.Description,
			Severity:    f.Severity,
			Timestamp:   f.Timestamp,
		}
		if err := e.store.CreateAnomaly(ctx, &row); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{"child_id": childID, "rule": f.Rule}).Error("Failed to persist anomaly finding.")
		}
		saved = append(saved, row)
	}

	if err := e.store.MarkAnomalyChecked(ctx, childID, e.now()); err != nil {
		e.log.WithError(err).WithField("child_id", childID).Warn("Failed to record anomaly check time.")
	}

	for _, row := range saved {
		if row.Severity != SeverityHigh {
			continue
		}
		e.alert(ctx, child, row)
	}

	e.log.WithFields(logrus.Fields{"child_id": childID, "findings": len(findings)}).Info("Anomaly detection completed.")
	return findings, nil
}

func (e *Engine) alert(ctx context.Context, child models.Child, row models.Anomaly) {
	if e.alerter == nil {
		return
	}
	e.alerter.NotifyAdmins(ctx, notify.Message{
		Subject: "High Severity Anomaly Detected",
		Body: fmt.Sprintf("High severity %s anomaly detected for %s: %s",
			row.AnomalyType, child.FullName(), row.Description),
		Email: true,
		Data: map[string]string{
			"type":     "anomaly",
			"child_id": strconv.FormatUint(uint64(child.ID), 10),
		},
	})
	e.alerter.Broadcast(broadcast.TopicAnomalies, Alert{
		ID:          row.ID,
		ChildID:     child.ID,
		Child:       child.FullName(),
		Type:        row.AnomalyType,
		Description: row.Description,
		Severity:    row.Severity,
		Timestamp:   row.Timestamp,
	})
}
