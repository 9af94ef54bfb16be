// Package sweep runs the batch passes over all children: the geofence
// re-check, anomaly detection and risk scoring.
//
// A pass works child by child under a per-child lease. It stops taking new
// children once its context is cancelled; whatever finished stays finished.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"guardian_tracker/internal/anomaly"
	"guardian_tracker/internal/models"
)

const (
	KindEscapes   = "escapes"
	KindAnomalies = "anomalies"
	KindRisk      = "risk"
)

// Store lists the children a pass visits.
type Store interface {
	ListChildren(ctx context.Context, activeOnly bool) ([]models.Child, error)
}

type EscapeEvaluator interface {
	Evaluate(ctx context.Context, childID uint) (bool, error)
}

type AnomalyRunner interface {
	Run(ctx context.Context, childID uint) ([]anomaly.Finding, error)
}

type RiskScorer interface {
	Score(ctx context.Context, childID uint) (models.RiskAssessment, error)
}

// Summary reports the outcome of one pass.
type Summary struct {
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Escalated   int       `json:"escalated,omitempty"`
	Findings    int       `json:"findings,omitempty"`
	Interrupted bool      `json:"interrupted"`
}

// Runner executes passes.
type Runner struct {
	store     Store
	escapes   EscapeEvaluator
	anomalies AnomalyRunner
	risk      RiskScorer
	locker    Locker
	log       logrus.FieldLogger

	concurrency int
	leaseTTL    time.Duration
	skipWindow  time.Duration
	now         func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithConcurrency bounds how many children are processed at once.
func WithConcurrency(n int) Option { return func(r *Runner) { r.concurrency = n } }

// WithLeaseTTL sets how long a per-child lease lives if never released.
func WithLeaseTTL(d time.Duration) Option { return func(r *Runner) { r.leaseTTL = d } }

// WithSkipWindow sets how recently checked children an unforced anomaly pass skips.
func WithSkipWindow(d time.Duration) Option { return func(r *Runner) { r.skipWindow = d } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// NewRunner wires a runner. A nil locker means a LocalLocker.
func NewRunner(store Store, escapes EscapeEvaluator, anomalies AnomalyRunner, risk RiskScorer, locker Locker, log logrus.FieldLogger, opts ...Option) *Runner {
	if locker == nil {
		locker = NewLocalLocker()
	}
	r := &Runner{
		store:       store,
		escapes:     escapes,
		anomalies:   anomalies,
		risk:        risk,
		locker:      locker,
		log:         log,
		concurrency: 4,
		leaseTTL:    5 * time.Minute,
		skipWindow:  time.Hour,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// outcome is what a per-child step reports back to the pass.
type outcome struct {
	skipped   bool
	escalated bool
	findings  int
}

// RunEscapes re-checks every non-escaped child against the current safe zone.
func (r *Runner) RunEscapes(ctx context.Context) (Summary, error) {
	return r.run(ctx, KindEscapes, func(ctx context.Context, c models.Child) (outcome, error) {
		escaped, err := r.escapes.Evaluate(ctx, c.ID)
		return outcome{escalated: escaped}, err
	})
}

// RunAnomalies runs the detectors for every active child. Unless force is
// set, children checked within the skip window are left out.
func (r *Runner) RunAnomalies(ctx context.Context, force bool) (Summary, error) {
	return r.run(ctx, KindAnomalies, func(ctx context.Context, c models.Child) (outcome, error) {
		if !force && c.LastAnomalyCheck != nil && r.now().Sub(*c.LastAnomalyCheck) < r.skipWindow {
			return outcome{skipped: true}, nil
		}
		findings, err := r.anomalies.Run(ctx, c.ID)
		return outcome{findings: len(findings)}, err
	})
}

// RunRisk scores every active child.
func (r *Runner) RunRisk(ctx context.Context) (Summary, error) {
	return r.run(ctx, KindRisk, func(ctx context.Context, c models.Child) (outcome, error) {
		_, err := r.risk.Score(ctx, c.ID)
		return outcome{}, err
	})
}

func (r *Runner) run(ctx context.Context, kind string, step func(context.Context, models.Child) (outcome, error)) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Kind: kind, Started: r.now()}
	entry := r.log.WithFields(logrus.Fields{"sweep_id": sum.RunID, "sweep": kind})

	children, err := r.store.ListChildren(ctx, true)
	if err != nil {
		return sum, fmt.Errorf("list children: %w", err)
	}
	entry.WithField("children", len(children)).Info("Sweep started.")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for _, c := range children {
		if ctx.Err() != nil {
			mu.Lock()
			sum.Interrupted = true
			mu.Unlock()
			break
		}
		c := c
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				sum.Interrupted = true
				mu.Unlock()
				return nil
			}
			out, err := r.one(ctx, kind, c, step)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				sum.Failed++
				entry.WithError(err).WithField("child_id", c.ID).Warn("Sweep step failed.")
			case out.skipped:
				sum.Skipped++
			default:
				sum.Processed++
				if out.escalated {
					sum.Escalated++
				}
				sum.Findings += out.findings
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Finished = r.now()
	entry.WithFields(logrus.Fields{
		"processed":   sum.Processed,
		"skipped":     sum.Skipped,
		"failed":      sum.Failed,
		"escalated":   sum.Escalated,
		"findings":    sum.Findings,
		"interrupted": sum.Interrupted,
	}).Info("Sweep finished.")
	return sum, nil
}

func (r *Runner) one(ctx context.Context, kind string, c models.Child, step func(context.Context, models.Child) (outcome, error)) (outcome, error) {
	release, ok, err := r.locker.Acquire(ctx, fmt.Sprintf("%s:%d", kind, c.ID), r.leaseTTL)
	if err != nil {
		return outcome{}, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return outcome{skipped: true}, nil
	}
	defer release()
	return step(ctx, c)
}
