// Package dashboard builds the per-child overview and pushes it to live
// viewers whenever tracking or risk state changes.
package dashboard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/models"
	"guardian_tracker/internal/repository"
)

// Entry is one row of the dashboard.
type Entry struct {
	ID                uint       `json:"id"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	LastKnownLocation string     `json:"last_known_location"`
	LastUpdate        *time.Time `json:"last_update"`
	RiskScore         *int       `json:"risk_score"`
}

// Update is the payload pushed to live dashboard viewers.
type Update struct {
	Children []Entry `json:"children"`
}

// Store is what the snapshot is read from.
type Store interface {
	ListChildren(ctx context.Context, activeOnly bool) ([]models.Child, error)
	ListCurrentTrackings(ctx context.Context) ([]models.Tracking, error)
	LatestRiskAssessment(ctx context.Context, childID uint) (models.RiskAssessment, error)
}

// Builder assembles dashboard snapshots.
type Builder struct {
	store Store
	log   logrus.FieldLogger
}

func NewBuilder(store Store, log logrus.FieldLogger) *Builder {
	return &Builder{store: store, log: log}
}

// Snapshot returns one entry per active child ordered by id. A child without
// a tracking row shows the initial in_center status with no location or
// update time; a child never scored has a nil risk.
func (b *Builder) Snapshot(ctx context.Context) ([]Entry, error) {
	children, err := b.store.ListChildren(ctx, true)
	if err != nil {
		return nil, err
	}
	trackings, err := b.store.ListCurrentTrackings(ctx)
	if err != nil {
		return nil, err
	}
	current := make(map[uint]models.Tracking, len(trackings))
	for _, t := range trackings {
		current[t.ChildID] = t
	}

	entries := make([]Entry, 0, len(children))
	for _, c := range children {
		e := Entry{ID: c.ID, Name: c.FullName(), Status: models.StatusInCenter}
		if t, ok := current[c.ID]; ok {
			e.Status = t.Status
			e.LastKnownLocation = t.LastKnownLocation
			lu := t.LastUpdate
			e.LastUpdate = &lu
		}
		r, err := b.store.LatestRiskAssessment(ctx, c.ID)
		switch {
		case err == nil:
			score := r.Score
			e.RiskScore = &score
		case !errors.Is(err, repository.ErrNotFound):
			b.log.WithError(err).WithField("child_id", c.ID).Warn("Dashboard: risk score unavailable.")
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Broadcaster is the live fan-out the publisher writes to.
type Broadcaster interface {
	Broadcast(topic string, payload interface{})
}

// Publisher rebuilds and broadcasts the snapshot after changes. Changes that
// arrive while a rebuild is pending are coalesced into it, so a burst of
// reports costs one snapshot and writers never wait on it.
type Publisher struct {
	builder *Builder
	out     Broadcaster
	topic   string
	log     logrus.FieldLogger
	timeout time.Duration

	pending chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPublisher starts the publishing goroutine. Call Close to stop it.
func NewPublisher(builder *Builder, out Broadcaster, topic string, log logrus.FieldLogger) *Publisher {
	p := &Publisher{
		builder: builder,
		out:     out,
		topic:   topic,
		log:     log,
		timeout: 10 * time.Second,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// TrackingChanged schedules a snapshot broadcast.
func (p *Publisher) TrackingChanged(uint) {
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

// Publish builds and broadcasts a snapshot synchronously.
func (p *Publisher) Publish(ctx context.Context) error {
	entries, err := p.builder.Snapshot(ctx)
	if err != nil {
		return err
	}
	p.out.Broadcast(p.topic, Update{Children: entries})
	return nil
}

// Close stops the goroutine. A pending change is published first.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.pending:
			p.publishLogged()
		case <-p.done:
			select {
			case <-p.pending:
				p.publishLogged()
			default:
			}
			return
		}
	}
}

func (p *Publisher) publishLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.Publish(ctx); err != nil {
		p.log.WithError(err).Warn("Dashboard broadcast skipped.")
	}
}
