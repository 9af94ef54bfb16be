// Package tracking owns a child's whereabouts status and moves it on new
// position reports.
//
// Status values are in_center (initial), off_premises, escaped and unknown.
// Geofence evaluation only ever moves a child into escaped. Returning to
// in_center, and entering unknown, happen through an explicit staff override.
// Every status change appends a new Tracking row; the latest row is current.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"guardian_tracker/internal/geo"
	"guardian_tracker/internal/geofence"
	"guardian_tracker/internal/models"
	"guardian_tracker/internal/notify"
	"guardian_tracker/internal/repository"
)

var (
	ErrEntityNotFound     = errors.New("child not found")
	ErrInvalidPosition    = errors.New("invalid position")
	ErrInvalidStatus      = errors.New("invalid tracking status")
	ErrDeviceNotFound     = errors.New("wearable device not found")
	ErrDeviceInactive     = errors.New("wearable device is inactive")
	ErrDeviceUnauthorized = errors.New("wearable device credentials rejected")
)

// Store is the persistence the state machine needs.
type Store interface {
	GetChild(ctx context.Context, id uint) (models.Child, error)
	LatestTracking(ctx context.Context, childID uint) (models.Tracking, error)
	CreateTracking(ctx context.Context, t *models.Tracking) error
	SaveTracking(ctx context.Context, t *models.Tracking) error
	AppendPosition(ctx context.Context, p *models.Position) error
	LastPosition(ctx context.Context, childID uint) (models.Position, error)
	GetWearableByDeviceID(ctx context.Context, deviceID string) (models.WearableDevice, error)
	SaveWearable(ctx context.Context, w *models.WearableDevice) error
}

// AdminNotifier delivers escape alerts to every administrator.
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, msg notify.Message) int
}

// ChangeObserver is told after a child's tracking state was mutated.
type ChangeObserver interface {
	TrackingChanged(childID uint)
}

// Report is a new position for a child.
type Report struct {
	ChildID    uint
	Position   geo.Point
	Timestamp  time.Time // zero means now
	Source     string
	IsUnusual  bool
	ReportedBy *uint
	WearableID *uint
}

// DeviceReport is telemetry from a wearable, identified by its device id.
// A nil Position refreshes device health only.
type DeviceReport struct {
	DeviceID       string
	Secret         string
	Position       *geo.Point
	Timestamp      time.Time
	BatteryLevel   *float64
	SignalStrength *float64
	WasReset       *bool
	Source         string
}

// Override is an explicit staff status change.
type Override struct {
	ChildID uint
	Status  string
	Notes   string
	ActorID *uint
}

// Result describes what a report did.
type Result struct {
	Tracking models.Tracking `json:"tracking"`
	Position models.Position `json:"position"`
	Outside  bool            `json:"outside"`
	// Escaped is true when this report moved the child into escaped.
	Escaped bool `json:"escaped"`
	// Notified is true when this report sent the escape alert.
	Notified bool `json:"notified"`
}

// Machine is the tracking state machine.
type Machine struct {
	store     Store
	evaluator *geofence.Evaluator
	zones     *geofence.Provider
	notifier  AdminNotifier
	observers []ChangeObserver
	locks     *keyedMutex
	log       logrus.FieldLogger
	now       func() time.Time
}

// Option customizes a Machine.
type Option func(*Machine)

// WithObserver registers a change observer.
func WithObserver(o ChangeObserver) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine wires a state machine.
func NewMachine(store Store, evaluator *geofence.Evaluator, zones *geofence.Provider, notifier AdminNotifier, log logrus.FieldLogger, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		evaluator: evaluator,
		zones:     zones,
		notifier:  notifier,
		locks:     newKeyedMutex(),
		log:       log,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Report records a position and applies the geofence transition rule.
func (m *Machine) Report(ctx context.Context, r Report) (Result, error) {
	if !r.Position.InRange() {
		return Result{}, fmt.Errorf("%w: latitude %v longitude %v", ErrInvalidPosition, r.Position.Lat, r.Position.Lon)
	}
	unlock := m.locks.Lock(r.ChildID)
	defer unlock()
	return m.reportLocked(ctx, r)
}

// ReportFromDevice authenticates a wearable, refreshes its telemetry and then
// reports its position, when it sent one, for the owning child.
func (m *Machine) ReportFromDevice(ctx context.Context, r DeviceReport) (Result, error) {
	if r.Position != nil && !r.Position.InRange() {
		return Result{}, fmt.Errorf("%w: latitude %v longitude %v", ErrInvalidPosition, r.Position.Lat, r.Position.Lon)
	}
	dev, err := m.store.GetWearableByDeviceID(ctx, r.DeviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, r.DeviceID)
	}
	if err != nil {
		return Result{}, err
	}
	if !dev.IsActive {
		return Result{}, fmt.Errorf("%w: %s", ErrDeviceInactive, r.DeviceID)
	}
	if dev.SecretHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(dev.SecretHash), []byte(r.Secret)); err != nil {
			return Result{}, fmt.Errorf("%w: %s", ErrDeviceUnauthorized, r.DeviceID)
		}
	}

	unlock := m.locks.Lock(dev.ChildID)
	defer unlock()

	// re-read under the lock so concurrent telemetry for the same child does not race
	dev, err = m.store.GetWearableByDeviceID(ctx, r.DeviceID)
	if err != nil {
		return Result{}, err
	}
	seen := r.Timestamp
	if seen.IsZero() {
		seen = m.now()
	}
	dev.LastSeen = &seen
	if r.BatteryLevel != nil {
		dev.BatteryLevel = *r.BatteryLevel
	}
	if r.SignalStrength != nil {
		dev.SignalStrength = *r.SignalStrength
	}
	if r.WasReset != nil {
		dev.WasReset = *r.WasReset
	}
	if err := m.store.SaveWearable(ctx, &dev); err != nil {
		return Result{}, fmt.Errorf("update wearable %s: %w", r.DeviceID, err)
	}

	if r.Position == nil {
		return m.telemetryOnly(ctx, dev)
	}

	source := r.Source
	if source == "" {
		source = "wearable"
	}
	wearableID := dev.ID
	return m.reportLocked(ctx, Report{
		ChildID:    dev.ChildID,
		Position:   *r.Position,
		Timestamp:  r.Timestamp,
		Source:     source,
		WearableID: &wearableID,
	})
}

// telemetryOnly answers a health-only device report with the child's current
// tracking row. No position is stored and the geofence is not consulted.
func (m *Machine) telemetryOnly(ctx context.Context, dev models.WearableDevice) (Result, error) {
	var res Result
	current, err := m.store.LatestTracking(ctx, dev.ChildID)
	switch {
	case err == nil:
		res.Tracking = current
	case !errors.Is(err, repository.ErrNotFound):
		return Result{}, fmt.Errorf("load tracking: %w", err)
	}
	m.log.WithFields(logrus.Fields{
		"child_id":  dev.ChildID,
		"device_id": dev.DeviceID,
	}).Debug("Wearable health refreshed without a position.")
	return res, nil
}

func (m *Machine) reportLocked(ctx context.Context, r Report) (Result, error) {
	child, err := m.getChild(ctx, r.ChildID)
	if err != nil {
		return Result{}, err
	}
	now := m.now()
	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}

	current, err := m.currentTracking(ctx, child.ID, now)
	if err != nil {
		return Result{}, err
	}

	pos := models.Position{
		ChildID:    child.ID,
		WearableID: r.WearableID,
		Latitude:   r.Position.Lat,
		Longitude:  r.Position.Lon,
		Timestamp:  ts,
		Source:     r.Source,
		IsUnusual:  r.IsUnusual,
	}
	prev, err := m.store.LastPosition(ctx, child.ID)
	switch {
	case err == nil:
		prevPoint := geo.Point{Lat: prev.Latitude, Lon: prev.Longitude}
		pos.DistanceFromLast = geo.DistanceMeters(prevPoint, r.Position)
		pos.SpeedKmh = geo.SpeedKmh(prevPoint, r.Position, ts.Sub(prev.Timestamp).Seconds())
	case !errors.Is(err, repository.ErrNotFound):
		return Result{}, fmt.Errorf("load last position: %w", err)
	}
	if err := m.store.AppendPosition(ctx, &pos); err != nil {
		return Result{}, fmt.Errorf("append position: %w", err)
	}

	current.LastKnownLocation = r.Position.String()
	current.LastSeen = ts
	current.LastUpdate = now
	if err := m.store.SaveTracking(ctx, &current); err != nil {
		return Result{}, fmt.Errorf("update tracking: %w", err)
	}

	zone := m.zones.Current()
	point := r.Position
	res := Result{Position: pos, Outside: m.evaluator.IsOutside(&point, zone)}

	if res.Outside {
		current, res.Escaped, res.Notified, err = m.escalate(ctx, child, current, zone, "Automatically flagged: position outside safe zone")
		if err != nil {
			return Result{}, err
		}
	}
	res.Tracking = current

	m.log.WithFields(logrus.Fields{
		"child_id": child.ID,
		"source":   r.Source,
		"status":   current.Status,
		"outside":  res.Outside,
		"escaped":  res.Escaped,
	}).Info("Position report processed.")

	m.changed(child.ID)
	return res, nil
}

// Evaluate re-checks the stored last known location of a child against the
// current zone. Children already escaped are left alone. It reports whether
// the child was moved into escaped.
func (m *Machine) Evaluate(ctx context.Context, childID uint) (bool, error) {
	unlock := m.locks.Lock(childID)
	defer unlock()

	current, err := m.store.LatestTracking(ctx, childID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current.Status == models.StatusEscaped {
		return false, nil
	}
	zone := m.zones.Current()
	if !m.evaluator.IsOutsideLocation(current.LastKnownLocation, zone) {
		return false, nil
	}
	child, err := m.getChild(ctx, childID)
	if err != nil {
		return false, err
	}
	_, escaped, _, err := m.escalate(ctx, child, current, zone, "Flagged by geofence sweep")
	if err != nil {
		return false, err
	}
	m.changed(childID)
	return escaped, nil
}

// SetStatus records an explicit status change by staff. This is the only way
// back to in_center and the only way into unknown.
func (m *Machine) SetStatus(ctx context.Context, o Override) (models.Tracking, error) {
	if !models.ValidStatus(o.Status) {
		return models.Tracking{}, fmt.Errorf("%w: %q", ErrInvalidStatus, o.Status)
	}
	unlock := m.locks.Lock(o.ChildID)
	defer unlock()

	child, err := m.getChild(ctx, o.ChildID)
	if err != nil {
		return models.Tracking{}, err
	}
	now := m.now()
	row := models.Tracking{
		ChildID:      child.ID,
		Status:       o.Status,
		LastUpdate:   now,
		LastSeen:     now,
		ReportedByID: o.ActorID,
		Notes:        o.Notes,
		ZoneVersion:  m.zones.Current().Version,
	}
	prev, err := m.store.LatestTracking(ctx, child.ID)
	switch {
	case err == nil:
		row.LastKnownLocation = prev.LastKnownLocation
		row.LastSeen = prev.LastSeen
	case !errors.Is(err, repository.ErrNotFound):
		return models.Tracking{}, err
	}
	if err := m.store.CreateTracking(ctx, &row); err != nil {
		return models.Tracking{}, fmt.Errorf("record status change: %w", err)
	}

	entry := m.log.WithFields(logrus.Fields{
		"child_id": child.ID,
		"status":   o.Status,
	})
	if o.ActorID != nil {
		entry = entry.WithField("actor_id", *o.ActorID)
	}
	entry.Info("Tracking status overridden by staff.")

	m.changed(child.ID)
	return row, nil
}

// escalate moves current into escaped when needed and sends the escape alert
// at most once per escaped episode.
func (m *Machine) escalate(ctx context.Context, child models.Child, current models.Tracking, zone geofence.SafeZone, note string) (models.Tracking, bool, bool, error) {
	var escaped bool
	if current.Status != models.StatusEscaped {
		now := m.now()
		row := models.Tracking{
			ChildID:           child.ID,
			Status:            models.StatusEscaped,
			LastKnownLocation: current.LastKnownLocation,
			LastSeen:          current.LastSeen,
			LastUpdate:        now,
			Notes:             note,
			ZoneVersion:       zone.Version,
		}
		if err := m.store.CreateTracking(ctx, &row); err != nil {
			return current, false, false, fmt.Errorf("record escape: %w", err)
		}
		current = row
		escaped = true
		m.log.WithFields(logrus.Fields{
			"child_id":     child.ID,
			"location":     current.LastKnownLocation,
			"zone_version": zone.Version,
		}).Warn("Child flagged as escaped.")
	}

	if current.EscapeNotifiedAt != nil {
		return current, escaped, false, nil
	}

	n := m.notifier.NotifyAdmins(ctx, notify.Message{
		Subject: "Child Escape Alert",
		Body: fmt.Sprintf("%s has left the safe zone. Last known location: %s",
			child.FullName(), current.LastKnownLocation),
		Email: true,
		Push:  true,
		Data: map[string]string{
			"type":     "escape",
			"child_id": strconv.FormatUint(uint64(child.ID), 10),
			"location": current.LastKnownLocation,
		},
	})
	notifiedAt := m.now()
	current.EscapeNotifiedAt = &notifiedAt
	if err := m.store.SaveTracking(ctx, &current); err != nil {
		// the alert already went out; failing to persist the flag only risks a repeat
		m.log.WithError(err).WithField("child_id", child.ID).Error("Failed to persist escape notification flag.")
	}
	m.log.WithFields(logrus.Fields{"child_id": child.ID, "admins": n}).Info("Escape alert dispatched.")
	return current, escaped, true, nil
}

// currentTracking loads the latest row, creating the initial in_center row
// for a child that has none.
func (m *Machine) currentTracking(ctx context.Context, childID uint, now time.Time) (models.Tracking, error) {
	t, err := m.store.LatestTracking(ctx, childID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return models.Tracking{}, fmt.Errorf("load tracking: %w", err)
	}
	t = models.Tracking{
		ChildID:     childID,
		Status:      models.StatusInCenter,
		LastUpdate:  now,
		ZoneVersion: m.zones.Current().Version,
	}
	if err := m.store.CreateTracking(ctx, &t); err != nil {
		return models.Tracking{}, fmt.Errorf("create tracking: %w", err)
	}
	return t, nil
}

func (m *Machine) getChild(ctx context.Context, id uint) (models.Child, error) {
	c, err := m.store.GetChild(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Child{}, fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	return c, err
}

func (m *Machine) changed(childID uint) {
	for _, o := range m.observers {
		o.TrackingChanged(childID)
	}
}
