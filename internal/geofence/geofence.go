// Package geofence decides whether a tracked position lies outside the center's safe zone.
//
// Evaluation follows the fail-safe-false rule: when the position is missing or
// malformed the evaluator answers "not outside" so that bad data never raises an
// escape alarm, and it records that decision in the log for audit.
package geofence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/geo"
	"guardian_tracker/internal/models"
)

var (
	// ErrNoSafeZone is returned when no safe zone has been configured.
	ErrNoSafeZone = errors.New("no safe zone configured")
	// ErrMultipleSafeZones is returned when more than one safe zone row exists.
	ErrMultipleSafeZones = errors.New("more than one safe zone configured")
	// ErrInvalidSafeZone is returned for a zone with a bad center or radius.
	ErrInvalidSafeZone = errors.New("invalid safe zone")
)

// SafeZone is the circular region tracked children are expected to stay within.
type SafeZone struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Center       geo.Point `json:"center"`
	RadiusMeters float64   `json:"safe_radius_meters"`
	Version      int64     `json:"version"`
}

// Validate checks the zone center and radius.
func (z SafeZone) Validate() error {
	if !z.Center.InRange() {
		return fmt.Errorf("%w: center %v out of range", ErrInvalidSafeZone, z.Center)
	}
	if z.RadiusMeters <= 0 {
		return fmt.Errorf("%w: radius must be positive", ErrInvalidSafeZone)
	}
	return nil
}

// FromModel converts the persisted configuration row.
func FromModel(m models.SafeZone) SafeZone {
	return SafeZone{
		ID:           m.ID,
		Name:         m.Name,
		Center:       geo.Point{Lat: m.Latitude, Lon: m.Longitude},
		RadiusMeters: m.SafeRadiusMeters,
		Version:      m.Version,
	}
}

// FromRows resolves the single active zone. Zero or several rows is a
// configuration error rather than an implicit "first row wins".
func FromRows(rows []models.SafeZone) (SafeZone, error) {
	switch len(rows) {
	case 0:
		return SafeZone{}, ErrNoSafeZone
	case 1:
		z := FromModel(rows[0])
		if err := z.Validate(); err != nil {
			return SafeZone{}, err
		}
		return z, nil
	default:
		return SafeZone{}, fmt.Errorf("%w: found %d rows", ErrMultipleSafeZones, len(rows))
	}
}

// Provider holds the active zone and hands out immutable copies of it.
type Provider struct {
	mu   sync.RWMutex
	zone SafeZone
}

// NewProvider creates a provider seeded with an already validated zone.
func NewProvider(zone SafeZone) *Provider {
	return &Provider{zone: zone}
}

// Current returns the active zone.
func (p *Provider) Current() SafeZone {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.zone
}

// Replace swaps in a new zone. The version is bumped past the current one so
// evaluations can be attributed to the configuration they used.
func (p *Provider) Replace(zone SafeZone) (SafeZone, error) {
	if err := zone.Validate(); err != nil {
		return SafeZone{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if zone.Version <= p.zone.Version {
		zone.Version = p.zone.Version + 1
	}
	p.zone = zone
	return zone, nil
}

// Evaluator answers geofence questions for a zone.
type Evaluator struct {
	log logrus.FieldLogger
}

// NewEvaluator creates an evaluator that writes fail-safe decisions to log.
func NewEvaluator(log logrus.FieldLogger) *Evaluator {
	return &Evaluator{log: log}
}

// IsOutside reports whether pos lies strictly farther than the zone radius
// from the zone center. An absent or non-finite position is never outside.
func (e *Evaluator) IsOutside(pos *geo.Point, zone SafeZone) bool {
	if pos == nil {
		e.failSafe(zone, "no last known position", "")
		return false
	}
	if !pos.Finite() {
		e.failSafe(zone, "non-finite coordinates", pos.String())
		return false
	}
	return geo.DistanceMeters(*pos, zone.Center) > zone.RadiusMeters
}

// IsOutsideLocation evaluates a stored "lat,lon" location string.
func (e *Evaluator) IsOutsideLocation(location string, zone SafeZone) bool {
	if location == "" {
		e.failSafe(zone, "no last known position", "")
		return false
	}
	p, err := geo.ParseLatLon(location)
	if err != nil {
		e.failSafe(zone, err.Error(), location)
		return false
	}
	return e.IsOutside(&p, zone)
}

func (e *Evaluator) failSafe(zone SafeZone, reason, raw string) {
	if e.log == nil {
		return
	}
	e.log.WithFields(logrus.Fields{
		"policy":       "fail-safe-false",
		"reason":       reason,
		"raw_location": raw,
		"zone_version": zone.Version,
	}).Warn("Geofence could not be evaluated; treating position as inside the safe zone.")
}
