package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/geo"
	"guardian_tracker/internal/tracking"
)

// Telemetry is the JSON a wearable publishes.
type Telemetry struct {
	DeviceID       string    `json:"device_id"`
	Secret         string    `json:"secret"`
	Latitude       *float64  `json:"latitude"`
	Longitude      *float64  `json:"longitude"`
	BatteryLevel   *float64  `json:"battery_level"`
	SignalStrength *float64  `json:"signal_strength"`
	WasReset       *bool     `json:"was_reset"`
	Timestamp      time.Time `json:"timestamp"` // handled by UnmarshalJSON
}

// UnmarshalJSON accepts RFC3339 timestamps with or without a zone suffix;
// a missing suffix is read as UTC. An absent timestamp stays zero.
func (t *Telemetry) UnmarshalJSON(data []byte) error {
	type alias Telemetry
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*alias
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timestamp == "" {
		t.Timestamp = time.Time{}
		return nil
	}

	ts := aux.Timestamp
	if !hasZone(ts) {
		ts += "Z"
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"raw_timestamp": aux.Timestamp,
			"parsed_string": ts,
			"parse_error":   err,
		}).Warn("Telemetry timestamp could not be parsed.")
		return fmt.Errorf("invalid timestamp %q: %w", aux.Timestamp, err)
	}
	t.Timestamp = parsed
	return nil
}

// Point returns the reported position, or nil for a payload that only
// carries device health. Sending one coordinate without the other is an error.
func (t Telemetry) Point() (*geo.Point, error) {
	switch {
	case t.Latitude == nil && t.Longitude == nil:
		return nil, nil
	case t.Latitude == nil || t.Longitude == nil:
		return nil, fmt.Errorf("%w: latitude and longitude must be sent together", tracking.ErrInvalidPosition)
	}
	p := geo.Point{Lat: *t.Latitude, Lon: *t.Longitude}
	if !p.InRange() {
		return nil, fmt.Errorf("%w: latitude %v longitude %v", tracking.ErrInvalidPosition, p.Lat, p.Lon)
	}
	return &p, nil
}

func hasZone(ts string) bool {
	if strings.HasSuffix(ts, "Z") || strings.HasSuffix(ts, "z") {
		return true
	}
	// an offset looks like +03:00 or -05:00 at the very end
	if len(ts) < 6 {
		return false
	}
	return strings.ContainsAny(ts[len(ts)-6:len(ts)-5], "+-")
}
