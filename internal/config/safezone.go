package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/geofence"
	"guardian_tracker/internal/models"
)

// SafeZoneStore is where the zone row lives.
type SafeZoneStore interface {
	ListSafeZones(ctx context.Context) ([]models.SafeZone, error)
	CreateSafeZone(ctx context.Context, z *models.SafeZone) error
}

// LoadSafeZone resolves the configured zone. An empty table is seeded from
// seed when it has coordinates; otherwise zero or several rows is an error.
func LoadSafeZone(ctx context.Context, store SafeZoneStore, seed SafeZoneSeed) (geofence.SafeZone, error) {
	rows, err := store.ListSafeZones(ctx)
	if err != nil {
		return geofence.SafeZone{}, fmt.Errorf("load safe zone: %w", err)
	}
	if len(rows) == 0 && seed.Latitude != "" && seed.Longitude != "" {
		row, err := seed.model()
		if err != nil {
			return geofence.SafeZone{}, err
		}
		if err := geofence.FromModel(row).Validate(); err != nil {
			return geofence.SafeZone{}, err
		}
		if err := store.CreateSafeZone(ctx, &row); err != nil {
			return geofence.SafeZone{}, fmt.Errorf("seed safe zone: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"name":      row.Name,
			"latitude":  row.Latitude,
			"longitude": row.Longitude,
			"radius_m":  row.SafeRadiusMeters,
		}).Info("Seeded safe zone from environment.")
		rows = []models.SafeZone{row}
	}
	return geofence.FromRows(rows)
}

func (s SafeZoneSeed) model() (models.SafeZone, error) {
	lat, errLat := strconv.ParseFloat(s.Latitude, 64)
	lon, errLon := strconv.ParseFloat(s.Longitude, 64)
	if err := errors.Join(errLat, errLon); err != nil {
		return models.SafeZone{}, fmt.Errorf("%w: SAFE_ZONE_LAT/SAFE_ZONE_LON: %v", geofence.ErrInvalidSafeZone, err)
	}
	return models.SafeZone{
		Name:             s.Name,
		Latitude:         lat,
		Longitude:        lon,
		SafeRadiusMeters: s.RadiusMeters,
		Version:          1,
	}, nil
}
