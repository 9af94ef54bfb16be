package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian_tracker/internal/geofence"
	"guardian_tracker/internal/models"
	"guardian_tracker/internal/repository"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("SWEEP_CONCURRENCY", "not-a-number")
	t.Setenv("LOG_STDOUT", "true")
	t.Setenv("SAFE_ZONE_RADIUS", "250")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://staff.example.org, ,https://ops.example.org")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 4, cfg.SweepConcurrency)
	assert.True(t, cfg.LogStdout)
	assert.Equal(t, 250.0, cfg.SafeZone.RadiusMeters)
	assert.Equal(t, 5*time.Minute, cfg.SweepLeaseTTL)
	assert.Equal(t, []string{"https://staff.example.org", "https://ops.example.org"}, cfg.CORSOrigins)
}

func TestDSN(t *testing.T) {
	dsn := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "g", SSLMode: "disable", Timezone: "UTC"}.DSN()
	assert.Equal(t, "host=db user=u password=p dbname=g port=5432 sslmode=disable TimeZone=UTC", dsn)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, time.UTC, Config{CenterTimezone: "Mars/Olympus"}.Location())
	assert.Equal(t, "UTC", Config{CenterTimezone: "UTC"}.Location().String())
}

func TestLoadSafeZone_SeedsEmptyTable(t *testing.T) {
	s := repository.NewMemoryStore()
	seed := SafeZoneSeed{Name: "Main Center", Latitude: "-1.95", Longitude: "30.06", RadiusMeters: 120}

	z, err := LoadSafeZone(context.Background(), s, seed)
	require.NoError(t, err)
	assert.Equal(t, -1.95, z.Center.Lat)
	assert.Equal(t, 120.0, z.RadiusMeters)
	assert.Equal(t, int64(1), z.Version)

	// a second start reuses the stored row
	z2, err := LoadSafeZone(context.Background(), s, SafeZoneSeed{Latitude: "0", Longitude: "0", RadiusMeters: 5})
	require.NoError(t, err)
	assert.Equal(t, z.ID, z2.ID)
	assert.Equal(t, 120.0, z2.RadiusMeters)
}

func TestLoadSafeZone_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := LoadSafeZone(ctx, repository.NewMemoryStore(), SafeZoneSeed{})
	assert.ErrorIs(t, err, geofence.ErrNoSafeZone)

	_, err = LoadSafeZone(ctx, repository.NewMemoryStore(), SafeZoneSeed{Latitude: "north", Longitude: "1", RadiusMeters: 1})
	assert.ErrorIs(t, err, geofence.ErrInvalidSafeZone)

	_, err = LoadSafeZone(ctx, repository.NewMemoryStore(), SafeZoneSeed{Latitude: "1", Longitude: "1", RadiusMeters: 0})
	assert.ErrorIs(t, err, geofence.ErrInvalidSafeZone)

	s := repository.NewMemoryStore()
	require.NoError(t, s.CreateSafeZone(ctx, &models.SafeZone{Latitude: 1, Longitude: 1, SafeRadiusMeters: 10}))
	require.NoError(t, s.CreateSafeZone(ctx, &models.SafeZone{Latitude: 2, Longitude: 2, SafeRadiusMeters: 10}))
	_, err = LoadSafeZone(ctx, s, SafeZoneSeed{})
	assert.ErrorIs(t, err, geofence.ErrMultipleSafeZones)
}
