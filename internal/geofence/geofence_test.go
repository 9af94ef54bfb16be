package geofence

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian_tracker/internal/geo"
	"guardian_tracker/internal/models"
)

func equatorZone() SafeZone {
	return SafeZone{Name: "Test", Center: geo.Point{Lat: 0, Lon: 0}, RadiusMeters: 100000, Version: 1}
}

func TestIsOutside(t *testing.T) {
	log, _ := test.NewNullLogger()
	e := NewEvaluator(log)
	zone := equatorZone()

	assert.True(t, e.IsOutside(&geo.Point{Lat: 0, Lon: 1}, zone))
	assert.False(t, e.IsOutside(&geo.Point{Lat: 0, Lon: 0.0005}, zone))
	assert.False(t, e.IsOutside(&geo.Point{Lat: 0, Lon: 0}, zone))
}

func TestIsOutside_BoundaryIsInside(t *testing.T) {
	e := NewEvaluator(nil)
	p := geo.Point{Lat: 0, Lon: 0.5}
	zone := SafeZone{Center: geo.Point{}, RadiusMeters: geo.DistanceMeters(p, geo.Point{})}

	assert.False(t, e.IsOutside(&p, zone))
}

func TestIsOutside_MissingPositionFailsSafe(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := NewEvaluator(log)

	assert.False(t, e.IsOutside(nil, equatorZone()))

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "fail-safe-false", entry.Data["policy"])
	assert.Equal(t, int64(1), entry.Data["zone_version"])
}

func TestIsOutside_NonFiniteFailsSafe(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := NewEvaluator(log)

	assert.False(t, e.IsOutside(&geo.Point{Lat: math.NaN(), Lon: 1}, equatorZone()))
	assert.False(t, e.IsOutside(&geo.Point{Lat: 0, Lon: math.Inf(1)}, equatorZone()))
	assert.Len(t, hook.Entries, 2)
}

func TestIsOutsideLocation(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := NewEvaluator(log)
	zone := equatorZone()

	assert.True(t, e.IsOutsideLocation("0,1", zone))
	assert.False(t, e.IsOutsideLocation("0,0.0005", zone))
	assert.Empty(t, hook.Entries)

	for _, bad := range []string{"", "garbage", "1,2,3", "x,1"} {
		hook.Reset()
		assert.False(t, e.IsOutsideLocation(bad, zone), "input %q", bad)
		require.Len(t, hook.Entries, 1, "input %q", bad)
		assert.Equal(t, "fail-safe-false", hook.LastEntry().Data["policy"])
		assert.Equal(t, bad, hook.LastEntry().Data["raw_location"])
	}
}

func TestFromRows(t *testing.T) {
	_, err := FromRows(nil)
	assert.ErrorIs(t, err, ErrNoSafeZone)

	_, err = FromRows([]models.SafeZone{
		{Latitude: 1, Longitude: 1, SafeRadiusMeters: 100},
		{Latitude: 2, Longitude: 2, SafeRadiusMeters: 100},
	})
	assert.ErrorIs(t, err, ErrMultipleSafeZones)

	_, err = FromRows([]models.SafeZone{{Latitude: 95, Longitude: 1, SafeRadiusMeters: 100}})
	assert.ErrorIs(t, err, ErrInvalidSafeZone)

	_, err = FromRows([]models.SafeZone{{Latitude: 1, Longitude: 1, SafeRadiusMeters: 0}})
	assert.ErrorIs(t, err, ErrInvalidSafeZone)

	z, err := FromRows([]models.SafeZone{{Name: "Main Center", Latitude: -1.95, Longitude: 30.06, SafeRadiusMeters: 150, Version: 4}})
	require.NoError(t, err)
	assert.Equal(t, "Main Center", z.Name)
	assert.Equal(t, geo.Point{Lat: -1.95, Lon: 30.06}, z.Center)
	assert.Equal(t, 150.0, z.RadiusMeters)
	assert.Equal(t, int64(4), z.Version)
}

func TestProviderReplaceBumpsVersion(t *testing.T) {
	p := NewProvider(equatorZone())

	next := equatorZone()
	next.RadiusMeters = 200
	got, err := p.Replace(next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 200.0, p.Current().RadiusMeters)

	bad := equatorZone()
	bad.RadiusMeters = -1
	_, err = p.Replace(bad)
	assert.ErrorIs(t, err, ErrInvalidSafeZone)
	assert.Equal(t, int64(2), p.Current().Version)
}
