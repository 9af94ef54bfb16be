package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian_tracker/internal/models"
)

func TestMemoryStore_LatestTrackingIsNewestByLastUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	_, err := s.LatestTracking(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateTracking(ctx, &models.Tracking{ChildID: 1, Status: models.StatusInCenter, LastUpdate: base}))
	require.NoError(t, s.CreateTracking(ctx, &models.Tracking{ChildID: 1, Status: models.StatusEscaped, LastUpdate: base.Add(time.Hour)}))
	require.NoError(t, s.CreateTracking(ctx, &models.Tracking{ChildID: 1, Status: models.StatusOffPremises, LastUpdate: base.Add(-time.Hour)}))
	require.NoError(t, s.CreateTracking(ctx, &models.Tracking{ChildID: 2, Status: models.StatusUnknown, LastUpdate: base}))

	got, err := s.LatestTracking(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscaped, got.Status)

	current, err := s.ListCurrentTrackings(ctx)
	require.NoError(t, err)
	require.Len(t, current, 2)
	assert.Equal(t, models.StatusEscaped, current[0].Status)
	assert.Equal(t, models.StatusUnknown, current[1].Status)

	n, err := s.CountTrackingsWithStatus(ctx, 1, models.StatusEscaped, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_PositionsOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for _, off := range []int{3, 1, 2} {
		require.NoError(t, s.AppendPosition(ctx, &models.Position{ChildID: 9, Latitude: float64(off), Timestamp: base.Add(time.Duration(off) * time.Minute)}))
	}

	ps, err := s.PositionsSince(ctx, 9, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, 2.0, ps[0].Latitude)
	assert.Equal(t, 3.0, ps[1].Latitude)

	last, err := s.LastPosition(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 3.0, last.Latitude)

	_, err = s.LastPosition(ctx, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RecentActivitiesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for i, status := range []string{"completed", "missed", "missed", "scheduled", "missed", "completed"} {
		require.NoError(t, s.CreateActivity(ctx, &models.Activity{ChildID: 1, Status: status, Timestamp: base.Add(time.Duration(i) * time.Hour)}))
	}

	got, err := s.RecentActivities(ctx, 1, base, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	var statuses []string
	for _, a := range got {
		statuses = append(statuses, a.Status)
	}
	assert.Equal(t, []string{"completed", "missed", "scheduled", "missed", "missed"}, statuses)

	got, err = s.RecentActivities(ctx, 1, base.Add(4*time.Hour), 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStore_UserDevicesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.RegisterUserDevice(ctx, 1, "tok-1", "android")
	require.NoError(t, err)
	b, err := s.RegisterUserDevice(ctx, 1, "tok-1", "android")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	// a token moves with the latest user who registered it
	_, err = s.RegisterUserDevice(ctx, 2, "tok-1", "ios")
	require.NoError(t, err)
	ds, err := s.ListUserDevices(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ds)

	assert.ErrorIs(t, s.DeregisterUserDevice(ctx, 1, "tok-1"), ErrNotFound)
	require.NoError(t, s.DeregisterUserDevice(ctx, 2, "tok-1"))
	assert.ErrorIs(t, s.DeregisterUserDevice(ctx, 2, "tok-1"), ErrNotFound)
}

func TestMemoryStore_Notifications(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n := models.Notification{UserID: 4, Message: "hello"}
	require.NoError(t, s.CreateNotification(ctx, &n))

	assert.ErrorIs(t, s.MarkNotificationRead(ctx, 5, n.ID), ErrNotFound)
	require.NoError(t, s.MarkNotificationRead(ctx, 4, n.ID))

	unread, err := s.ListNotifications(ctx, 4, true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := s.ListNotifications(ctx, 4, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsRead)
}

func TestMemoryStore_RiskAssessmentFactorsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r := models.RiskAssessment{ChildID: 1, Score: 40, Factors: []string{"Missed activities"}, Timestamp: time.Now()}
	require.NoError(t, s.CreateRiskAssessment(ctx, &r))
	r.Factors[0] = "mutated"

	got, err := s.LatestRiskAssessment(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Missed activities"}, []string(got.Factors))
}

func TestMemoryStore_Wearables(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	w := models.WearableDevice{ChildID: 1, DeviceID: "W-1", IsActive: true}
	require.NoError(t, s.CreateWearable(ctx, &w))
	assert.ErrorIs(t, s.CreateWearable(ctx, &models.WearableDevice{ChildID: 2, DeviceID: "W-1"}), ErrConflict)

	got, err := s.GetWearableByDeviceID(ctx, "W-1")
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	require.NoError(t, s.DeleteWearable(ctx, w.ID))
	_, err = s.GetWearable(ctx, w.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UsersByEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := models.User{Name: "Grace", Email: "grace@center.org", Role: models.RoleAdmin}
	require.NoError(t, s.CreateUser(ctx, &u))

	got, err := s.GetUserByEmail(ctx, "Grace@Center.org")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	dup := models.User{Email: "GRACE@center.org"}
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), ErrConflict)

	_, err = s.GetUserByEmail(ctx, "nobody@center.org")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateSafeZoneBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	zone := models.SafeZone{Name: "Main Center", SafeRadiusMeters: 100, Version: 1}
	require.NoError(t, s.CreateSafeZone(ctx, &zone))
	created := zone.CreatedAt

	var wg sync.WaitGroup
	versions := make(chan int64, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(radius float64) {
			defer wg.Done()
			z := models.SafeZone{Name: "Main Center", SafeRadiusMeters: radius}
			z.ID = zone.ID
			if assert.NoError(t, s.UpdateSafeZone(ctx, &z)) {
				versions <- z.Version
			}
		}(float64(200 + i))
	}
	wg.Wait()
	close(versions)

	seen := map[int64]bool{}
	for v := range versions {
		assert.False(t, seen[v], "version %d issued twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, 10)

	rows, err := s.ListSafeZones(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(11), rows[0].Version)
	assert.True(t, created.Equal(rows[0].CreatedAt))

	missing := models.SafeZone{Name: "Nowhere"}
	missing.ID = 99
	assert.ErrorIs(t, s.UpdateSafeZone(ctx, &missing), ErrNotFound)
}
