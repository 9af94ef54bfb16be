package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian_tracker/internal/broadcast"
	"guardian_tracker/internal/config"
	"guardian_tracker/internal/dashboard"
	"guardian_tracker/internal/geo"
	"guardian_tracker/internal/geofence"
	"guardian_tracker/internal/models"
	"guardian_tracker/internal/repository"
	"guardian_tracker/internal/tracking"
)

func testConfig() config.Config {
	return config.Config{
		Store:            "memory",
		SweepConcurrency: 2,
		SweepLeaseTTL:    time.Minute,
		CenterTimezone:   "UTC",
		SafeZone:         config.SafeZoneSeed{Name: "Main Center", Latitude: "0", Longitude: "0", RadiusMeters: 100},
	}
}

func TestNew_RequiresSafeZone(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.SafeZone = config.SafeZoneSeed{}

	_, err := New(context.Background(), cfg, log, WithStore(repository.NewMemoryStore()))
	assert.ErrorIs(t, err, geofence.ErrNoSafeZone)
}

func TestNew_UnknownStore(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.Store = "sqlite"

	_, err := New(context.Background(), cfg, log)
	assert.Error(t, err)
}

func TestPipeline_EscapeNotifiesAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	store := repository.NewMemoryStore()
	admin := models.User{Name: "Admin", Role: models.RoleAdmin, NotifyEmail: true}
	require.NoError(t, store.CreateUser(ctx, &admin))
	child := models.Child{FirstName: "Amani", IsActive: true}
	require.NoError(t, store.CreateChild(ctx, &child))

	a, err := New(ctx, testConfig(), log, WithStore(store))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	sub := a.Hub.Subscribe(broadcast.TopicDashboard)

	res, err := a.Machine.Report(ctx, tracking.Report{ChildID: child.ID, Position: geo.Point{Lat: 0.01, Lon: 0.01}})
	require.NoError(t, err)
	assert.True(t, res.Escaped)

	notes, err := store.ListNotifications(ctx, admin.ID, true)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Child Escape Alert", notes[0].Subject)

	select {
	case msg := <-sub.C:
		var update dashboard.Update
		require.NoError(t, json.Unmarshal(msg, &update))
		require.Len(t, update.Children, 1)
		assert.Equal(t, models.StatusEscaped, update.Children[0].Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no dashboard broadcast after escape")
	}
}

func TestPipeline_SweepsRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	store := repository.NewMemoryStore()
	child := models.Child{FirstName: "Neema", IsActive: true}
	require.NoError(t, store.CreateChild(ctx, &child))

	a, err := New(ctx, testConfig(), log, WithStore(store))
	require.NoError(t, err)
	defer a.Close()

	sum, err := a.Runner.RunRisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	r, err := store.LatestRiskAssessment(ctx, child.ID)
	require.NoError(t, err)
	assert.True(t, r.LowConfidence)

	sum, err = a.Runner.RunAnomalies(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)

	sum, err = a.Runner.RunEscapes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 0, sum.Escalated)
}

func TestStart_WithRedisRelay(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	a, err := New(ctx, cfg, log, WithStore(repository.NewMemoryStore()))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	sub := a.Hub.Subscribe(broadcast.TopicAnomalies)
	a.Hub.Broadcast(broadcast.TopicAnomalies, map[string]string{"type": "location"})

	select {
	case msg := <-sub.C:
		assert.JSONEq(t, `{"type":"location"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not deliver")
	}
}
