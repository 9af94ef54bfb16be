package anomaly

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian_tracker/internal/broadcast"
	"guardian_tracker/internal/models"
	"guardian_tracker/internal/notify"
	"guardian_tracker/internal/repository"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeAlerter struct {
	mu        sync.Mutex
	messages  []notify.Message
	broadcast []interface{}
	topics    []string
}

func (f *fakeAlerter) NotifyAdmins(_ context.Context, msg notify.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return 1
}

func (f *fakeAlerter) Broadcast(topic string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.broadcast = append(f.broadcast, payload)
}

func newEngine(t *testing.T, store Store, opts ...Option) (*Engine, *fakeAlerter) {
	t.Helper()
	log, _ := test.NewNullLogger()
	alerter := &fakeAlerter{}
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewEngine(store, alerter, log, opts...), alerter
}

func newChild(t *testing.T, s *repository.MemoryStore) models.Child {
	t.Helper()
	c := models.Child{FirstName: "Neema", LastName: "W", IsActive: true}
	require.NoError(t, s.CreateChild(context.Background(), &c))
	return c
}

// addPositions records n positions an hour apart at the same daytime spot.
func addPositions(t *testing.T, s *repository.MemoryStore, childID uint, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendPosition(context.Background(), &models.Position{
			ChildID: childID, Latitude: -1.95, Longitude: 30.06,
			Timestamp: now.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
}

func byRule(findings []Finding, rule string) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Rule == rule {
			out = append(out, f)
		}
	}
	return out
}

func TestDetect_EmptyHistoryYieldsNothing(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	e, _ := newEngine(t, s)

	assert.Empty(t, e.Detect(context.Background(), c.ID))
}

func TestDetect_UpdateCadence(t *testing.T) {
	for _, tc := range []struct {
		positions int
		want      int
	}{
		{100, 1},
		{150, 0},
		{168, 0},
	} {
		s := repository.NewMemoryStore()
		c := newChild(t, s)
		addPositions(t, s, c.ID, tc.positions)
		e, _ := newEngine(t, s)

		got := byRule(e.Detect(context.Background(), c.ID), "update_cadence")
		require.Len(t, got, tc.want, "%d positions", tc.positions)
		if tc.want > 0 {
			assert.Equal(t, SeverityHigh, got[0].Severity)
			assert.Equal(t, CategoryLocation, got[0].Category)
		}
	}
}

func TestDetect_MovementSpeed(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	base := now.Add(-2 * time.Hour)
	for _, p := range []models.Position{
		{ChildID: c.ID, Latitude: 0, Longitude: 0, Timestamp: base},
		{ChildID: c.ID, Latitude: 0, Longitude: 1, Timestamp: base.Add(10 * time.Minute)},
		// same instant as the previous report; skipped rather than dividing by zero
		{ChildID: c.ID, Latitude: 0, Longitude: 2, Timestamp: base.Add(10 * time.Minute)},
		{ChildID: c.ID, Latitude: 0, Longitude: 2.001, Timestamp: base.Add(70 * time.Minute)},
	} {
		p := p
		require.NoError(t, s.AppendPosition(ctx, &p))
	}
	e, _ := newEngine(t, s)

	got := byRule(e.Detect(ctx, c.ID), "movement_speed")
	require.Len(t, got, 1)
	assert.Equal(t, SeverityHigh, got[0].Severity)
}

func TestDetect_MovementSpeedIsOneFindingPerSweep(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	base := now.Add(-3 * time.Hour)
	// a jittery track: every hop is roughly 111 km in ten minutes
	for i := 0; i < 6; i++ {
		require.NoError(t, s.AppendPosition(ctx, &models.Position{
			ChildID: c.ID, Latitude: 0, Longitude: float64(i % 2),
			Timestamp: base.Add(time.Duration(i) * 10 * time.Minute),
		}))
	}
	e, alerter := newEngine(t, s)

	findings, err := e.Run(ctx, c.ID)
	require.NoError(t, err)
	got := byRule(findings, "movement_speed")
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Description, "5 segments")
	assert.Contains(t, got[0].Description, "fastest 667")
	speedAlerts := 0
	for _, m := range alerter.messages {
		if strings.Contains(m.Body, "Unusually fast movement") {
			speedAlerts++
		}
	}
	assert.Equal(t, 1, speedAlerts)
}

func TestDetect_FlaggedPositionsAggregate(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendPosition(ctx, &models.Position{ChildID: c.ID, IsUnusual: true, Timestamp: now.Add(-time.Duration(i+1) * time.Hour)}))
	}
	e, _ := newEngine(t, s)

	got := byRule(e.Detect(ctx, c.ID), "flagged_position")
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Description, "3 unusual locations")
}

func TestDetect_Activities(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	minutes := func(v float64) *float64 { return &v }

	times := []float64{30, 31, 29, 30, 32, 28, 30, 31, 29, 120}
	for i, m := range times {
		require.NoError(t, s.CreateActivity(ctx, &models.Activity{
			ChildID: c.ID, Name: "reading", Status: models.ActivityCompleted,
			CompletionTime: minutes(m), Timestamp: now.Add(-time.Duration(48-i) * time.Hour),
		}))
	}
	require.NoError(t, s.CreateActivity(ctx, &models.Activity{ChildID: c.ID, Name: "math", Status: models.ActivityMissed, Timestamp: now.Add(-72 * time.Hour)}))
	e, _ := newEngine(t, s)

	findings := e.Detect(ctx, c.ID)
	missed := byRule(findings, "missed_activities")
	require.Len(t, missed, 1)
	assert.Equal(t, SeverityMedium, missed[0].Severity)
	assert.Contains(t, missed[0].Description, "Missed 1 activities")

	outliers := byRule(findings, "completion_time")
	require.Len(t, outliers, 1)
	assert.Equal(t, SeverityLow, outliers[0].Severity)
	assert.Contains(t, outliers[0].Description, "120.0")
}

func TestDetect_CompletionTimeOutliersAggregate(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	minutes := func(v float64) *float64 { return &v }

	for i := 0; i < 22; i++ {
		m, name := 30.0, "reading"
		if i == 5 || i == 15 {
			m, name = 120, "swimming"
		}
		require.NoError(t, s.CreateActivity(ctx, &models.Activity{
			ChildID: c.ID, Name: name, Status: models.ActivityCompleted,
			CompletionTime: minutes(m), Timestamp: now.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
	e, _ := newEngine(t, s)

	got := byRule(e.Detect(ctx, c.ID), "completion_time")
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Description, "2 unusual completion times")
	assert.Contains(t, got[0].Description, "swimming: 120.0")
}

func TestDetect_MissedStreak(t *testing.T) {
	for _, tc := range []struct {
		name     string
		statuses []string // most recent first
		want     int
	}{
		{"streak of three", []string{"missed", "missed", "missed", "completed", "missed"}, 1},
		{"streak of two", []string{"missed", "missed", "completed", "missed", "missed"}, 0},
		{"leading completed", []string{"completed", "missed", "missed", "missed", "missed"}, 0},
		{"fewer than five records", []string{"missed", "missed", "missed"}, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := repository.NewMemoryStore()
			c := newChild(t, s)
			ctx := context.Background()
			for i, st := range tc.statuses {
				require.NoError(t, s.CreateActivity(ctx, &models.Activity{
					ChildID: c.ID, Status: st, Timestamp: now.Add(-time.Duration(i+1) * 24 * time.Hour),
				}))
			}
			e, _ := newEngine(t, s)

			got := byRule(e.Detect(ctx, c.ID), "missed_streak")
			require.Len(t, got, tc.want)
			if tc.want > 0 {
				assert.Equal(t, SeverityHigh, got[0].Severity)
			}
		})
	}
}

func TestDetect_MissedStreakIgnoresOldActivities(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateActivity(ctx, &models.Activity{
			ChildID: c.ID, Status: models.ActivityMissed, Timestamp: now.Add(-time.Duration(60+i) * 24 * time.Hour),
		}))
	}
	require.NoError(t, s.CreateActivity(ctx, &models.Activity{
		ChildID: c.ID, Status: models.ActivityMissed, Timestamp: now.Add(-time.Hour),
	}))
	e, _ := newEngine(t, s)

	findings := e.Detect(ctx, c.ID)
	assert.Empty(t, byRule(findings, "missed_streak"))
	assert.Len(t, byRule(findings, "missed_activities"), 1)
}

func TestDetect_NeverReportedDeviceIsQuiet(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateWearable(ctx, &models.WearableDevice{ChildID: c.ID, DeviceID: "new", IsActive: true}))
	e, alerter := newEngine(t, s)

	findings, err := e.Run(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Empty(t, alerter.messages)
}

func TestDetect_DeviceHealthAndTampering(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	stale := now.Add(-2 * time.Hour)
	fresh := now.Add(-time.Minute)

	require.NoError(t, s.CreateWearable(ctx, &models.WearableDevice{ChildID: c.ID, DeviceID: "bad", IsActive: true, LastSeen: &stale, BatteryLevel: 10, SignalStrength: 0}))
	require.NoError(t, s.CreateWearable(ctx, &models.WearableDevice{ChildID: c.ID, DeviceID: "reset", IsActive: true, LastSeen: &fresh, BatteryLevel: 90, SignalStrength: 0.9, WasReset: true}))
	require.NoError(t, s.CreateWearable(ctx, &models.WearableDevice{ChildID: c.ID, DeviceID: "retired", IsActive: false, LastSeen: &stale, BatteryLevel: 0, SignalStrength: 0}))
	e, _ := newEngine(t, s)

	findings := e.Detect(ctx, c.ID)
	assert.Len(t, byRule(findings, "device_disconnect"), 1)
	assert.Len(t, byRule(findings, "low_battery"), 1)
	assert.Len(t, byRule(findings, "poor_signal"), 1)

	sig := byRule(findings, "tampering_signal")
	require.Len(t, sig, 1)
	assert.Equal(t, SeverityHigh, sig[0].Severity)
	reset := byRule(findings, "tampering_reset")
	require.Len(t, reset, 1)
	assert.Equal(t, SeverityMedium, reset[0].Severity)
}

func TestDetect_Notes(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	low := 0.1
	high := 0.9

	for _, n := range []models.Note{
		{ChildID: c.ID, Content: "Quiet day", SentimentScore: &low},
		{ChildID: c.ID, Content: "Was sad and angry after lunch"},
		{ChildID: c.ID, Content: "Staff WORRY about sleep", SentimentScore: &high},
		{ChildID: c.ID, Content: "A problem and a risk at school", SentimentScore: &high},
		{ChildID: c.ID, Content: "Recent note about danger", SentimentScore: &low},
	} {
		n := n
		require.NoError(t, s.CreateNote(ctx, &n))
	}
	old := models.Note{ChildID: c.ID, Content: "danger", SentimentScore: &low}
	old.CreatedAt = now.Add(-40 * 24 * time.Hour)
	require.NoError(t, s.CreateNote(ctx, &old))

	e, _ := newEngine(t, s, WithSentiment(NewLexiconScorer()))
	findings := e.Detect(ctx, c.ID)

	sentiment := byRule(findings, "note_sentiment")
	require.Len(t, sentiment, 1)
	assert.Equal(t, SeverityMedium, sentiment[0].Severity)
	assert.Contains(t, sentiment[0].Description, "3 notes")

	keywords := byRule(findings, "concern_keywords")
	require.Len(t, keywords, 1)
	assert.Equal(t, SeverityHigh, keywords[0].Severity)
	assert.Contains(t, keywords[0].Description, "3 notes")
}

func TestDetect_NotesWithoutScorerUseStoredScoresOnly(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateNote(ctx, &models.Note{ChildID: c.ID, Content: "sad angry upset"}))
	e, _ := newEngine(t, s)

	assert.Empty(t, byRule(e.Detect(ctx, c.ID), "note_sentiment"))
}

func TestDetect_NightMovementReportedOnce(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	eat := time.FixedZone("EAT", 3*3600)

	for _, ts := range []time.Time{
		time.Date(2024, 6, 9, 20, 30, 0, 0, time.UTC), // 23:30 local
		time.Date(2024, 6, 9, 23, 0, 0, 0, time.UTC),  // 02:00 local
		time.Date(2024, 6, 9, 9, 0, 0, 0, time.UTC),   // 12:00 local
	} {
		require.NoError(t, s.AppendPosition(ctx, &models.Position{ChildID: c.ID, Timestamp: ts}))
	}

	e, _ := newEngine(t, s, WithLocation(eat))
	got := byRule(e.Detect(ctx, c.ID), "night_movement")
	require.Len(t, got, 1)
	assert.Equal(t, SeverityMedium, got[0].Severity)

	// 20:30 UTC is daytime in UTC
	s2 := repository.NewMemoryStore()
	c2 := newChild(t, s2)
	require.NoError(t, s2.AppendPosition(ctx, &models.Position{ChildID: c2.ID, Timestamp: time.Date(2024, 6, 9, 20, 30, 0, 0, time.UTC)}))
	e2, _ := newEngine(t, s2)
	assert.Empty(t, byRule(e2.Detect(ctx, c2.ID), "night_movement"))
}

func TestDetect_EscapeRepetition(t *testing.T) {
	for _, tc := range []struct {
		escapes int
		want    int
	}{{2, 0}, {3, 1}} {
		s := repository.NewMemoryStore()
		c := newChild(t, s)
		ctx := context.Background()
		for i := 0; i < tc.escapes; i++ {
			require.NoError(t, s.CreateTracking(ctx, &models.Tracking{ChildID: c.ID, Status: models.StatusEscaped, LastSeen: now, LastUpdate: now.Add(-time.Duration(i+1) * 24 * time.Hour)}))
		}
		// outside the 30 day window
		require.NoError(t, s.CreateTracking(ctx, &models.Tracking{ChildID: c.ID, Status: models.StatusEscaped, LastUpdate: now.Add(-45 * 24 * time.Hour)}))
		e, _ := newEngine(t, s)

		got := byRule(e.Detect(ctx, c.ID), "escape_repetition")
		assert.Len(t, got, tc.want, "%d escapes", tc.escapes)
	}
}

func TestDetect_StaleTracking(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateTracking(ctx, &models.Tracking{ChildID: c.ID, Status: models.StatusInCenter, LastSeen: now.Add(-2 * time.Hour), LastUpdate: now.Add(-2 * time.Hour)}))
	e, _ := newEngine(t, s)

	got := byRule(e.Detect(ctx, c.ID), "stale_tracking")
	require.Len(t, got, 1)
	assert.Equal(t, SeverityMedium, got[0].Severity)
}

func TestDetect_FindingOrder(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	stale := now.Add(-3 * time.Hour)

	require.NoError(t, s.AppendPosition(ctx, &models.Position{ChildID: c.ID, Timestamp: now.Add(-3 * time.Hour)}))
	require.NoError(t, s.CreateActivity(ctx, &models.Activity{ChildID: c.ID, Status: models.ActivityMissed, Timestamp: now.Add(-time.Hour)}))
	require.NoError(t, s.CreateWearable(ctx, &models.WearableDevice{ChildID: c.ID, DeviceID: "d", IsActive: true, LastSeen: &stale, BatteryLevel: 50, SignalStrength: 0.8}))
	require.NoError(t, s.CreateNote(ctx, &models.Note{ChildID: c.ID, Content: "a concern"}))
	require.NoError(t, s.CreateTracking(ctx, &models.Tracking{ChildID: c.ID, Status: models.StatusInCenter, LastSeen: stale, LastUpdate: stale}))
	e, _ := newEngine(t, s)

	var rules []string
	for _, f := range e.Detect(ctx, c.ID) {
		rules = append(rules, f.Rule)
	}
	assert.Equal(t, []string{"update_cadence", "missed_activities", "device_disconnect", "concern_keywords", "stale_tracking"}, rules)
}

type brokenStore struct {
	*repository.MemoryStore
}

func (b brokenStore) PositionsSince(context.Context, uint, time.Time) ([]models.Position, error) {
	return nil, errors.New("connection reset")
}

func (b brokenStore) NotesSince(context.Context, uint, time.Time) ([]models.Note, error) {
	panic("nil map")
}

func TestDetect_FailingDetectorsAreIsolated(t *testing.T) {
	mem := repository.NewMemoryStore()
	c := newChild(t, mem)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, mem.CreateActivity(ctx, &models.Activity{ChildID: c.ID, Status: models.ActivityMissed, Timestamp: now.Add(-time.Duration(i+1) * time.Hour)}))
	}

	log, hook := test.NewNullLogger()
	e := NewEngine(brokenStore{mem}, &fakeAlerter{}, log, WithClock(func() time.Time { return now }))

	var findings []Finding
	require.NotPanics(t, func() { findings = e.Detect(ctx, c.ID) })
	assert.Len(t, byRule(findings, "missed_activities"), 1)
	assert.Len(t, byRule(findings, "missed_streak"), 1)
	// location, note and night movement detectors each logged their failure
	assert.Len(t, hook.Entries, 3)
}

func TestRun_PersistsAndAlertsHighFindings(t *testing.T) {
	s := repository.NewMemoryStore()
	c := newChild(t, s)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateActivity(ctx, &models.Activity{ChildID: c.ID, Status: models.ActivityMissed, Timestamp: now.Add(-time.Duration(i+1) * time.Hour)}))
	}
	e, alerter := newEngine(t, s)

	findings, err := e.Run(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, findings, 2) // missed_activities (medium), missed_streak (high)

	stored, err := s.ListAnomalies(ctx, c.ID, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	require.Len(t, alerter.messages, 1)
	assert.True(t, alerter.messages[0].Email)
	require.Equal(t, []string{broadcast.TopicAnomalies}, alerter.topics)
	alert := alerter.broadcast[0].(Alert)
	assert.Equal(t, "Neema W", alert.Child)
	assert.Equal(t, SeverityHigh, alert.Severity)
	assert.Equal(t, CategoryActivity, alert.Type)
	assert.NotZero(t, alert.ID)

	child, err := s.GetChild(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, child.LastAnomalyCheck)
	assert.Equal(t, now, *child.LastAnomalyCheck)
}

func TestRun_UnknownChild(t *testing.T) {
	e, _ := newEngine(t, repository.NewMemoryStore())
	_, err := e.Run(context.Background(), 77)
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestLexiconScorer(t *testing.T) {
	s := NewLexiconScorer()
	v, err := s.ScoreSentiment("Happy and calm today")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, _ = s.ScoreSentiment("sad, crying; but smiling later")
	assert.InDelta(t, -1.0/3.0, v, 1e-9)

	v, _ = s.ScoreSentiment("ate lunch")
	assert.Equal(t, 0.0, v)

	assert.Equal(t, 0.0, NormalizeSentiment(-1))
	assert.Equal(t, 0.5, NormalizeSentiment(0))
	assert.Equal(t, 1.0, NormalizeSentiment(3))
}

func TestConcernKeywords(t *testing.T) {
	assert.True(t, HasConcernKeyword("Some DANGER here"))
	assert.False(t, HasConcernKeyword("all good"))
	assert.Equal(t, 3, CountConcernKeywords("risk, risky, and a problem"))
}
