package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"guardian_tracker/internal/geo"
	"guardian_tracker/internal/models"
	"guardian_tracker/internal/repository"
)

const (
	recentWindow = 7 * 24 * time.Hour
	notesWindow  = 30 * 24 * time.Hour
	escapeWindow = 30 * 24 * time.Hour

	expectedHourlyUpdates = 24 * 7
	cadenceRatio          = 0.8
	maxSpeedKmh           = 100.0
	completionStdDevs     = 2.0

	disconnectAfter  = 3600 * time.Second
	lowBatteryLevel  = 20.0
	poorSignalLevel  = 0.3
	negativeNoteMark = 0.3

	nightStartHour = 23
	nightEndHour   = 5

	streakLookback  = 5
	streakThreshold = 3
	maxEscapes      = 2
	staleAfter      = time.Hour
)

func finding(category, rule, severity, description string, now time.Time) Finding {
	return Finding{Category: category, Rule: rule, Severity: severity, Description: description, Timestamp: now}
}

// detectLocation covers update cadence, movement speed and flagged positions.
func (e *Engine) detectLocation(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	positions, err := e.store.PositionsSince(ctx, childID, now.Add(-recentWindow))
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}

	var out []Finding
	if float64(len(positions)) < cadenceRatio*expectedHourlyUpdates {
		out = append(out, finding(CategoryLocation, "update_cadence", SeverityHigh,
			fmt.Sprintf("Infrequent location updates: %d in the past week, expected about %d",
				len(positions), expectedHourlyUpdates), now))
	}

	fast, fastest := 0, 0.0
	var fastestAt time.Time
	for i := 1; i < len(positions); i++ {
		prev, cur := positions[i-1], positions[i]
		seconds := cur.Timestamp.Sub(prev.Timestamp).Seconds()
		if seconds <= 0 {
			continue
		}
		speed := geo.SpeedKmh(
			geo.Point{Lat: prev.Latitude, Lon: prev.Longitude},
			geo.Point{Lat: cur.Latitude, Lon: cur.Longitude},
			seconds,
		)
		if speed > maxSpeedKmh {
			fast++
			if speed > fastest {
				fastest, fastestAt = speed, cur.Timestamp
			}
		}
	}
	if fast > 0 {
		out = append(out, finding(CategoryLocation, "movement_speed", SeverityHigh,
			fmt.Sprintf("Unusually fast movement: %d segments over %.0f km/h, fastest %.2f km/h at %s",
				fast, maxSpeedKmh, fastest, fastestAt.Format(time.RFC3339)), now))
	}

	unusual := 0
	for _, p := range positions {
		if p.IsUnusual {
			unusual++
		}
	}
	if unusual > 0 {
		out = append(out, finding(CategoryLocation, "flagged_position", SeverityHigh,
			fmt.Sprintf("%d unusual locations detected in the past week", unusual), now))
	}
	return out, nil
}

// detectActivity covers missed activities and outlying completion times.
func (e *Engine) detectActivity(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	activities, err := e.store.ActivitiesSince(ctx, childID, now.Add(-recentWindow))
	if err != nil {
		return nil, err
	}
	if len(activities) == 0 {
		return nil, nil
	}

	var out []Finding
	missed := 0
	var completed []models.Activity
	for _, a := range activities {
		switch a.Status {
		case models.ActivityMissed:
			missed++
		case models.ActivityCompleted:
			if a.CompletionTime != nil {
				completed = append(completed, a)
			}
		}
	}
	if missed > 0 {
		out = append(out, finding(CategoryActivity, "missed_activities", SeverityMedium,
			fmt.Sprintf("Missed %d activities in the past week", missed), now))
	}

	if len(completed) < 2 {
		return out, nil
	}
	times := make([]float64, len(completed))
	for i, a := range completed {
		times[i] = *a.CompletionTime
	}
	mean, std := stat.PopMeanStdDev(times, nil)
	if std == 0 || math.IsNaN(std) {
		return out, nil
	}
	outliers := 0
	var worst models.Activity
	for _, a := range completed {
		dev := math.Abs(*a.CompletionTime - mean)
		if dev <= completionStdDevs*std {
			continue
		}
		outliers++
		if worst.CompletionTime == nil || dev > math.Abs(*worst.CompletionTime-mean) {
			worst = a
		}
	}
	if outliers > 0 {
		out = append(out, finding(CategoryActivity, "completion_time", SeverityLow,
			fmt.Sprintf("%d unusual completion times, most extreme %s: %.1f minutes (mean %.1f)",
				outliers, worst.Name, *worst.CompletionTime, mean), now))
	}
	return out, nil
}

// detectDevice covers disconnects, battery and signal per wearable that has
// reported at least once.
func (e *Engine) detectDevice(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	devices, err := e.reportingWearables(ctx, childID)
	if err != nil {
		return nil, err
	}
	var out []Finding
	for _, d := range devices {
		if now.Sub(*d.LastSeen) > disconnectAfter {
			out = append(out, finding(CategoryDevice, "device_disconnect", SeverityHigh,
				fmt.Sprintf("Device %s has been disconnected since %s", d.DeviceID, d.LastSeen.Format(time.RFC3339)), now))
		}
		if d.BatteryLevel < lowBatteryLevel {
			out = append(out, finding(CategoryDevice, "low_battery", SeverityMedium,
				fmt.Sprintf("Device %s has low battery: %.0f%%", d.DeviceID, d.BatteryLevel), now))
		}
		if d.SignalStrength < poorSignalLevel {
			out = append(out, finding(CategoryDevice, "poor_signal", SeverityMedium,
				fmt.Sprintf("Device %s has poor signal strength: %.2f", d.DeviceID, d.SignalStrength), now))
		}
	}
	return out, nil
}

// detectNotes reports one aggregate finding for negative notes and one for
// notes mentioning concern keywords.
func (e *Engine) detectNotes(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	notes, err := e.store.NotesSince(ctx, childID, now.Add(-notesWindow))
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}

	negative, concerning := 0, 0
	for _, n := range notes {
		if score, ok := e.noteSentiment(n); ok && score < negativeNoteMark {
			negative++
		}
		if HasConcernKeyword(n.Content) {
			concerning++
		}
	}

	var out []Finding
	if negative > 0 {
		out = append(out, finding(CategoryNote, "note_sentiment", SeverityMedium,
			fmt.Sprintf("%d notes with negative sentiment in the past 30 days", negative), now))
	}
	if concerning > 0 {
		out = append(out, finding(CategoryNote, "concern_keywords", SeverityHigh,
			fmt.Sprintf("%d notes contain concerning keywords", concerning), now))
	}
	return out, nil
}

// noteSentiment returns the normalized [0,1] sentiment of a note, preferring
// a stored score. ok is false when no score can be produced.
func (e *Engine) noteSentiment(n models.Note) (float64, bool) {
	if n.SentimentScore != nil {
		return *n.SentimentScore, true
	}
	if e.sentiment == nil {
		return 0, false
	}
	polarity, err := e.sentiment.ScoreSentiment(n.Content)
	if err != nil {
		e.log.WithError(err).WithField("note_id", n.ID).Debug("Sentiment scorer failed for note.")
		return 0, false
	}
	return NormalizeSentiment(polarity), true
}

// detectNightMovement reports at most once.
func (e *Engine) detectNightMovement(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	positions, err := e.store.PositionsSince(ctx, childID, now.Add(-recentWindow))
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		h := p.Timestamp.In(e.loc).Hour()
		if h >= nightStartHour || h < nightEndHour {
			return []Finding{finding(CategoryLocation, "night_movement", SeverityMedium,
				fmt.Sprintf("Unusual night-time movement detected at %s", p.Timestamp.In(e.loc).Format(time.RFC3339)), now)}, nil
		}
	}
	return nil, nil
}

func (e *Engine) detectTampering(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	devices, err := e.reportingWearables(ctx, childID)
	if err != nil {
		return nil, err
	}
	var out []Finding
	for _, d := range devices {
		if d.SignalStrength == 0 {
			out = append(out, finding(CategoryDevice, "tampering_signal", SeverityHigh,
				fmt.Sprintf("Possible tampering: device %s reports zero signal", d.DeviceID), now))
		}
		if d.WasReset {
			out = append(out, finding(CategoryDevice, "tampering_reset", SeverityMedium,
				fmt.Sprintf("Possible tampering: device %s was reset", d.DeviceID), now))
		}
	}
	return out, nil
}

// detectMissedStreak counts the leading run of missed activities among the
// most recent ones of the past week, newest first.
func (e *Engine) detectMissedStreak(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	recent, err := e.store.RecentActivities(ctx, childID, now.Add(-recentWindow), streakLookback)
	if err != nil {
		return nil, err
	}
	streak := 0
	for _, a := range recent {
		if a.Status != models.ActivityMissed {
			break
		}
		streak++
	}
	if streak < streakThreshold {
		return nil, nil
	}
	return []Finding{finding(CategoryActivity, "missed_streak", SeverityHigh,
		fmt.Sprintf("Missed %d consecutive activities", streak), now)}, nil
}

func (e *Engine) detectEscapeRepetition(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	n, err := e.store.CountTrackingsWithStatus(ctx, childID, models.StatusEscaped, now.Add(-escapeWindow))
	if err != nil {
		return nil, err
	}
	if n <= maxEscapes {
		return nil, nil
	}
	return []Finding{finding(CategoryLocation, "escape_repetition", SeverityHigh,
		fmt.Sprintf("Multiple escape attempts: %d in the past 30 days", n), now)}, nil
}

func (e *Engine) detectStaleTracking(ctx context.Context, childID uint, now time.Time) ([]Finding, error) {
	t, err := e.store.LatestTracking(ctx, childID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	last := t.LastSeen
	if last.IsZero() {
		last = t.LastUpdate
	}
	if last.IsZero() || now.Sub(last) <= staleAfter {
		return nil, nil
	}
	return []Finding{finding(CategoryLocation, "stale_tracking", SeverityMedium,
		fmt.Sprintf("No location update since %s", last.Format(time.RFC3339)), now)}, nil
}

// reportingWearables returns the active wearables with telemetry on record.
// A device that never reported carries zero battery and signal, which are
// defaults rather than readings.
func (e *Engine) reportingWearables(ctx context.Context, childID uint) ([]models.WearableDevice, error) {
	all, err := e.store.ListWearablesForChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, d := range all {
		if d.IsActive && d.LastSeen != nil {
			out = append(out, d)
		}
	}
	return out, nil
}
