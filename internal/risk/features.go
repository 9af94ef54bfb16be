package risk

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"guardian_tracker/internal/anomaly"
	"guardian_tracker/internal/models"
)

const (
	recentWindow      = 7 * 24 * time.Hour
	notesWindow       = 30 * 24 * time.Hour
	connectedWithin   = time.Hour
	batteryIssueBelow = 20.0
	neutralSentiment  = 0.5
)

// FeatureNames is the classifier's input contract, in vector order.
var FeatureNames = []string{
	"age",
	"time_in_care",
	"prior_incidents",
	"location_variance",
	"unusual_locations",
	"update_frequency",
	"activity_variance",
	"missed_activities",
	"completion_rate",
	"device_connectivity",
	"battery_issues",
	"signal_strength",
	"sentiment_score",
	"note_frequency",
	"concern_keywords",
}

// Features is the fixed feature record for one child. Missing data leaves a
// field at its default: 0, except SentimentScore which defaults to neutral 0.5.
type Features struct {
	Age                float64 `json:"age"`          // years
	TimeInCare         float64 `json:"time_in_care"` // days since enrollment
	PriorIncidents     float64 `json:"prior_incidents"`
	LocationVariance   float64 `json:"location_variance"`
	UnusualLocations   float64 `json:"unusual_locations"`
	UpdateFrequency    float64 `json:"update_frequency"` // positions per hour of the observed span
	ActivityVariance   float64 `json:"activity_variance"`
	MissedActivities   float64 `json:"missed_activities"`
	CompletionRate     float64 `json:"completion_rate"`
	DeviceConnectivity float64 `json:"device_connectivity"` // share of reporting wearables seen in the last hour
	BatteryIssues      float64 `json:"battery_issues"`
	SignalStrength     float64 `json:"signal_strength"`
	SentimentScore     float64 `json:"sentiment_score"` // 0..1
	NoteFrequency      float64 `json:"note_frequency"`  // notes per day
	ConcernKeywords    float64 `json:"concern_keywords"`
}

// DefaultFeatures is the record for a child with no history at all.
func DefaultFeatures() Features {
	return Features{SentimentScore: neutralSentiment}
}

// Vector returns the features in FeatureNames order.
func (f Features) Vector() []float64 {
	return []float64{
		f.Age,
		f.TimeInCare,
		f.PriorIncidents,
		f.LocationVariance,
		f.UnusualLocations,
		f.UpdateFrequency,
		f.ActivityVariance,
		f.MissedActivities,
		f.CompletionRate,
		f.DeviceConnectivity,
		f.BatteryIssues,
		f.SignalStrength,
		f.SentimentScore,
		f.NoteFrequency,
		f.ConcernKeywords,
	}
}

// FeaturesFromVector is the inverse of Vector. Short input leaves trailing fields at 0.
func FeaturesFromVector(v []float64) Features {
	var f Features
	fields := []*float64{
		&f.Age, &f.TimeInCare, &f.PriorIncidents, &f.LocationVariance, &f.UnusualLocations,
		&f.UpdateFrequency, &f.ActivityVariance, &f.MissedActivities, &f.CompletionRate,
		&f.DeviceConnectivity, &f.BatteryIssues, &f.SignalStrength, &f.SentimentScore,
		&f.NoteFrequency, &f.ConcernKeywords,
	}
	for i := range fields {
		if i < len(v) {
			*fields[i] = v[i]
		}
	}
	return f
}

// RiskFactors explains a feature record with fixed thresholds. It is computed
// independently of the classifier, so the two may disagree. Never nil.
func RiskFactors(f Features) []string {
	factors := make([]string, 0, 6)
	if f.LocationVariance > 0.5 {
		factors = append(factors, "High location variance")
	}
	if f.UnusualLocations > 0 {
		factors = append(factors, "Unusual locations detected")
	}
	if f.MissedActivities > 0 {
		factors = append(factors, "Missed activities")
	}
	if f.DeviceConnectivity < 0.8 {
		factors = append(factors, "Poor device connectivity")
	}
	if f.BatteryIssues > 0 {
		factors = append(factors, "Device battery issues")
	}
	if f.SentimentScore < 0.3 {
		factors = append(factors, "Negative sentiment in notes")
	}
	return factors
}

// ExtractFeatures builds the feature record for a child. Each group of
// features degrades to its defaults on a read failure; nothing is returned as
// an error.
func (s *Scorer) ExtractFeatures(ctx context.Context, childID uint) Features {
	f := DefaultFeatures()
	now := s.now()
	since := now.Add(-recentWindow)
	entry := s.log.WithField("child_id", childID)

	if child, err := s.store.GetChild(ctx, childID); err != nil {
		entry.WithError(err).Warn("Risk features: child profile unavailable.")
	} else {
		f.Age = float64(child.AgeAt(now))
		if !child.EnrollmentDate.IsZero() && now.After(child.EnrollmentDate) {
			f.TimeInCare = now.Sub(child.EnrollmentDate).Hours() / 24
		}
	}

	if n, err := s.store.CountIncidents(ctx, childID); err != nil {
		entry.WithError(err).Warn("Risk features: incidents unavailable.")
	} else {
		f.PriorIncidents = float64(n)
	}

	if positions, err := s.store.PositionsSince(ctx, childID, since); err != nil {
		entry.WithError(err).Warn("Risk features: positions unavailable.")
	} else {
		locationFeatures(&f, positions)
	}

	if activities, err := s.store.ActivitiesSince(ctx, childID, since); err != nil {
		entry.WithError(err).Warn("Risk features: activities unavailable.")
	} else {
		activityFeatures(&f, activities)
	}

	if devices, err := s.store.ListWearablesForChild(ctx, childID); err != nil {
		entry.WithError(err).Warn("Risk features: wearables unavailable.")
	} else {
		deviceFeatures(&f, devices, now)
	}

	if notes, err := s.store.NotesSince(ctx, childID, now.Add(-notesWindow)); err != nil {
		entry.WithError(err).Warn("Risk features: notes unavailable.")
	} else {
		s.noteFeatures(&f, notes, notesWindow.Hours()/24, entry)
	}
	return f
}

// locationFeatures expects positions in timestamp order.
func locationFeatures(f *Features, positions []models.Position) {
	if len(positions) == 0 {
		return
	}
	lats := make([]float64, len(positions))
	lons := make([]float64, len(positions))
	for i, p := range positions {
		lats[i] = p.Latitude
		lons[i] = p.Longitude
		if p.IsUnusual {
			f.UnusualLocations++
		}
	}
	if len(positions) > 1 {
		f.LocationVariance = stat.PopVariance(lats, nil) + stat.PopVariance(lons, nil)
	}
	if span := positions[len(positions)-1].Timestamp.Sub(positions[0].Timestamp).Hours(); span > 0 {
		f.UpdateFrequency = float64(len(positions)) / span
	}
}

func activityFeatures(f *Features, activities []models.Activity) {
	if len(activities) == 0 {
		return
	}
	var completed float64
	var times []float64
	for _, a := range activities {
		switch a.Status {
		case models.ActivityMissed:
			f.MissedActivities++
		case models.ActivityCompleted:
			completed++
			if a.CompletionTime != nil {
				times = append(times, *a.CompletionTime)
			}
		}
	}
	f.CompletionRate = completed / float64(len(activities))
	if len(times) > 1 {
		f.ActivityVariance = stat.PopVariance(times, nil)
	}
}

func deviceFeatures(f *Features, devices []models.WearableDevice, now time.Time) {
	var reporting, connected float64
	var signals []float64
	for _, d := range devices {
		// battery and signal stay at their zero defaults until the first report
		if !d.IsActive || d.LastSeen == nil {
			continue
		}
		reporting++
		if now.Sub(*d.LastSeen) <= connectedWithin {
			connected++
		}
		if d.BatteryLevel < batteryIssueBelow {
			f.BatteryIssues++
		}
		signals = append(signals, d.SignalStrength)
	}
	if reporting == 0 {
		return
	}
	f.DeviceConnectivity = connected / reporting
	f.SignalStrength = stat.Mean(signals, nil)
}

func (s *Scorer) noteFeatures(f *Features, notes []models.Note, days float64, entry logrus.FieldLogger) {
	if len(notes) == 0 {
		return
	}
	f.NoteFrequency = float64(len(notes)) / days

	var scores []float64
	for _, n := range notes {
		f.ConcernKeywords += float64(anomaly.CountConcernKeywords(n.Content))
		switch {
		case n.SentimentScore != nil:
			scores = append(scores, *n.SentimentScore)
		case s.sentiment != nil:
			polarity, err := s.sentiment.ScoreSentiment(n.Content)
			if err != nil {
				entry.WithError(err).Debug("Risk features: sentiment scorer failed for note.")
				continue
			}
			scores = append(scores, anomaly.NormalizeSentiment(polarity))
		}
	}
	if len(scores) > 0 {
		f.SentimentScore = stat.Mean(scores, nil)
	}
}
