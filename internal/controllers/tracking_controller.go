package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/geo"
	"guardian_tracker/internal/ingest"
	"guardian_tracker/internal/middleware"
	"guardian_tracker/internal/tracking"
)

// trackWindow is how far back the track GeoJSON reaches.
const trackWindow = 7 * 24 * time.Hour

type locationInput struct {
	Latitude  *float64   `json:"latitude" binding:"required"`
	Longitude *float64   `json:"longitude" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
	IsUnusual bool       `json:"is_unusual"`
}

func (in locationInput) report(childID uint, source string, actor *uint) tracking.Report {
	r := tracking.Report{
		ChildID:    childID,
		Position:   geo.Point{Lat: *in.Latitude, Lon: *in.Longitude},
		Source:     source,
		IsUnusual:  in.IsUnusual,
		ReportedBy: actor,
	}
	if in.Timestamp != nil {
		r.Timestamp = *in.Timestamp
	}
	return r
}

func actorID(c *gin.Context) *uint {
	if id, ok := middleware.UserID(c); ok {
		return &id
	}
	return nil
}

// ReportLocation records a position entered by staff.
func ReportLocation(c *gin.Context) {
	reportLocation(c, "manual")
}

// SimulateLocation records a position on behalf of a child, for drills and testing.
func SimulateLocation(c *gin.Context) {
	reportLocation(c, "simulated")
}

func reportLocation(c *gin.Context, source string) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input locationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location input: " + err.Error()})
		return
	}
	res, err := svc.Machine.Report(c.Request.Context(), input.report(id, source, actorID(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReportWearableLocation accepts a position pushed by a wearable over HTTP.
// The device authenticates with its device_id and secret.
func ReportWearableLocation(c *gin.Context) {
	var t ingest.Telemetry
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location data format: " + err.Error()})
		return
	}
	if t.DeviceID == "" {
		respondError(c, newFieldError("Invalid location data format", map[string]string{"device_id": "required"}))
		return
	}
	point, err := t.Point()
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := svc.Machine.ReportFromDevice(c.Request.Context(), tracking.DeviceReport{
		DeviceID:       t.DeviceID,
		Secret:         t.Secret,
		Position:       point,
		Timestamp:      t.Timestamp,
		BatteryLevel:   t.BatteryLevel,
		SignalStrength: t.SignalStrength,
		WasReset:       t.WasReset,
		Source:         "wearable",
	})
	if err != nil {
		if errors.Is(err, tracking.ErrDeviceUnauthorized) || errors.Is(err, tracking.ErrDeviceInactive) {
			logrus.WithError(err).WithField("device_id", t.DeviceID).Warn("Wearable location rejected.")
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            res.Tracking.Status,
		"outside":           res.Outside,
		"position_recorded": point != nil,
	})
}

// SetTrackingStatus applies a staff override of a child's status.
func SetTrackingStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input struct {
		Status string `json:"status" binding:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status input: " + err.Error()})
		return
	}
	row, err := svc.Machine.SetStatus(c.Request.Context(), tracking.Override{
		ChildID: id,
		Status:  input.Status,
		Notes:   input.Notes,
		ActorID: actorID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// GetTrackGeoJSON returns the child's positions from the last seven days as a
// GeoJSON Feature.
func GetTrackGeoJSON(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if !childExists(c, id) {
		return
	}
	since := time.Now().Add(-trackWindow)
	positions, err := svc.Store.PositionsSince(ctx, id, since)
	if err != nil {
		respondError(c, err)
		return
	}
	points := make([]geo.Point, 0, len(positions))
	for _, p := range positions {
		points = append(points, geo.Point{Lat: p.Latitude, Lon: p.Longitude})
	}
	props := map[string]interface{}{
		"child_id":  id,
		"positions": len(points),
		"since":     since.UTC().Format(time.RFC3339),
	}
	body, err := geo.TrackGeoJSON(points, props)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}
