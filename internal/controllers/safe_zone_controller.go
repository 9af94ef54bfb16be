package controllers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/geo"
	"guardian_tracker/internal/geofence"
	"guardian_tracker/internal/middleware"
	"guardian_tracker/internal/models"
)

// zoneSweepTimeout bounds the escape sweep started after a zone change.
const zoneSweepTimeout = 10 * time.Minute

// zoneMu keeps the provider in the order the store assigned versions.
var zoneMu sync.Mutex

// GetSafeZone returns the active zone.
func GetSafeZone(c *gin.Context) {
	c.JSON(http.StatusOK, svc.Zones.Current())
}

// GetSafeZoneGeoJSON returns the active zone as a GeoJSON Feature.
func GetSafeZoneGeoJSON(c *gin.Context) {
	z := svc.Zones.Current()
	body, err := geo.ZoneFeature(z.Name, z.Center, z.RadiusMeters, z.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

// UpdateSafeZone replaces the zone, persists it and re-evaluates every child
// against the new geometry in the background.
func UpdateSafeZone(c *gin.Context) {
	var input struct {
		Name             string   `json:"name"`
		Latitude         *float64 `json:"latitude" binding:"required"`
		Longitude        *float64 `json:"longitude" binding:"required"`
		SafeRadiusMeters float64  `json:"safe_radius_meters" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid safe zone input: " + err.Error()})
		return
	}

	zoneMu.Lock()
	defer zoneMu.Unlock()

	current := svc.Zones.Current()
	next := geofence.SafeZone{
		ID:           current.ID,
		Name:         input.Name,
		Center:       geo.Point{Lat: *input.Latitude, Lon: *input.Longitude},
		RadiusMeters: input.SafeRadiusMeters,
	}
	if next.Name == "" {
		next.Name = current.Name
	}
	if err := next.Validate(); err != nil {
		respondError(c, err)
		return
	}

	row := models.SafeZone{
		Name:             next.Name,
		Latitude:         next.Center.Lat,
		Longitude:        next.Center.Lon,
		SafeRadiusMeters: next.RadiusMeters,
	}
	row.ID = next.ID
	if err := svc.Store.UpdateSafeZone(c.Request.Context(), &row); err != nil {
		respondError(c, err)
		return
	}
	next.Version = row.Version
	applied, err := svc.Zones.Replace(next)
	if err != nil {
		respondError(c, err)
		return
	}

	actor, _ := middleware.UserID(c)
	entry := logrus.WithFields(logrus.Fields{
		"zone_version": applied.Version,
		"center":       applied.Center.String(),
		"radius_m":     applied.RadiusMeters,
		"actor_id":     actor,
	})
	entry.Info("Safe zone updated.")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), zoneSweepTimeout)
		defer cancel()
		sum, err := svc.Runner.RunEscapes(ctx)
		if err != nil {
			entry.WithError(err).Error("Escape sweep after safe zone update failed.")
			return
		}
		entry.WithFields(logrus.Fields{"sweep_id": sum.RunID, "escalated": sum.Escalated}).Info("Escape sweep after safe zone update finished.")
	}()

	c.JSON(http.StatusOK, applied)
}
