package routes

import (
	"github.com/gin-gonic/gin"

	"guardian_tracker/internal/controllers"
	"guardian_tracker/internal/middleware"
	"guardian_tracker/internal/models"
)

// TrackingRoutes are the staff-facing views and actions on children.
func TrackingRoutes(r *gin.Engine) {
	staff := middleware.RequireAuthWithRole(models.RoleAdmin, models.RoleStaff)

	r.GET("/dashboard", staff, controllers.GetDashboard)
	r.GET("/safe-zone", staff, controllers.GetSafeZone)
	r.GET("/safe-zone/geojson", staff, controllers.GetSafeZoneGeoJSON)

	children := r.Group("/children")
	children.Use(staff)
	{
		children.GET("", controllers.ListChildren)
		children.GET("/:id", controllers.GetChild)
		children.POST("/:id/location", controllers.ReportLocation)
		children.PUT("/:id/status", controllers.SetTrackingStatus)
		children.GET("/:id/track", controllers.GetTrackGeoJSON)

		children.GET("/:id/risk", controllers.GetRiskScore)
		children.POST("/:id/risk", controllers.ScoreRisk)
		children.GET("/:id/anomalies", controllers.ListAnomalies)
		children.POST("/:id/anomalies/detect", controllers.DetectAnomalies)

		children.POST("/:id/activities", controllers.RecordActivity)
		children.POST("/:id/notes", controllers.RecordNote)
		children.POST("/:id/incidents", controllers.RecordIncident)
	}
}
