package routes

import (
	"github.com/gin-gonic/gin"

	"guardian_tracker/internal/controllers"
	"guardian_tracker/internal/middleware"
)

// MeRoutes are the caller's own account, devices and inbox.
func MeRoutes(r *gin.Engine) {
	me := r.Group("/me")
	me.Use(middleware.RequireAuth())
	{
		me.GET("", controllers.GetProfile)
		me.PUT("/preferences", controllers.UpdatePreferences)
		me.GET("/devices", controllers.ListDevices)
		me.POST("/devices", controllers.RegisterDevice)
		me.DELETE("/devices/:token", controllers.DeregisterDevice)
		me.GET("/notifications", controllers.ListNotifications)
		me.POST("/notifications/:id/read", controllers.MarkNotificationRead)
	}
}
