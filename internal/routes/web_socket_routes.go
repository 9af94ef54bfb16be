package routes

import (
	"github.com/gin-gonic/gin"

	"guardian_tracker/internal/controllers"
)

// WebSocketRoutes authenticate inside the handlers through ?token=.
func WebSocketRoutes(r *gin.Engine) {
	wsRoutes := r.Group("/ws")
	{
		wsRoutes.GET("/dashboard", controllers.HandleDashboardWebSocket)
		wsRoutes.GET("/anomalies", controllers.HandleAnomalyWebSocket)
	}
}
