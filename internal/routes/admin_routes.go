package routes

import (
	"github.com/gin-gonic/gin"

	"guardian_tracker/internal/controllers"
	"guardian_tracker/internal/middleware"
	"guardian_tracker/internal/models"
)

func AdminRoutes(r *gin.Engine) {
	admin := r.Group("/admin")
	admin.Use(middleware.RequireAuthWithRole(models.RoleAdmin))
	{
		admin.POST("/users", controllers.CreateUser)

		admin.POST("/children", controllers.CreateChild)
		admin.POST("/children/:id/simulate", controllers.SimulateLocation)

		admin.GET("/wearables", controllers.ListWearables)
		admin.POST("/wearables", controllers.CreateWearable)
		admin.PUT("/wearables/:id", controllers.UpdateWearable)
		admin.DELETE("/wearables/:id", controllers.DeleteWearable)

		admin.PUT("/safe-zone", controllers.UpdateSafeZone)

		admin.POST("/sweeps/:kind", controllers.TriggerSweep)
	}
}
