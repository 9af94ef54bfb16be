package routes

import (
	"github.com/gin-gonic/gin"

	"guardian_tracker/internal/controllers"
)

// WearableRoutes is the device ingest path. Devices authenticate with their
// own id and secret instead of a bearer token.
func WearableRoutes(r *gin.Engine) {
	wearables := r.Group("/wearables")
	{
		wearables.POST("/location", controllers.ReportWearableLocation)
	}
}
