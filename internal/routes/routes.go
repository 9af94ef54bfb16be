package routes

import (
	"net/http"

	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"

	"guardian_tracker/internal/app"
	"guardian_tracker/internal/controllers"
)

// SetupRouter builds the gin engine for a wired application. Starting the
// listener is left to the caller.
func SetupRouter(a *app.App) *gin.Engine {
	controllers.Init(a)

	r := gin.New()
	r.Use(ginlog.SetLogger(
		ginlog.WithWriter(a.Log.Out),
		ginlog.WithUTC(true),
		ginlog.WithSkipPath([]string{"/healthz"}),
	))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "zone_version": a.Zones.Current().Version})
	})

	AuthRoutes(r)
	MeRoutes(r)
	TrackingRoutes(r)
	WearableRoutes(r)
	AdminRoutes(r)
	WebSocketRoutes(r)

	return r
}
