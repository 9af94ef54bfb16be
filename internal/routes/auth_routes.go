package routes

import (
	"github.com/gin-gonic/gin"

	"guardian_tracker/internal/controllers"
)

func AuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", controllers.LoginUser)
	}
}
