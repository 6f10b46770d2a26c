package api

import (
	"github.com/gin-gonic/gin"

	"github.com/HolbyKate/cooptme/internal/config"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	router.GET("/health", handler.HealthCheck)

	api := router.Group("/api")
	{
		users := api.Group("/auth")
		{
			users.POST("/register", handler.Register)
			users.POST("/login", handler.Login)
		}

		profiles := api.Group("/profiles")
		profiles.Use(AuthMiddleware(handler.accounts))
		{
			profiles.POST("/add", handler.AddProfile)
			profiles.GET("", handler.ListProfiles)
			profiles.GET("/search", handler.SearchProfiles)
			profiles.GET("/:id", handler.GetProfile)
			profiles.PUT("/:id", handler.UpdateProfile)
			profiles.DELETE("/:id", handler.DeleteProfile)
		}
	}

	return router
}
