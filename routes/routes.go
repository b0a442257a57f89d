package routes

import (
	"capstone-portal-api/controllers"
	"capstone-portal-api/middleware"
	"capstone-portal-api/models"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			public.POST("/login", controllers.Login)
			public.POST("/register", controllers.Register)

			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "Capstone Portal API is running",
				})
			})
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// User profile
			protected.GET("/profile", controllers.GetProfile)

			// Projects
			projects := protected.Group("/projects")
			{
				projects.GET("/:id", controllers.GetProject)
				projects.GET("", controllers.ListMyProjects)

				// Only students upload and resubmit
				projects.POST("", middleware.RequireRole(models.RoleStudent), controllers.CreateProject)
				projects.POST("/:id/resubmit", middleware.RequireRole(models.RoleStudent), controllers.ResubmitProject)

				// Faculty and admin review
				projects.GET("/:id/reviews", middleware.RequireRole(models.RoleFaculty, models.RoleAdmin), controllers.GetProjectReviews)
				projects.POST("/:id/review/begin", middleware.RequireRole(models.RoleFaculty, models.RoleAdmin), controllers.BeginReview)
				projects.POST("/:id/review", middleware.RequireRole(models.RoleFaculty, models.RoleAdmin), controllers.SubmitReview)

				// Only admin archives
				projects.POST("/:id/archive", middleware.RequireRole(models.RoleAdmin), controllers.ArchiveProject)
			}

			// Review queue
			protected.GET("/reviews/queue", middleware.RequireRole(models.RoleFaculty, models.RoleAdmin), controllers.GetReviewQueue)

			// Notification feed
			notifications := protected.Group("/notifications")
			{
				notifications.GET("", controllers.GetNotificationFeed)
				notifications.POST("/:id/read", controllers.MarkNotificationRead)
				notifications.POST("/read-all", controllers.MarkAllNotificationsRead)
			}

			// Admin operational views
			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole(models.RoleAdmin))
			{
				admin.GET("/outbox/status", controllers.GetOutboxStatus)
				admin.GET("/outbox/dead-letters", controllers.GetOutboxDeadLetters)
			}
		}

	}

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "Endpoint not found"})
	})
}
