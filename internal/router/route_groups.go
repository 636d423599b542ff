package router

import (
	"rutatotal_backend/internal/handlers"
	"rutatotal_backend/internal/middleware"
	"rutatotal_backend/internal/models"

	"github.com/gin-gonic/gin"
)

// SetupAuthRoutes sets up the public login routes. The identity context
// (admin | delivery) is part of the path so it is always explicit.
func SetupAuthRoutes(apiGroup *gin.RouterGroup, authHandler *handlers.AuthHandler) {
	authRoutes := apiGroup.Group("/auth")
	{
		authRoutes.POST("/:ctx/oauth", authHandler.LoginWithOAuth)
		authRoutes.POST("/:ctx/pin", authHandler.LoginWithPIN)
	}
}

// SetupAuthenticatedAuthRoutes sets up the session routes behind auth.
func SetupAuthenticatedAuthRoutes(authenticatedGroup *gin.RouterGroup, authHandler *handlers.AuthHandler) {
	authRoutes := authenticatedGroup.Group("/auth")
	{
		authRoutes.POST("/:ctx/logout", authHandler.Logout)
		authRoutes.GET("/me", authHandler.GetCurrentSession)
		authRoutes.GET("/preferences", authHandler.GetPreferences)
		authRoutes.PUT("/preferences", authHandler.UpdatePreferences)
	}
}

// SetupOrderRoutes sets up the order routes. Destructive operations carry an
// admin gate at the route layer in addition to the facade's own check.
func SetupOrderRoutes(authenticatedGroup *gin.RouterGroup, orderHandler *handlers.OrderHandler) {
	orderRoutes := authenticatedGroup.Group("/orders")
	{
		orderRoutes.GET("", orderHandler.GetOrders)
		orderRoutes.GET("/history", orderHandler.GetHistory)
		orderRoutes.POST("", orderHandler.CreateOrder)
		orderRoutes.PATCH("/:id/assign", orderHandler.AssignOrder)
		orderRoutes.POST("/:id/finalize", orderHandler.FinalizeOrder)
		orderRoutes.POST("/:id/incident", orderHandler.ReportIncident)
		orderRoutes.POST("/:id/response", orderHandler.RespondToIncident)

		adminOnly := orderRoutes.Group("")
		adminOnly.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
		{
			adminOnly.DELETE("/:id", orderHandler.DeleteOrder)
			adminOnly.POST("/archive", orderHandler.ArchiveOrders)
		}
	}
}

// SetupStaffRoutes sets up the courier roster routes.
func SetupStaffRoutes(authenticatedGroup *gin.RouterGroup, staffHandler *handlers.StaffHandler) {
	staffRoutes := authenticatedGroup.Group("/staff")
	{
		staffRoutes.GET("", staffHandler.GetStaffRoster)

		adminOnly := staffRoutes.Group("")
		adminOnly.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
		{
			adminOnly.PUT("", staffHandler.UpdateStaffRoster)
		}
	}
}

// SetupStreamRoutes sets up the live snapshot streams.
func SetupStreamRoutes(authenticatedGroup *gin.RouterGroup, streamHandler *handlers.StreamHandler) {
	streamRoutes := authenticatedGroup.Group("/stream")
	{
		streamRoutes.GET("/orders", streamHandler.StreamOrders)
		streamRoutes.GET("/staff", streamHandler.StreamStaffRoster)
	}
}
