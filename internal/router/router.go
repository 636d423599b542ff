package router

import (
	"database/sql"

	"rutatotal_backend/internal/docstore"
	"rutatotal_backend/internal/handlers"
	"rutatotal_backend/internal/middleware"
	"rutatotal_backend/internal/repositories"
	"rutatotal_backend/internal/services"

	"github.com/gin-gonic/gin"
)

// Setup initializes the routing for the application.
func Setup(engine *gin.Engine, db *sql.DB, store docstore.Store, verifier services.TokenVerifier) {
	// Repositories
	sessionRepo := repositories.NewSessionRepository(db)

	// Services
	authService := services.NewAuthService(sessionRepo, db, store, verifier)
	orderService := services.NewOrderService(store)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	orderHandler := handlers.NewOrderHandler(orderService)
	staffHandler := handlers.NewStaffHandler(orderService)
	streamHandler := handlers.NewStreamHandler(orderService)

	apiV1 := engine.Group("/api/v1")

	// Login endpoints are the only public surface.
	SetupAuthRoutes(apiV1, authHandler)

	authenticated := apiV1.Group("")
	authenticated.Use(middleware.AuthMiddleware(authService))
	{
		SetupAuthenticatedAuthRoutes(authenticated, authHandler)
		SetupOrderRoutes(authenticated, orderHandler)
		SetupStaffRoutes(authenticated, staffHandler)
		SetupStreamRoutes(authenticated, streamHandler)
	}
}
