package main

import (
	"log"
	"net/http"

	"rutatotal_backend/internal/config"
	"rutatotal_backend/internal/database"
	"rutatotal_backend/internal/docstore"
	"rutatotal_backend/internal/router"
	"rutatotal_backend/internal/services"
	"rutatotal_backend/pkg/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	utils.InitLogger()

	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}
	utils.SetJWTSecret(cfg.JWTSecret)

	database.InitDB(cfg.ConnString(), cfg.DBSchemaPath)
	utils.LogInfo("Database initialized", map[string]interface{}{"db": cfg.DBName})

	store, err := docstore.NewPostgresStore(database.GetDB(), cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to start document store listener: %v", err)
	}
	defer store.Close()

	engine := gin.Default()
	engine.Use(utils.GinLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	engine.Use(cors.New(corsConfig))

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	verifier := services.NewJWTTokenVerifier(cfg.IdentityTokenSecret)
	router.Setup(engine, database.GetDB(), store, verifier)

	utils.LogInfo("Server starting", map[string]interface{}{"port": cfg.Port})
	if err := engine.Run(":" + cfg.Port); err != nil {
		utils.LogError(err, "Failed to start server")
		log.Fatalf("Failed to start server: %v", err)
	}
}
