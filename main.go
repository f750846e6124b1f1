package main

import (
	"log"

	"forge-sync/config"
	"forge-sync/database"
	"forge-sync/handlers"
	"forge-sync/middleware"
	"forge-sync/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Configuration validation failed: ", err)
	}

	// Initialize database
	db, err := database.Init(cfg.DBPath)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}

	// Start rate limit cleanup goroutine
	go middleware.CleanupRateLimitStore()

	// Hourly server statistics
	statsService := services.NewStatisticsService(db, cfg.DBPath)
	statsService.Start()
	defer statsService.Stop()

	router := setupRouter(cfg, db, statsService)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

func setupRouter(cfg *config.Config, db *gorm.DB, statsService *services.StatisticsService) *gin.Engine {
	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-API-Key, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check (no auth)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	syncHandler := handlers.NewSyncHandler(db, statsService)
	statsHandler := handlers.NewStatsHandler(db)
	machineHandler := handlers.NewMachineHandler(db)

	// All v1 routes require the shared API key and share one rate budget
	v1 := router.Group("/v1")
	v1.Use(
		middleware.APIKeyAuth(cfg.APIKey),
		middleware.RateLimit(cfg.RateLimitMax, cfg.RateLimitWindow),
	)
	{
		v1.POST("/sync", syncHandler.Sync)

		v1.GET("/stats/daily", statsHandler.Daily)
		v1.GET("/stats/totals", statsHandler.Totals)
		v1.GET("/stats/machines", statsHandler.Machines)
		v1.GET("/stats/models", statsHandler.Models)
		v1.GET("/stats/machine/:hostname", statsHandler.Machine)
		v1.GET("/stats/server", statsHandler.Server)

		v1.DELETE("/machines/:hostname", machineHandler.Delete)
		v1.POST("/machines/:hostname/reactivate", machineHandler.Reactivate)
	}

	return router
}
