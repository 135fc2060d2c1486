package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"project/backend/access"
	"project/backend/cache"
	"project/backend/config"
	"project/backend/middleware"
	"project/backend/routes"
	"project/backend/services"
	"project/backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Initialize database
	db, err := utils.InitDB(cfg)
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}

	// Initialize logger
	logger := utils.InitLogger()

	// Stores, cache and access engine
	entities := access.NewGormEntityStore(db)
	grants := access.NewGormGrantStore(db)
	users := access.NewGormUserStore(db)
	cacheHandler := cache.NewHandler(entities, time.Duration(cfg.CacheTTLHours)*time.Hour)
	engine := access.NewEngine(entities, grants, users, cacheHandler, logger)

	// Background expiration sweep
	sweeper := services.NewExpirySweeper(engine, grants, cacheHandler, logger)
	sweeper.Start(time.Duration(cfg.SweepIntervalHours) * time.Hour)

	// Create Fiber app
	app := fiber.New()

	// Middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(middleware.LoggingMiddleware(logger))

	// Setup routes
	routes.SetupRoutes(app, db, cfg, engine, cacheHandler, grants)

	// Stop the sweeper and drain the listener on SIGINT/SIGTERM
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		sweeper.Stop()
		if err := app.Shutdown(); err != nil {
			logger.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
