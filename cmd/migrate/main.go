package main

import (
	"log"

	"visaconnect-relay/internal/config"
	"visaconnect-relay/internal/database"
	"visaconnect-relay/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	appLogger, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: "console"})
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting database migration...")

	// Connect to database
	db, err := database.NewPostgresConnection(cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.Fatal("Failed to get database instance", "error", err)
	}
	defer sqlDB.Close()

	appLogger.Info("Database connection established")

	// Auto migrate the schema
	appLogger.Info("Running GORM auto-migration...")
	if err := database.Migrate(db); err != nil {
		appLogger.Fatal("Migration failed", "error", err)
	}

	appLogger.Info("Database migration completed successfully!")
}
