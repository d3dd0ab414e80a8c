package main

import (
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"neuroharmony/adapters/postgres"
	"neuroharmony/app"
	"neuroharmony/internal"
	"neuroharmony/internal/config"
	"neuroharmony/internal/errors"
	"neuroharmony/ports"
	"neuroharmony/ui"
)

// initDatabase connects to PostgreSQL and ensures the run schema exists
func initDatabase(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if err := postgres.Migrate(db); err != nil {
		return nil, errors.Wrap(err, "database migration failed")
	}
	return db, nil
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := internal.NewDefaultLogger()

	// Persistence is optional; without DATABASE_URL the API still runs
	// harmonizations, it just cannot store or list past runs.
	var repo ports.RunRepository
	if appConfig.Database.URL != "" {
		db, err := initDatabase(appConfig)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()
		repo = postgres.NewRunRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, running without run persistence")
	}

	service := app.NewHarmonizationService(logger)
	httpApp := ui.NewApp(service, repo, appConfig.Harmonization, logger)

	if err := httpApp.Start(ui.Config{Port: appConfig.Server.Port}); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
