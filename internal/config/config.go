package config

import (
	"os"
	"strconv"
	"strings"

	"neuroharmony/domain/harmonize"
	"neuroharmony/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database      DatabaseConfig
	Server        ServerConfig
	Data          DataConfig
	Harmonization harmonize.Config
}

// DatabaseConfig holds database connection settings. An empty URL runs
// the service without persistence.
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string
}

// DataConfig holds input interpretation settings for the CLI
type DataConfig struct {
	InputFile        string
	SiteColumn       string
	CovariateColumns []string
	OutputDir        string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Server: ServerConfig{
			Port: getEnvOrDefault("PORT", "8080"),
		},
		Data: DataConfig{
			InputFile:  os.Getenv("INPUT_FILE"),
			SiteColumn: getEnvOrDefault("SITE_COLUMN", "site"),
			OutputDir:  getEnvOrDefault("OUTPUT_DIR", "reports"),
		},
		Harmonization: loadHarmonizationConfig(),
	}

	if cols := os.Getenv("COVARIATE_COLUMNS"); cols != "" {
		for _, c := range strings.Split(cols, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.Data.CovariateColumns = append(cfg.Data.CovariateColumns, c)
			}
		}
	}

	if err := cfg.Harmonization.Validate(); err != nil {
		return nil, errors.Wrap(err, "harmonization configuration invalid")
	}
	return cfg, nil
}

// loadHarmonizationConfig starts from the engineering defaults and
// applies environment overrides for the tunable numerics.
func loadHarmonizationConfig() harmonize.Config {
	h := harmonize.DefaultConfig()
	h.CombatTolerance = getEnvFloatOrDefault("COMBAT_TOLERANCE", h.CombatTolerance)
	h.CombatMaxIter = getEnvIntOrDefault("COMBAT_MAX_ITER", h.CombatMaxIter)
	h.MeanTolerance = getEnvFloatOrDefault("MEAN_TOLERANCE", h.MeanTolerance)
	h.MeanMaxIter = getEnvIntOrDefault("MEAN_MAX_ITER", h.MeanMaxIter)
	h.LeakageFolds = getEnvIntOrDefault("LEAKAGE_FOLDS", h.LeakageFolds)
	h.GateMaxExceed = getEnvFloatOrDefault("GATE_MAX_EXCEED", h.GateMaxExceed)
	h.Seed = int64(getEnvIntOrDefault("RNG_SEED", int(h.Seed)))
	h.ParallelWorkers = getEnvIntOrDefault("PARALLEL_WORKERS", h.ParallelWorkers)
	return h
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
