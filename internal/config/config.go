package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath   string
	LogLevel string

	// DecayEnabled toggles inactivity decay during replay.
	DecayEnabled bool
	// DecayC controls how fast deviation grows per inactive period.
	DecayC float64
	// DecayPeriodDays is the length of one inactivity period.
	DecayPeriodDays float64
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:   getEnv("DB_PATH", "ladder.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var err error
	cfg.DecayEnabled, err = getEnvBool("DECAY_ENABLED", true)
	if err != nil {
		return nil, err
	}
	cfg.DecayC, err = getEnvFloat("DECAY_C", 18.3)
	if err != nil {
		return nil, err
	}
	cfg.DecayPeriodDays, err = getEnvFloat("DECAY_PERIOD_DAYS", 30)
	if err != nil {
		return nil, err
	}

	if cfg.DecayC <= 0 {
		return nil, fmt.Errorf("DECAY_C must be positive, got %v", cfg.DecayC)
	}
	if cfg.DecayPeriodDays <= 0 {
		return nil, fmt.Errorf("DECAY_PERIOD_DAYS must be positive, got %v", cfg.DecayPeriodDays)
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("log_level", cfg.LogLevel).
		Bool("decay_enabled", cfg.DecayEnabled).
		Float64("decay_c", cfg.DecayC).
		Float64("decay_period_days", cfg.DecayPeriodDays).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

var Module = fx.Provide(Load)
