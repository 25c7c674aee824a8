// Package config reads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"ride-agent/internal/domain"
)

// Session backends.
const (
	BackendRedis  = "redis"
	BackendDynamo = "dynamodb"
	BackendMemory = "memory"
)

// Forecast sources.
const (
	SourceOpenMeteo = "open-meteo"
	SourceWarehouse = "warehouse"
)

type Config struct {
	Port string

	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DynamoTable    string

	SessionTTL    time.Duration
	ConditionsTTL time.Duration

	MaxTurns        int
	MaxMessageChars int

	ForecastSource   string
	WarehouseDBURL   string
	ForecastTimeout  time.Duration
	NarrationTimeout time.Duration

	OllamaBaseURL       string
	OllamaModel         string
	NarrationTokenParam string

	DefaultPreferences domain.UserPreferences
}

// Load reads configuration from the environment with defaults suitable for
// local development. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getenvDefault("PORT", "8080"),
		SessionBackend:      getenvDefault("SESSION_BACKEND", BackendRedis),
		RedisAddr:           getenvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		DynamoTable:         os.Getenv("DYNAMO_TABLE"),
		ForecastSource:      getenvDefault("FORECAST_SOURCE", SourceOpenMeteo),
		WarehouseDBURL:      os.Getenv("WAREHOUSE_DATABASE_URL"),
		OllamaBaseURL:       getenvDefault("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:         getenvDefault("OLLAMA_MODEL", "llama3.1"),
		NarrationTokenParam: os.Getenv("NARRATION_TOKEN_PARAM"),
	}

	var err error
	if cfg.RedisDB, err = getenvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.MaxTurns, err = getenvInt("MAX_TURNS", 40); err != nil {
		return nil, err
	}
	if cfg.MaxMessageChars, err = getenvInt("MAX_MESSAGE_CHARS", 4000); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getenvDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConditionsTTL, err = getenvDuration("CONDITIONS_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ForecastTimeout, err = getenvDuration("FORECAST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.NarrationTimeout, err = getenvDuration("NARRATION_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	switch cfg.SessionBackend {
	case BackendRedis, BackendMemory:
	case BackendDynamo:
		if cfg.DynamoTable == "" {
			return nil, fmt.Errorf("config: DYNAMO_TABLE is required for the %s backend", BackendDynamo)
		}
	default:
		return nil, fmt.Errorf("config: unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}

	switch cfg.ForecastSource {
	case SourceOpenMeteo:
	case SourceWarehouse:
		if cfg.WarehouseDBURL == "" {
			return nil, fmt.Errorf("config: WAREHOUSE_DATABASE_URL is required for the %s source", SourceWarehouse)
		}
	default:
		return nil, fmt.Errorf("config: unknown FORECAST_SOURCE %q", cfg.ForecastSource)
	}

	prefs, err := loadDefaultPreferences()
	if err != nil {
		return nil, err
	}
	cfg.DefaultPreferences = prefs

	return cfg, nil
}

// loadDefaultPreferences builds the preferences applied to sessions started
// without an explicit set. The location has no meaningful default; it must
// be configured per deployment.
func loadDefaultPreferences() (domain.UserPreferences, error) {
	p := domain.UserPreferences{
		Timezone: getenvDefault("DEFAULT_TIMEZONE", "UTC"),
	}

	var err error
	if p.Latitude, err = getenvFloat("DEFAULT_LATITUDE", 0); err != nil {
		return p, err
	}
	if p.Longitude, err = getenvFloat("DEFAULT_LONGITUDE", 0); err != nil {
		return p, err
	}
	if p.MinTempC, err = getenvFloat("DEFAULT_MIN_TEMP_C", 5); err != nil {
		return p, err
	}
	if p.MaxTempC, err = getenvFloat("DEFAULT_MAX_TEMP_C", 33); err != nil {
		return p, err
	}
	if p.MaxWindKph, err = getenvFloat("DEFAULT_MAX_WIND_KPH", 28); err != nil {
		return p, err
	}
	if p.MaxAQI, err = getenvFloat("DEFAULT_MAX_AQI", 100); err != nil {
		return p, err
	}
	if p.MaxPrecipProb, err = getenvFloat("DEFAULT_MAX_PRECIP_PROB", 40); err != nil {
		return p, err
	}
	if p.MinVisibilityKm, err = getenvFloat("DEFAULT_MIN_VISIBILITY_KM", 1); err != nil {
		return p, err
	}
	if p.MinRideDurationHr, err = getenvInt("DEFAULT_MIN_RIDE_DURATION_HR", 1); err != nil {
		return p, err
	}
	if p.RideWindowHours, err = getenvInt("DEFAULT_RIDE_WINDOW_HOURS", 48); err != nil {
		return p, err
	}
	p.AvoidDarkness = getenvDefault("DEFAULT_AVOID_DARKNESS", "false") == "true"

	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("config: default preferences: %w", err)
	}
	return p, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return d, nil
}
