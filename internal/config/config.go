package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
	"github.com/RHEW-Laboratory/WU-Scraper/internal/store"
)

type AppConfig struct {
	// Source.
	BaseURL         string
	UserAgent       string
	HTTPTimeout     time.Duration
	FetchMaxRetries int
	FetchBackoff    time.Duration
	RequestInterval time.Duration // minimum spacing between requests (0 = none)

	// Log storage.
	Store store.Options

	// Serve mode.
	Port              string
	QueuePollInterval time.Duration

	// Stations refreshed every day with the previous day's data.
	DailyStations  []string
	DailyHarvestAt string // HH:MM in UTC, empty disables
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.BaseURL = getenvDefault("WU_BASE_URL", "https://www.wunderground.com")
	cfg.UserAgent = getenvDefault("WU_USER_AGENT", "wu-scraper/1.0")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.FetchBackoff, err = getenvDuration("FETCH_BACKOFF", "500ms"); err != nil {
		return nil, err
	}
	if cfg.RequestInterval, err = getenvDuration("REQUEST_INTERVAL", "0s"); err != nil {
		return nil, err
	}
	if cfg.QueuePollInterval, err = getenvDuration("QUEUE_POLL_INTERVAL", "5s"); err != nil {
		return nil, err
	}
	// Retries stay off unless asked for: a failed window ends the run.
	cfg.FetchMaxRetries = getenvInt("FETCH_MAX_RETRIES", 0)
	if cfg.FetchMaxRetries < 0 {
		return nil, fmt.Errorf("invalid FETCH_MAX_RETRIES: %d", cfg.FetchMaxRetries)
	}

	cfg.Store = store.Options{
		Backend: getenvDefault("STORE_BACKEND", store.BackendCSV),
		Dir:     getenvDefault("LOG_DIR", "."),
		Postgres: store.PostgresConfig{
			DSN:            os.Getenv("PG_DSN"),
			Schema:         getenvDefault("PG_SCHEMA", "public"),
			MaxConns:       getenvInt("PG_MAX_CONNS", 2),
			SimpleProtocol: getenvBool("PG_SIMPLE_PROTOCOL", false),
		},
	}
	switch cfg.Store.Backend {
	case store.BackendCSV, store.BackendMemory:
	case store.BackendPostgres:
		if cfg.Store.Postgres.DSN == "" {
			return nil, fmt.Errorf("STORE_BACKEND=postgres requires PG_DSN")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.Store.Backend)
	}

	cfg.Port = getenvDefault("PORT", "8080")

	stations, err := loadStations()
	if err != nil {
		return nil, err
	}
	cfg.DailyStations = stations

	cfg.DailyHarvestAt = os.Getenv("DAILY_HARVEST_AT")
	if cfg.DailyHarvestAt != "" {
		if _, err := time.Parse("15:04", cfg.DailyHarvestAt); err != nil {
			return nil, fmt.Errorf("invalid DAILY_HARVEST_AT: %w", err)
		}
	}

	return cfg, nil
}

func loadStations() ([]string, error) {
	raw := os.Getenv("HARVEST_STATIONS")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var stations []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if err := history.CheckStation(s); err != nil {
			return nil, fmt.Errorf("invalid HARVEST_STATIONS entry %q: %w", s, err)
		}
		stations = append(stations, s)
	}
	return stations, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
