// Package config loads the §6 environment configuration, following the
// teacher's godotenv + getEnv/getEnvAsInt/getEnvAsBool loading shape
// (internal/config/config.go).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven knob of §6.
type Config struct {
	Mode string // "simulated" | "realtime" | "hybrid" | "historical"

	SimIntervalMs         int
	RealtimeSimIntervalMs int
	TradeIntervalMs       int
	RealtimeTradeInterval int
	MinutesPerTick        float64

	HistoricalStartDate time.Time
	MaxSimulationDays    int

	UseDelayedData  bool
	DataDelayMinutes int

	LLMMaxConcurrentRequests int
	LLMRequestSpacingMs      int
	LLMAutoSpacing           bool
	LLMMinRequestSpacingMs   int

	ChatEnabled             bool
	ChatMaxMessagesPerAgent int
	ChatMaxMessagesPerUser  int
	ChatMessageMaxLength    int

	PersistenceDriver string // "jsonfile" | "postgres" | "sqlite"
	PostgresURL       string
	PersistPath       string
	PostgresNamespace string
	PostgresSnapshotID string
	SQLitePath        string
	SQLiteNamespace   string

	ResetSimulation bool

	SnapshotAutosaveIntervalMs int

	DisabledSimulations map[string]bool

	Port     int
	DevMode  bool
	LogLevel string

	TradernetAPIKey    string
	TradernetAPISecret string
	AlphaVantageAPIKey string
	StreamURL          string

	S3Bucket          string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	WarmCachePath string
}

// Load reads configuration from environment variables, loading a .env
// file first if one exists (godotenv.Load() returns an error when there
// is none, which is fine to ignore).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Mode: getEnv("MODE", "simulated"),

		SimIntervalMs:         getEnvAsInt("SIM_INTERVAL_MS", 30_000),
		RealtimeSimIntervalMs: getEnvAsInt("REALTIME_SIM_INTERVAL_MS", 60_000),
		TradeIntervalMs:       getEnvAsInt("TRADE_INTERVAL_MS", 2*60*60*1000),
		RealtimeTradeInterval: getEnvAsInt("REALTIME_TRADE_INTERVAL_MS", 30*60*1000),
		MinutesPerTick:        getEnvAsFloat("SIM_MARKET_MINUTES_PER_TICK", 30),

		MaxSimulationDays: getEnvAsInt("MAX_SIMULATION_DAYS", 0),

		UseDelayedData:   getEnvAsBool("USE_DELAYED_DATA", false),
		DataDelayMinutes: getEnvAsInt("DATA_DELAY_MINUTES", 15),

		LLMMaxConcurrentRequests: getEnvAsInt("LLM_MAX_CONCURRENT_REQUESTS", 3),
		LLMRequestSpacingMs:      getEnvAsInt("LLM_REQUEST_SPACING_MS", 0),
		LLMAutoSpacing:           getEnvAsBool("LLM_AUTO_SPACING", true),
		LLMMinRequestSpacingMs:   getEnvAsInt("LLM_MIN_REQUEST_SPACING_MS", 500),

		ChatEnabled:             getEnvAsBool("CHAT_ENABLED", true),
		ChatMaxMessagesPerAgent: getEnvAsInt("CHAT_MAX_MESSAGES_PER_AGENT", 3),
		ChatMaxMessagesPerUser:  getEnvAsInt("CHAT_MAX_MESSAGES_PER_USER", 3),
		ChatMessageMaxLength:    getEnvAsInt("CHAT_MESSAGE_MAX_LENGTH", 200),

		PersistenceDriver:  getEnv("PERSISTENCE_DRIVER", "jsonfile"),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		PersistPath:        getEnv("PERSIST_PATH", "./data"),
		PostgresNamespace:  getEnv("POSTGRES_NAMESPACE", "marketsim"),
		PostgresSnapshotID: getEnv("POSTGRES_SNAPSHOT_ID", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/marketsim.db"),
		SQLiteNamespace:    getEnv("SQLITE_NAMESPACE", "marketsim"),

		ResetSimulation: getEnvAsBool("RESET_SIMULATION", false),

		SnapshotAutosaveIntervalMs: getEnvAsInt("SNAPSHOT_AUTOSAVE_INTERVAL_MS", 5*60*1000),

		DisabledSimulations: loadDisabledSimulations(),

		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TradernetAPIKey:    getEnv("TRADERNET_API_KEY", ""),
		TradernetAPISecret: getEnv("TRADERNET_API_SECRET", ""),
		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		StreamURL:          getEnv("STREAM_URL", ""),

		S3Bucket:          getEnv("ARCHIVAL_S3_BUCKET", ""),
		S3Prefix:          getEnv("ARCHIVAL_S3_PREFIX", "completions/"),
		S3AccessKeyID:     getEnv("ARCHIVAL_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("ARCHIVAL_S3_SECRET_ACCESS_KEY", ""),

		WarmCachePath: getEnv("MARKET_DATA_WARM_CACHE_PATH", "./data/marketdata_warmcache.msgpack"),
	}

	startDate, err := parseStartDate(getEnv("HISTORICAL_SIMULATION_START_DATE", ""))
	if err != nil {
		return nil, err
	}
	cfg.HistoricalStartDate = startDate

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the few settings whose misconfiguration would be a
// startup-time footgun rather than a recoverable per-tick error.
func (c *Config) Validate() error {
	switch c.Mode {
	case "simulated", "realtime", "hybrid", "historical":
	default:
		return fmt.Errorf("invalid MODE %q: must be simulated, realtime, hybrid, or historical", c.Mode)
	}
	switch c.PersistenceDriver {
	case "jsonfile", "sqlite":
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("PERSISTENCE_DRIVER=postgres requires POSTGRES_URL")
		}
	default:
		return fmt.Errorf("invalid PERSISTENCE_DRIVER %q: must be jsonfile, postgres, or sqlite", c.PersistenceDriver)
	}
	return nil
}

// IsSimulationDisabled reports whether SIM_ENABLE_{id}=false was set.
func (c *Config) IsSimulationDisabled(id string) bool {
	return c.DisabledSimulations[strings.ToUpper(id)]
}

func parseStartDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid HISTORICAL_SIMULATION_START_DATE %q: %w", raw, err)
	}
	return t, nil
}

// loadDisabledSimulations scans the environment for SIM_ENABLE_{ID}=false,
// since the candidate set of simulation ids isn't known until the caller
// registers its simulation.SimulationType values.
func loadDisabledSimulations() map[string]bool {
	disabled := make(map[string]bool)
	const prefix = "SIM_ENABLE_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		id := strings.TrimPrefix(parts[0], prefix)
		if enabled, err := strconv.ParseBool(parts[1]); err == nil && !enabled {
			disabled[strings.ToUpper(id)] = true
		}
	}
	return disabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
