package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Required settings are validated at load
// time; everything else falls back to a sane default.
type Config struct {
	Port    string `yaml:"port"`
	GinMode string `yaml:"gin_mode"`

	// Database
	DatabaseURL             string `yaml:"database_url"`
	DBMaxOpenConns          int    `yaml:"db_max_open_conns"`
	DBConnectTimeoutSeconds int    `yaml:"db_connect_timeout_seconds"`
	DBConnMaxIdleSeconds    int    `yaml:"db_conn_max_idle_seconds"`

	// Admin surface
	AdminMasterKey string `yaml:"admin_master_key"`

	// Upstream capture service
	TelegrabWSURL  string `yaml:"telegrab_ws_url"`
	TelegrabAPIKey string `yaml:"telegrab_api_key"`

	// Broadcast
	BroadcastParsedSignals bool `yaml:"broadcast_parsed_signals"`

	// Optional NATS mirror of broadcast signals
	NatsURL string `yaml:"nats_url"`

	// Timers
	BufferFlushIntervalSeconds int `yaml:"buffer_flush_interval_seconds"`
	StatsIntervalSeconds       int `yaml:"stats_interval_seconds"`

	// Server
	ServerShutdownTimeoutSeconds int `yaml:"server_shutdown_timeout_seconds"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads the .env file if present, then the environment, then an optional
// YAML overlay file pointed at by CONFIG_FILE. Missing required settings are
// returned as an error; boot should treat that as fatal.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		DatabaseURL:             os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:          getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
		DBConnectTimeoutSeconds: getEnvAsInt("DB_CONNECT_TIMEOUT_SECONDS", 2),
		DBConnMaxIdleSeconds:    getEnvAsInt("DB_CONN_MAX_IDLE_SECONDS", 30),

		AdminMasterKey: os.Getenv("ADMIN_MASTER_KEY"),

		TelegrabWSURL:  os.Getenv("TELEGRAB_WS_URL"),
		TelegrabAPIKey: os.Getenv("TELEGRAB_API_KEY"),

		BroadcastParsedSignals: getEnvOrDefault("BROADCAST_PARSED_SIGNALS", "false") == "true",

		NatsURL: getEnvOrDefault("NATS_URL", ""),

		BufferFlushIntervalSeconds: getEnvAsInt("BUFFER_FLUSH_INTERVAL_SECONDS", 30),
		StatsIntervalSeconds:       getEnvAsInt("STATS_INTERVAL_SECONDS", 60),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 10),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Optional YAML overlay for settings that should not come from the
	// environment. Absence is not an error.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	if configFile, err := os.Open(configFilePath); err == nil {
		defer configFile.Close()
		if err := LoadConfigFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFilePath, err)
		}
		log.Printf("Loaded config file: %v", configFilePath)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.AdminMasterKey == "" {
		return fmt.Errorf("ADMIN_MASTER_KEY is required")
	}
	if c.TelegrabWSURL == "" {
		return fmt.Errorf("TELEGRAB_WS_URL is required")
	}
	if c.TelegrabAPIKey == "" {
		return fmt.Errorf("TELEGRAB_API_KEY is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// LoadConfigFile decodes a YAML config overlay into config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
