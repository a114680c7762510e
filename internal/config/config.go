package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Remote       RemoteConfig
	Store        StoreConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	Identity     IdentityConfig
	WebSocket    WebSocketConfig
	CORS         CORSConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

// RemoteConfig points at the CouchDB server-of-record.
type RemoteConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type StoreConfig struct {
	Path string
}

type SyncConfig struct {
	MaxRetries    int
	DrainInterval time.Duration
}

type ConnectivityConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// IdentityConfig holds the secret shared with the external auth service so
// the agent can verify the bearer tokens it is handed.
type IdentityConfig struct {
	Secret string
}

type WebSocketConfig struct {
	MaxClients int
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	probeInterval, err := time.ParseDuration(getEnv("PROBE_INTERVAL", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_INTERVAL: %w", err)
	}

	probeTimeout, err := time.ParseDuration(getEnv("PROBE_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_TIMEOUT: %w", err)
	}

	drainInterval, err := time.ParseDuration(getEnv("DRAIN_INTERVAL", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid DRAIN_INTERVAL: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8091"),
			Host: getEnv("HOST", "127.0.0.1"),
			Env:  getEnv("ENV", "development"),
		},
		Remote: RemoteConfig{
			Host:     getEnv("REMOTE_DB_HOST", "localhost"),
			Port:     getEnv("REMOTE_DB_PORT", "5984"),
			User:     getEnv("REMOTE_DB_USER", "admin"),
			Password: getEnv("REMOTE_DB_PASSWORD", "password"),
			Name:     getEnv("REMOTE_DB_NAME", "fieldsync"),
		},
		Store: StoreConfig{
			Path: getEnv("STORE_PATH", "fieldsync.db"),
		},
		Sync: SyncConfig{
			MaxRetries:    getEnvAsInt("SYNC_MAX_RETRIES", 3),
			DrainInterval: drainInterval,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: probeInterval,
			ProbeTimeout:  probeTimeout,
		},
		Identity: IdentityConfig{
			Secret: getEnv("IDENTITY_SECRET", "dev-secret-change-in-production"),
		},
		WebSocket: WebSocketConfig{
			MaxClients: getEnvAsInt("WS_MAX_CLIENTS", 5),
			WriteWait:  10 * time.Second,
			PongWait:   60 * time.Second,
			PingPeriod: 54 * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
