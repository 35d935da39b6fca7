package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string   `json:"serverAddress"`
	DatabasePath  string   `json:"databasePath"`
	DatabaseURL   string   `json:"databaseUrl"`
	Client        Client   `json:"client"`
	Sync          Sync     `json:"sync"`
	Security      Security `json:"security"`
}

// Client configuration for the on-device sync core
type Client struct {
	DatabasePath string `json:"databasePath"`
	DeviceID     string `json:"deviceId"`
	RemoteURL    string `json:"remoteUrl"`
}

// Sync tuning for the engine, the mutation log and the connectivity monitor
type Sync struct {
	DrainBatchSize      int    `json:"drainBatchSize"`
	MaxAttempts         int    `json:"maxAttempts"`
	MaxPendingEntries   int    `json:"maxPendingEntries"`
	RequestTimeoutSec   int    `json:"requestTimeoutSec"`
	BackoffInitialMS    int    `json:"backoffInitialMs"`
	BackoffMaxMS        int    `json:"backoffMaxMs"`
	DebounceMS          int    `json:"debounceMs"`
	ProbeURL            string `json:"probeUrl"`
	ProbeIntervalSec    int    `json:"probeIntervalSec"`
	ProbeTimeoutSec     int    `json:"probeTimeoutSec"`
}

// Security configuration for the sync server
type Security struct {
	BearerHeader string `json:"bearerHeader"`
	DeviceHeader string `json:"deviceHeader"`
}

// UsePostgres returns true if the server should use PostgreSQL
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "syncd.db",
		Client: Client{
			DatabasePath: "sync-client.db",
			RemoteURL:    "http://localhost:5000",
		},
		Sync: Sync{
			DrainBatchSize:    20,
			MaxAttempts:       5,
			MaxPendingEntries: 1000,
			RequestTimeoutSec: 15,
			BackoffInitialMS:  1000,
			BackoffMaxMS:      60000,
			DebounceMS:        2000,
			ProbeURL:          "http://localhost:5000/health",
			ProbeIntervalSec:  15,
			ProbeTimeoutSec:   5,
		},
		Security: Security{
			BearerHeader: "Authorization",
			DeviceHeader: "X-Device-ID",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if clientDB := os.Getenv("CLIENT_DATABASE_PATH"); clientDB != "" {
		cfg.Client.DatabasePath = clientDB
	}
	if deviceID := os.Getenv("DEVICE_ID"); deviceID != "" {
		cfg.Client.DeviceID = deviceID
	}
	if remote := os.Getenv("REMOTE_URL"); remote != "" {
		cfg.Client.RemoteURL = remote
	}
	if probe := os.Getenv("PROBE_URL"); probe != "" {
		cfg.Sync.ProbeURL = probe
	}
	if batch := os.Getenv("SYNC_DRAIN_BATCH_SIZE"); batch != "" {
		if n, err := strconv.Atoi(batch); err == nil && n > 0 {
			cfg.Sync.DrainBatchSize = n
		}
	}
	if attempts := os.Getenv("SYNC_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil && n > 0 {
			cfg.Sync.MaxAttempts = n
		}
	}
	if pending := os.Getenv("SYNC_MAX_PENDING"); pending != "" {
		if n, err := strconv.Atoi(pending); err == nil && n > 0 {
			cfg.Sync.MaxPendingEntries = n
		}
	}

	return cfg, nil
}
