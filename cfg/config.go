package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// DatabaseConfiguration selects and tunes the backing database
type DatabaseConfiguration struct {
	Dialect            string `toml:"dialect"` // "sqlite3" or "mysql"
	Path               string `toml:"path"`    // SQLite file, relative paths live under data_dir
	DSN                string `toml:"dsn"`     // Full DSN, overrides path (required for MySQL)
	MaxReadConnections int    `toml:"max_read_connections"`
	CompiledCacheSize  int    `toml:"compiled_cache_size"` // LRU entries for compiled SELECT statements
	AllowRawWrites     bool   `toml:"allow_raw_writes"`    // Raw writes bypass subscription notifications
}

// BatchConfiguration controls write group-commit
type BatchConfiguration struct {
	Enabled   bool `toml:"enabled"`
	MaxWaitMS int  `toml:"max_wait_ms"` // Max time an operation waits for its batch to flush
}

// HTTPConfiguration for the API server
type HTTPConfiguration struct {
	BindAddress        string `toml:"bind_address"`
	Port               int    `toml:"port"`
	Secret             string `toml:"secret"` // Pre-shared key, empty disables auth
	SubscriptionBuffer int    `toml:"subscription_buffer"`
	HeartbeatSeconds   int    `toml:"heartbeat_seconds"` // SSE keep-alive comment interval
}

// SinkConfiguration describes one notification egress destination
type SinkConfiguration struct {
	Name        string   `toml:"name"`
	Type        string   `toml:"type"` // "nats" or "kafka"
	URL         string   `toml:"url"`  // NATS server URL
	Brokers     []string `toml:"brokers"`
	TopicPrefix string   `toml:"topic_prefix"`
	Tables      []string `toml:"tables"`      // Glob patterns, empty matches every table
	Encoding    string   `toml:"encoding"`    // "json" or "msgpack"
	Compression string   `toml:"compression"` // "none", "zstd" or "snappy"
	MaxRetries  int      `toml:"max_retries"`
	BackoffMS   int      `toml:"backoff_ms"`
}

// PublisherConfiguration controls the notification egress bridge
type PublisherConfiguration struct {
	Enabled   bool                `toml:"enabled"`
	TapBuffer int                 `toml:"tap_buffer"`
	Sinks     []SinkConfiguration `toml:"sinks"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"` // Auto-generated from machine ID when empty
	DataDir    string `toml:"data_dir"`

	Database   DatabaseConfiguration   `toml:"database"`
	Batch      BatchConfiguration      `toml:"batch"`
	HTTP       HTTPConfiguration       `toml:"http"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	DBPathFlag     = flag.String("db", "", "SQLite database path (overrides config)")
	HTTPPortFlag   = flag.Int("http-port", 0, "HTTP port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	DataDir: "./sublite-data",

	Database: DatabaseConfiguration{
		Dialect:            "sqlite3",
		Path:               "sublite.db",
		MaxReadConnections: 4,
		CompiledCacheSize:  1024,
		AllowRawWrites:     false,
	},

	Batch: BatchConfiguration{
		Enabled:   true,
		MaxWaitMS: 5,
	},

	HTTP: HTTPConfiguration{
		BindAddress:        "0.0.0.0",
		Port:               8080,
		SubscriptionBuffer: 64,
		HeartbeatSeconds:   15,
	},

	Publisher: PublisherConfiguration{
		Enabled:   false,
		TapBuffer: 256,
		Sinks:     []SinkConfiguration{},
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *DBPathFlag != "" {
		Config.Database.Path = *DBPathFlag
	}
	if *HTTPPortFlag != 0 {
		Config.HTTP.Port = *HTTPPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID creates a stable identifier based on machine ID
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("sublite")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// DatabaseDSN resolves the effective DSN for the configured database
func DatabaseDSN() string {
	if Config.Database.DSN != "" {
		return Config.Database.DSN
	}
	if path.IsAbs(Config.Database.Path) {
		return Config.Database.Path
	}
	return path.Join(Config.DataDir, Config.Database.Path)
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Database.Dialect {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("invalid database dialect: %s", Config.Database.Dialect)
	}

	if Config.Database.Dialect == "mysql" && Config.Database.DSN == "" {
		return fmt.Errorf("mysql dialect requires a dsn")
	}

	if Config.Database.MaxReadConnections < 1 {
		return fmt.Errorf("max read connections must be >= 1")
	}

	if Config.Database.CompiledCacheSize < 1 {
		return fmt.Errorf("compiled cache size must be >= 1")
	}

	if Config.Batch.MaxWaitMS < 1 {
		return fmt.Errorf("batch max wait must be >= 1ms")
	}

	if Config.HTTP.Port < 1 || Config.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	if Config.HTTP.SubscriptionBuffer < 1 {
		return fmt.Errorf("subscription buffer must be >= 1")
	}

	if Config.HTTP.HeartbeatSeconds < 1 {
		return fmt.Errorf("heartbeat interval must be >= 1 second")
	}

	switch Config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", Config.Logging.Format)
	}

	if Config.Publisher.Enabled {
		if Config.Publisher.TapBuffer < 1 {
			return fmt.Errorf("publisher tap buffer must be >= 1")
		}
		if len(Config.Publisher.Sinks) == 0 {
			return fmt.Errorf("publisher enabled with no sinks configured")
		}
	}

	names := map[string]bool{}
	for i := range Config.Publisher.Sinks {
		sink := &Config.Publisher.Sinks[i]
		if sink.Name == "" {
			return fmt.Errorf("sink %d has no name", i)
		}
		if names[sink.Name] {
			return fmt.Errorf("duplicate sink name: %s", sink.Name)
		}
		names[sink.Name] = true

		switch sink.Type {
		case "nats":
			if sink.URL == "" {
				return fmt.Errorf("sink %s: nats sink requires a url", sink.Name)
			}
		case "kafka":
			if len(sink.Brokers) == 0 {
				return fmt.Errorf("sink %s: kafka sink requires brokers", sink.Name)
			}
		default:
			return fmt.Errorf("sink %s: unknown sink type %s", sink.Name, sink.Type)
		}

		switch sink.Encoding {
		case "", "json", "msgpack":
		default:
			return fmt.Errorf("sink %s: unknown encoding %s", sink.Name, sink.Encoding)
		}

		switch sink.Compression {
		case "", "none", "zstd", "snappy":
		default:
			return fmt.Errorf("sink %s: unknown compression %s", sink.Name, sink.Compression)
		}

		if sink.MaxRetries < 0 {
			return fmt.Errorf("sink %s: max retries must be >= 0", sink.Name)
		}

		if sink.BackoffMS < 0 {
			return fmt.Errorf("sink %s: backoff must be >= 0", sink.Name)
		}
	}

	return nil
}
