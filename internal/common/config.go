package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Tracker     TrackerConfig   `toml:"tracker"`
	Source      SourceConfig    `toml:"source"`
	Storage     StorageConfig   `toml:"storage"`
	Retention   RetentionConfig `toml:"retention"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`                                       // "stdout", "file"
	TimeFormat string   `toml:"time_format"`                                  // Time format for logs (default: "15:04:05")
}

// TrackerConfig contains the polling policy applied to every tracked job
type TrackerConfig struct {
	PollInterval string `toml:"poll_interval" validate:"duration"` // Delay between status checks (default: "2s")
	Timeout      string `toml:"timeout" validate:"duration"`       // Per-job deadline, empty disables (default: "")
	GraceDelay   string `toml:"grace_delay" validate:"duration"`   // Delay before the result notification (default: "500ms")
}

// SourceConfig describes the remote job API
type SourceConfig struct {
	BaseURL          string   `toml:"base_url" validate:"required,url"`
	SubmitPath       string   `toml:"submit_path" validate:"required"`               // POST target for new jobs
	StatusPath       string   `toml:"status_path" validate:"required,contains={id}"` // GET target, {id} is replaced with the job id
	APIKey           string   `toml:"api_key"`                                       // Sent as a bearer token when set
	RequestTimeout   string   `toml:"request_timeout" validate:"duration"`           // HTTP client timeout (default: "30s")
	RateLimit        string   `toml:"rate_limit" validate:"duration"`                // Minimum spacing between requests, empty disables
	TerminalStatuses []string `toml:"terminal_statuses"`                             // Remote statuses treated as finished
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`          // Archive finished task outcomes
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RetentionConfig controls the scheduled cleanup of finished tasks
type RetentionConfig struct {
	Enabled     bool   `toml:"enabled"`
	Schedule    string `toml:"schedule" validate:"required"`     // Cron spec, e.g. "@every 1m"
	FinishedTTL string `toml:"finished_ttl" validate:"duration"` // Stop finished records older than this
	HistoryTTL  string `toml:"history_ttl" validate:"duration"`  // Prune archived outcomes older than this
}

// WebSocketConfig contains configuration for task event broadcasting
type WebSocketConfig struct {
	// Whitelist of event types to broadcast via WebSocket. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Minimum spacing between task_progress broadcasts, empty disables throttling
	ProgressThrottle string `toml:"progress_throttle" validate:"duration"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
		Tracker: TrackerConfig{
			PollInterval: "2s",
			Timeout:      "",
			GraceDelay:   "500ms",
		},
		Source: SourceConfig{
			BaseURL:          "http://localhost:8080",
			SubmitPath:       "/api/jobs",
			StatusPath:       "/api/jobs/{id}",
			RequestTimeout:   "30s",
			TerminalStatuses: []string{"completed", "failed", "cancelled"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: false,
				Path:    "./data/jobwatch",
			},
		},
		Retention: RetentionConfig{
			Enabled:     false,
			Schedule:    "@every 1m",
			FinishedTTL: "15m",
			HistoryTTL:  "168h",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents:    []string{},
			ProgressThrottle: "250ms",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. The result is validated before it is returned.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration with go-playground/validator
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// validateDuration accepts empty strings and anything time.ParseDuration understands
func validateDuration(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := time.ParseDuration(value)
	return err == nil
}

// ParseDuration parses value, returning fallback when value is empty
func ParseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("JOBWATCH_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("JOBWATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("JOBWATCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("JOBWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("JOBWATCH_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Tracker configuration
	if pollInterval := os.Getenv("JOBWATCH_POLL_INTERVAL"); pollInterval != "" {
		config.Tracker.PollInterval = pollInterval
	}
	if timeout := os.Getenv("JOBWATCH_TASK_TIMEOUT"); timeout != "" {
		config.Tracker.Timeout = timeout
	}
	if graceDelay := os.Getenv("JOBWATCH_GRACE_DELAY"); graceDelay != "" {
		config.Tracker.GraceDelay = graceDelay
	}

	// Source configuration
	if baseURL := os.Getenv("JOBWATCH_SOURCE_BASE_URL"); baseURL != "" {
		config.Source.BaseURL = baseURL
	}
	if apiKey := os.Getenv("JOBWATCH_SOURCE_API_KEY"); apiKey != "" {
		config.Source.APIKey = apiKey
	}
	if rateLimit := os.Getenv("JOBWATCH_SOURCE_RATE_LIMIT"); rateLimit != "" {
		config.Source.RateLimit = rateLimit
	}
	if statuses := os.Getenv("JOBWATCH_SOURCE_TERMINAL_STATUSES"); statuses != "" {
		if list := splitList(statuses); len(list) > 0 {
			config.Source.TerminalStatuses = list
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("JOBWATCH_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
		config.Storage.Badger.Enabled = true
	}

	// Retention configuration
	if enabled := os.Getenv("JOBWATCH_RETENTION_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Retention.Enabled = e
		}
	}
	if finishedTTL := os.Getenv("JOBWATCH_RETENTION_FINISHED_TTL"); finishedTTL != "" {
		config.Retention.FinishedTTL = finishedTTL
	}
}

// splitList splits a comma-separated list, dropping empty entries
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
