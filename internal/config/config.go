package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete agent configuration
type Config struct {
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Payload  PayloadConfig  `yaml:"payload" envconfig:"PAYLOAD"`
}

// LicenseConfig contains license server connectivity settings.
// BaseURL is injected into the protocol client so tests can point
// the agent at a mock endpoint.
type LicenseConfig struct {
	BaseURL           string        `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	RequestTimeout    time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" validate:"gt=0"`
	RenewalURL        string        `yaml:"renewal_url" envconfig:"RENEWAL_URL" validate:"omitempty,url"`
}

// ServerConfig contains the local status API configuration
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" envconfig:"ENABLED"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration for the status API
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output      string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	LogsDir         string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// PayloadConfig controls the optional post-validation payload launch.
// Command is a local executable; it receives nothing from the license
// core beyond being launched once the session reaches monitoring.
type PayloadConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Command string `yaml:"command" envconfig:"COMMAND" validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration defaults
func Default() *Config {
	return &Config{
		License: LicenseConfig{
			BaseURL:           "http://localhost:5000",
			RequestTimeout:    10 * time.Second,
			HeartbeatInterval: 60 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8590,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/guardcli.log",
		},
		Paths: PathsConfig{
			CredentialsFile: "credentials.dat",
			LogsDir:         "logs",
		},
	}
}

// Load builds the configuration in three layers: built-in defaults,
// then an optional YAML file, then environment variables (GUARD_*).
// Environment always wins over the file, the file over defaults.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		configFile = os.Getenv("GUARD_CONFIG_FILE")
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process("GUARD", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays configuration from a YAML file
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks the configuration for structural errors
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	// Heartbeats shorter than the request timeout would let ticks
	// overlap in-flight calls.
	if c.License.HeartbeatInterval < c.License.RequestTimeout {
		return fmt.Errorf("heartbeat_interval (%s) must not be shorter than request_timeout (%s)",
			c.License.HeartbeatInterval, c.License.RequestTimeout)
	}

	return nil
}
