// Package config provides configuration structures and loading logic for the gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Governance GovernanceConfig `yaml:"governance"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Storage    StorageConfig    `yaml:"storage"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// GovernanceConfig holds rate limiting configuration.
type GovernanceConfig struct {
	Limit         int    `yaml:"limit"`
	WindowSeconds int    `yaml:"window_seconds"`
	RedisAddr     string `yaml:"redis_addr"`
}

// Window returns the configured window as a duration.
func (c GovernanceConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ExecutorConfig holds configuration for the command executor.
type ExecutorConfig struct {
	Binary           string `yaml:"binary"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	MaxOutputBytes   int    `yaml:"max_output_bytes"`
	ContainerGateway string `yaml:"container_gateway"`
}

// Timeout returns the configured executor timeout as a duration.
func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
}

// SecretsConfig holds the credential encryption settings.
type SecretsConfig struct {
	Passphrase string `yaml:"passphrase"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Server: ServerConfig{
			Address: ":8090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Governance: GovernanceConfig{
			Limit:         100,
			WindowSeconds: 60,
		},
		Executor: ExecutorConfig{
			Binary:         "curl",
			TimeoutSeconds: 30,
			MaxOutputBytes: 1 << 20,
		},
		Storage: StorageConfig{
			Driver:  "memory",
			DataDir: "data",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RELAYFORGE_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("RELAYFORGE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if val := os.Getenv("RELAYFORGE_RATE_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Governance.Limit = n
		}
	}
	if val := os.Getenv("RELAYFORGE_RATE_WINDOW_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Governance.WindowSeconds = n
		}
	}
	if val := os.Getenv("RELAYFORGE_REDIS_ADDR"); val != "" {
		cfg.Governance.RedisAddr = val
	}

	if val := os.Getenv("RELAYFORGE_CURL_BINARY"); val != "" {
		cfg.Executor.Binary = val
	}
	if val := os.Getenv("RELAYFORGE_CONTAINER_GATEWAY"); val != "" {
		cfg.Executor.ContainerGateway = val
	}

	if val := os.Getenv("RELAYFORGE_STORAGE_DRIVER"); val != "" {
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("RELAYFORGE_DATA_DIR"); val != "" {
		cfg.Storage.DataDir = val
	}

	if val := os.Getenv("RELAYFORGE_SECRETS_PASSPHRASE"); val != "" {
		cfg.Secrets.Passphrase = val
	}

	if val := os.Getenv("RELAYFORGE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("RELAYFORGE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
}

// Validate performs comprehensive validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Governance.Validate(); err != nil {
		return fmt.Errorf("governance configuration: %w", err)
	}
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor configuration: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration: %w", err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":8090"
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate performs validation of governance configuration.
func (c *GovernanceConfig) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.Limit)
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %d", c.WindowSeconds)
	}
	return nil
}

// Validate performs validation of executor configuration.
func (c *ExecutorConfig) Validate() error {
	if strings.TrimSpace(c.Binary) == "" {
		c.Binary = "curl"
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("executor timeout must be positive, got %d", c.TimeoutSeconds)
	}
	if c.MaxOutputBytes <= 0 {
		return fmt.Errorf("executor max output must be positive, got %d", c.MaxOutputBytes)
	}
	return nil
}

// Validate performs validation of storage configuration.
func (c *StorageConfig) Validate() error {
	driver := strings.TrimSpace(strings.ToLower(c.Driver))
	switch driver {
	case "", "memory":
		c.Driver = "memory"
	case "sqlite":
		c.Driver = "sqlite"
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("sqlite driver requires data_dir")
		}
	default:
		return fmt.Errorf("unknown storage driver %q, supported: memory, sqlite", c.Driver)
	}
	return nil
}
