// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parley configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Templates TemplatesConfig `yaml:"templates"`
	Chat      ChatConfig      `yaml:"chat"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TemplatesConfig points at the agent template registry file
type TemplatesConfig struct {
	Path string `yaml:"path"`
}

// ChatConfig holds streaming-persistence tunables.
// The defaults balance perceived latency against write amplification.
type ChatConfig struct {
	FlushInterval time.Duration `yaml:"-"`
	FlushChars    int           `yaml:"flush_chars"`

	// Raw string value for YAML unmarshaling
	FlushIntervalRaw string `yaml:"flush_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults for the debounced write policy.
const (
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultFlushChars    = 50
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset tunables with their defaults.
func (c *Config) applyDefaults() {
	if c.Chat.FlushInterval <= 0 {
		c.Chat.FlushInterval = DefaultFlushInterval
	}
	if c.Chat.FlushChars <= 0 {
		c.Chat.FlushChars = DefaultFlushChars
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Templates.Path == "" {
		return fmt.Errorf("templates.path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Chat.FlushIntervalRaw != "" {
		var err error
		cfg.Chat.FlushInterval, err = time.ParseDuration(cfg.Chat.FlushIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing flush_interval %q: %w", cfg.Chat.FlushIntervalRaw, err)
		}
	}
	return nil
}
