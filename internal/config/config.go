// ABOUTME: Configuration loading and parsing for pairwire
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pairwire configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Mode      ModeConfig      `yaml:"mode"`
	Frontends FrontendsConfig `yaml:"frontends"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address for health and stats endpoints
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PairingConfig holds matching behavior configuration
type PairingConfig struct {
	CoolDown time.Duration `yaml:"-"`
	FanOut   int           `yaml:"fan_out"`

	// Raw string value for YAML unmarshaling
	CoolDownRaw string `yaml:"cool_down"`
}

// ModeConfig holds shared-mode trigger configuration
type ModeConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Keywords []string `yaml:"keywords"`
}

// FrontendsConfig holds configuration for all frontend integrations
type FrontendsConfig struct {
	Slack  SlackConfig  `yaml:"slack"`
	Matrix MatrixConfig `yaml:"matrix"`
}

// SlackConfig holds Slack integration configuration
type SlackConfig struct {
	Enabled         bool     `yaml:"enabled"`
	AppToken        string   `yaml:"app_token"`
	BotToken        string   `yaml:"bot_token"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Pairing.CoolDown < 0 {
		return fmt.Errorf("pairing.cool_down must not be negative")
	}
	if c.Pairing.FanOut < 0 {
		return fmt.Errorf("pairing.fan_out must not be negative")
	}

	if c.Mode.Enabled && len(c.Mode.Keywords) == 0 {
		return fmt.Errorf("mode.keywords is required when mode is enabled")
	}

	if !c.Frontends.Slack.Enabled && !c.Frontends.Matrix.Enabled {
		return fmt.Errorf("at least one frontend must be enabled")
	}

	if c.Frontends.Slack.Enabled {
		if c.Frontends.Slack.AppToken == "" {
			return fmt.Errorf("frontends.slack.app_token is required when slack is enabled")
		}
		if c.Frontends.Slack.BotToken == "" {
			return fmt.Errorf("frontends.slack.bot_token is required when slack is enabled")
		}
	}

	if c.Frontends.Matrix.Enabled {
		if c.Frontends.Matrix.Homeserver == "" {
			return fmt.Errorf("frontends.matrix.homeserver is required when matrix is enabled")
		}
		if c.Frontends.Matrix.UserID == "" {
			return fmt.Errorf("frontends.matrix.user_id is required when matrix is enabled")
		}
		if c.Frontends.Matrix.AccessToken == "" {
			return fmt.Errorf("frontends.matrix.access_token is required when matrix is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Pairing.CoolDownRaw != "" {
		cfg.Pairing.CoolDown, err = time.ParseDuration(cfg.Pairing.CoolDownRaw)
		if err != nil {
			return fmt.Errorf("parsing cool_down %q: %w", cfg.Pairing.CoolDownRaw, err)
		}
	}

	return nil
}
