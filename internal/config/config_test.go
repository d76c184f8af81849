// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

pairing:
  cool_down: "10m"
  fan_out: 25

mode:
  enabled: true
  keywords:
    - "uwu"
    - "owo"

frontends:
  slack:
    enabled: true
    app_token: "xapp-test"
    bot_token: "xoxb-test"
    allowed_channels:
      - "general"
      - "random"

  matrix:
    enabled: false
    homeserver: "https://matrix.org"
    user_id: "@bot:matrix.org"
    access_token: "matrix-token"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}

	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Pairing.CoolDown != 10*time.Minute {
		t.Errorf("Pairing.CoolDown = %v, want %v", cfg.Pairing.CoolDown, 10*time.Minute)
	}
	if cfg.Pairing.FanOut != 25 {
		t.Errorf("Pairing.FanOut = %d, want 25", cfg.Pairing.FanOut)
	}

	if !cfg.Mode.Enabled {
		t.Error("Mode.Enabled = false, want true")
	}
	if len(cfg.Mode.Keywords) != 2 {
		t.Errorf("Mode.Keywords len = %d, want 2", len(cfg.Mode.Keywords))
	}

	if !cfg.Frontends.Slack.Enabled {
		t.Error("Frontends.Slack.Enabled = false, want true")
	}
	if cfg.Frontends.Slack.AppToken != "xapp-test" {
		t.Errorf("Frontends.Slack.AppToken = %q, want %q", cfg.Frontends.Slack.AppToken, "xapp-test")
	}
	if len(cfg.Frontends.Slack.AllowedChannels) != 2 {
		t.Errorf("Frontends.Slack.AllowedChannels len = %d, want 2", len(cfg.Frontends.Slack.AllowedChannels))
	}

	if cfg.Frontends.Matrix.Enabled {
		t.Error("Frontends.Matrix.Enabled = true, want false")
	}
	if cfg.Frontends.Matrix.Homeserver != "https://matrix.org" {
		t.Errorf("Frontends.Matrix.Homeserver = %q, want %q", cfg.Frontends.Matrix.Homeserver, "https://matrix.org")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SLACK_APP_TOKEN", "xapp-from-env")
	t.Setenv("TEST_SLACK_BOT_TOKEN", "xoxb-from-env")

	configPath := writeConfig(t, `
database:
  path: "./test.db"

frontends:
  slack:
    enabled: true
    app_token: "${TEST_SLACK_APP_TOKEN}"
    bot_token: "${TEST_SLACK_BOT_TOKEN}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Frontends.Slack.AppToken != "xapp-from-env" {
		t.Errorf("Frontends.Slack.AppToken = %q, want %q", cfg.Frontends.Slack.AppToken, "xapp-from-env")
	}
	if cfg.Frontends.Slack.BotToken != "xoxb-from-env" {
		t.Errorf("Frontends.Slack.BotToken = %q, want %q", cfg.Frontends.Slack.BotToken, "xoxb-from-env")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

frontends:
  slack:
    enabled: false
  matrix:
    enabled: true
    homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "${DEFINITELY_NOT_SET_PAIRWIRE_TEST}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty access token, got nil")
	}
	if !strings.Contains(err.Error(), "access_token") {
		t.Errorf("Load() error = %v, want mention of access_token", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "database:\n  path: [unclosed")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

pairing:
  cool_down: "banana"

frontends:
  slack:
    enabled: true
    app_token: "xapp"
    bot_token: "xoxb"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "cool_down") {
		t.Errorf("Load() error = %v, want mention of cool_down", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Path: "./pairwire.db"},
			Frontends: FrontendsConfig{
				Slack: SlackConfig{Enabled: true, AppToken: "xapp", BotToken: "xoxb"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "negative cool down",
			mutate:  func(c *Config) { c.Pairing.CoolDown = -time.Minute },
			wantErr: "cool_down",
		},
		{
			name:    "negative fan out",
			mutate:  func(c *Config) { c.Pairing.FanOut = -1 },
			wantErr: "fan_out",
		},
		{
			name:    "mode enabled without keywords",
			mutate:  func(c *Config) { c.Mode.Enabled = true },
			wantErr: "mode.keywords",
		},
		{
			name:    "no frontend enabled",
			mutate:  func(c *Config) { c.Frontends.Slack.Enabled = false },
			wantErr: "at least one frontend",
		},
		{
			name:    "slack missing app token",
			mutate:  func(c *Config) { c.Frontends.Slack.AppToken = "" },
			wantErr: "app_token",
		},
		{
			name: "matrix missing homeserver",
			mutate: func(c *Config) {
				c.Frontends.Matrix = MatrixConfig{Enabled: true, UserID: "@bot:x", AccessToken: "tok"}
			},
			wantErr: "homeserver",
		},
		{
			name: "matrix complete",
			mutate: func(c *Config) {
				c.Frontends.Matrix = MatrixConfig{
					Enabled: true, Homeserver: "https://x", UserID: "@bot:x", AccessToken: "tok",
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
