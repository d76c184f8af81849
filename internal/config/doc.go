// Package config handles configuration loading for pairwire.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PAIRWIRE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/pairwire/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	frontends:
//	  slack:
//	    app_token: "${SLACK_APP_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	pairing:
//	  cool_down: "10m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Health and stats endpoints
//
// Database:
//
//	database:
//	  path: "/var/lib/pairwire/pairwire.db"
//
// Pairing:
//
//	pairing:
//	  cool_down: "10m"   # Anti-repeat window for recent partners
//	  fan_out: 50        # Max waiting candidates considered per attempt
//
// Shared mode:
//
//	mode:
//	  enabled: true
//	  keywords: ["uwu", "owo"]
//
// Frontends:
//
//	frontends:
//	  slack:
//	    enabled: true
//	    app_token: "${SLACK_APP_TOKEN}"
//	    bot_token: "${SLACK_BOT_TOKEN}"
//	    allowed_channels: ["general"]
//	  matrix:
//	    enabled: false
//	    homeserver: "https://matrix.example.org"
//	    user_id: "@pairwire:example.org"
//	    access_token: "${MATRIX_ACCESS_TOKEN}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Database path presence
//   - Duration format validity
//   - Per-frontend credential completeness
//   - At least one enabled frontend
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/pairwire/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
