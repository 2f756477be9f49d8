// Package config handles configuration loading for coven-guardian.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from GUARDIAN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/guardian.yaml (or ~/.config/coven/guardian.yaml)
//
// Files ending in .toml are read as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${GUARDIAN_DATA}/guardian.db"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	outputs:
//	  default_wait_timeout: "30s"
//	  fallback_poll_interval: "500ms"
//
// A negative fallback_poll_interval disables polling while a wait is
// blocked; waiters then rely on wakeups alone.
//
// # Example
//
//	server:
//	  grpc_addr: "localhost:50061"
//	  http_addr: "localhost:8090"
//
//	database:
//	  driver: "sqlite"
//	  path: "${HOME}/.local/share/coven/guardian.db"
//
//	watch:
//	  enabled: true
//	  subdir: "outputs"
//	  stability_threshold: "1s"
//
//	retention:
//	  message_max_age: "168h"
//	  sweep_interval: "1h"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
//	telemetry:
//	  otlp_endpoint: ""
package config
