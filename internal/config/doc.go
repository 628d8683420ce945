// Package config handles configuration loading for mapi-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML file laid over Default, with
// environment variable expansion and validation. Without a file the
// defaults are used as is.
//
// # Configuration File
//
// The path comes from the --config flag, then the MAPIBRIDGE_CONFIG
// environment variable.
//
// # Environment Variable Expansion
//
//	store:
//	  path: "${HOME}/mapi/dev.db"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	broker:
//	  activation_delay: "500ms"
//	  call_timeout: "30s"
//
// # Configuration Sections
//
//	broker:
//	  registry_dir: "/var/run/mapi-bridge"  # class registration artifacts
//	  listen_addr: "127.0.0.1:0"
//	  auth: true                           # per-launch bearer tokens
//	  activation_attempts: 10
//	  activation_delay: "500ms"
//	  call_timeout: "30s"
//	  stop_timeout: "5s"
//	  parent_poll: "1s"
//	  keepalive: "30s"
//
//	launcher:
//	  resources_dir: "/opt/mapi-bridge/bin"  # searched before PATH
//	  log_dir: "/var/log/mapi-bridge"
//	  log_level: 3                           # 0 off, 1 error, 2 warn, 3 info, 4 debug
//
//	store:
//	  path: "./dev.db"    # SQLite development backend
//	  driver: "sqlite"    # or "sqlite3" for the cgo driver
//	  profile: "default"
//	  bitness: ""         # 32 or 64 overrides installation probing
//	  mapi_flags: 0
//
//	logging:
//	  level: "info"
//	  format: "text"      # or "json"
//
//	telemetry:
//	  enabled: false
//	  service_name: "mapi-bridge"
package config
