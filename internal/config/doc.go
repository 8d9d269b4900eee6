// Package config handles configuration loading for claude-relay.
//
// # Configuration File
//
// The file is located by, in order:
//
//  1. Path from the CLAUDE_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/claude-relay/config.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Values can reference environment variables, which keeps secrets out of
// the file:
//
//	matrix:
//	  access_token: "${MATRIX_ACCESS_TOKEN}"
//
// # Configuration Sections
//
//	server:
//	  enabled: true
//	  http_addr: "127.0.0.1:8080"
//
//	database:
//	  backend: "sqlite"        # sqlite, file, redis, dynamodb, memory
//	  path: "~/.claude-relay/sessions.db"
//	  driver: "sqlite"         # sqlite (pure Go) or sqlite3 (cgo)
//	  lock_ttl: "10m"
//	  redis:
//	    addr: "localhost:6379"
//	    prefix: "claude-relay:"
//	    lock: true
//	  dynamodb:
//	    table: "claude-relay-sessions"
//	    region: "us-east-1"
//
//	claude:
//	  binary: "claude"
//	  model: ""
//	  work_dir: ""
//	  allowed_tools: ["Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch", "WebSearch"]
//	  timeout: "10m"
//
//	relay:
//	  max_length: 4000         # negative disables truncation
//	  allowed_users: []        # empty allows everyone
//	  dedupe_ttl: "10m"
//	  dedupe_size: 10000
//
//	matrix:
//	  enabled: false
//	  homeserver: "https://matrix.org"
//	  user_id: "@relay:matrix.org"
//	  access_token: "${MATRIX_ACCESS_TOKEN}"
//	  allowed_rooms: []
//	  command_prefix: ""
//	  typing_indicator: true
//
//	logging:
//	  level: "info"            # debug, info, warn, error
//	  format: "text"           # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Durations use time.ParseDuration syntax. Load applies defaults and then
// Validate, which reports the first problem found.
package config
