// Package config handles configuration loading for the chatmarket server.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path
// ends in .toml, with environment variable expansion. Missing values fall
// back to defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATMARKET_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatmarket/config.yaml
//  3. ~/.config/chatmarket/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${GROQ_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	bus:
//	  request_timeout: "30s"
//	  reply_ttl: "5m"
//
// # Configuration Sections
//
// Server and storage:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  driver: "sqlite"            # sqlite, memory
//	  path: "/var/lib/chatmarket/chatmarket.db"
//
// Language service:
//
//	llm:
//	  provider: "openai"          # openai, gemini, mock
//	  base_url: "https://api.groq.com/openai/v1"
//	  api_key: "${GROQ_API_KEY}"
//	  model: "llama-3.1-8b-instant"
//	  timeout: "4s"               # per call
//	  requests_per_second: 1      # default for non-mock providers
//
// Market search:
//
//	market_search:
//	  enabled: true
//	  api_key: "${TAVILY_API_KEY}"
//	  max_results: 10
//	  timeout: "5s"
//
// Dialogue:
//
//	conversation:
//	  history_window: 5           # 1..5
//	  dispatch_timeout: "10s"
//
// Deadlines nest: dispatch_timeout must cover two language calls (or a
// search plus one call), and bus.request_timeout must exceed two language
// calls plus dispatch_timeout. Load rejects configurations that break this.
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
