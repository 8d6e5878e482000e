// ABOUTME: Configuration loading and parsing for the chatmarket server
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chatmarket configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	LLM          LLMConfig          `yaml:"llm" toml:"llm"`
	MarketSearch MarketSearchConfig `yaml:"market_search" toml:"market_search"`
	Bus          BusConfig          `yaml:"bus" toml:"bus"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig selects the session and catalog backend
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// LLMConfig holds Language Service settings
type LLMConfig struct {
	// Provider is "openai", "gemini", or "mock".
	Provider          string  `yaml:"provider" toml:"provider"`
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	APIKey            string  `yaml:"api_key" toml:"api_key"`
	Model             string  `yaml:"model" toml:"model"`
	Project           string  `yaml:"project" toml:"project"`
	Location          string  `yaml:"location" toml:"location"`
	Temperature       float32 `yaml:"temperature" toml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens" toml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// MarketSearchConfig holds web market search settings
type MarketSearchConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	Endpoint       string   `yaml:"endpoint" toml:"endpoint"`
	APIKey         string   `yaml:"api_key" toml:"api_key"`
	SearchDepth    string   `yaml:"search_depth" toml:"search_depth"`
	MaxResults     int      `yaml:"max_results" toml:"max_results"`
	IncludeDomains []string `yaml:"include_domains" toml:"include_domains"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// BusConfig holds agent bus timing
type BusConfig struct {
	ReplyCacheSize int `yaml:"reply_cache_size" toml:"reply_cache_size"`

	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	ReplyTTL       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	ReplyTTLRaw       string `yaml:"reply_ttl" toml:"reply_ttl"`
}

// ConversationConfig holds dialogue settings
type ConversationConfig struct {
	HistoryWindow int `yaml:"history_window" toml:"history_window"`

	DispatchTimeout    time.Duration `yaml:"-" toml:"-"`
	DispatchTimeoutRaw string        `yaml:"dispatch_timeout" toml:"dispatch_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration that runs fully offline: in-memory
// storage, the scripted language service, and market search disabled.
func Default() *Config {
	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Driver: "memory"},
		LLM:      LLMConfig{Provider: "mock"},
	}
	cfg.applyDefaults()
	return cfg
}

// DefaultPath returns the config file location: $CHATMARKET_CONFIG, then
// $XDG_CONFIG_HOME/chatmarket/config.yaml, then ~/.config/chatmarket/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("CHATMARKET_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatmarket", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "chatmarket", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML; everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 4 * time.Second
	}
	if c.LLM.RequestsPerSecond == 0 && c.LLM.Provider != "mock" {
		c.LLM.RequestsPerSecond = 1
	}
	if c.MarketSearch.Timeout == 0 {
		c.MarketSearch.Timeout = 5 * time.Second
	}
	if c.MarketSearch.MaxResults == 0 {
		c.MarketSearch.MaxResults = 10
	}
	if c.Bus.RequestTimeout == 0 {
		c.Bus.RequestTimeout = 30 * time.Second
	}
	if c.Conversation.DispatchTimeout == 0 {
		c.Conversation.DispatchTimeout = 10 * time.Second
	}
	if c.Conversation.HistoryWindow == 0 {
		c.Conversation.HistoryWindow = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}

	switch c.LLM.Provider {
	case "mock":
	case "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the openai provider")
		}
	case "gemini":
		if c.LLM.APIKey == "" && c.LLM.Project == "" {
			return fmt.Errorf("llm.api_key or llm.project is required for the gemini provider")
		}
	default:
		return fmt.Errorf("llm.provider must be openai, gemini, or mock, got %q", c.LLM.Provider)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must not be negative")
	}

	if c.MarketSearch.Enabled && c.MarketSearch.APIKey == "" {
		return fmt.Errorf("market_search.api_key is required when market search is enabled")
	}

	if w := c.Conversation.HistoryWindow; w < 1 || w > 5 {
		return fmt.Errorf("conversation.history_window must be between 1 and 5, got %d", w)
	}

	return c.validateTimeouts()
}

// validateTimeouts checks that each deadline covers the work nested inside it.
// A recommendation makes two sequential language calls and a price lookup
// searches before it asks; a turn extracts, then follows up or dispatches.
func (c *Config) validateTimeouts() error {
	llm := c.LLM.Timeout
	dispatch := c.Conversation.DispatchTimeout

	agentWork := 2 * llm
	if c.MarketSearch.Enabled {
		agentWork = max(agentWork, c.MarketSearch.Timeout+llm)
	}
	if dispatch < agentWork {
		return fmt.Errorf("conversation.dispatch_timeout (%s) must be at least %s to cover agent language and search calls", dispatch, agentWork)
	}

	if turn := 2*llm + dispatch; c.Bus.RequestTimeout <= turn {
		return fmt.Errorf("bus.request_timeout (%s) must exceed %s, the longest conversation turn", c.Bus.RequestTimeout, turn)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"market_search.timeout", cfg.MarketSearch.TimeoutRaw, &cfg.MarketSearch.Timeout},
		{"bus.request_timeout", cfg.Bus.RequestTimeoutRaw, &cfg.Bus.RequestTimeout},
		{"bus.reply_ttl", cfg.Bus.ReplyTTLRaw, &cfg.Bus.ReplyTTL},
		{"conversation.dispatch_timeout", cfg.Conversation.DispatchTimeoutRaw, &cfg.Conversation.DispatchTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
