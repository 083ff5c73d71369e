package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is reported by the root endpoint.
	AppName = "Nitro AI Backend"
	// Version is the server version reported by /health and /stats.
	Version = "5.0.0"
	// EnvPrefix prefixes every environment override, e.g. NITRO_SERVER_PORT.
	EnvPrefix = "NITRO"
)

// Config holds all application configuration for the Nitro backend.
// It is loaded from ~/.nitro/config.yaml and can be overridden by environment variables.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Limits     LimitsConfig     `mapstructure:"limits" yaml:"limits"`
	Local      LocalConfig      `mapstructure:"local" yaml:"local"`
	Cloud      CloudConfig      `mapstructure:"cloud" yaml:"cloud"`
	Deployment DeploymentConfig `mapstructure:"deployment" yaml:"deployment"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Search     SearchConfig     `mapstructure:"search" yaml:"search"`
	Agents     AgentsConfig     `mapstructure:"agents" yaml:"agents"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Features   FeaturesConfig   `mapstructure:"features" yaml:"features"`
}

// ServerConfig controls the HTTP listener and its middleware.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// AllowedOrigins is the CORS allow list; "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// APIKey, when set, is required on every non-exempt request.
	APIKey          string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// Debug enables /debug endpoints and disables HSTS.
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// LimitsConfig holds request validation and throttling limits.
type LimitsConfig struct {
	MaxMessageLength      int    `mapstructure:"max_message_length" yaml:"max_message_length"`
	DefaultUserID         string `mapstructure:"default_user_id" yaml:"default_user_id"`
	RateLimitPerMinute    int    `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	RecentSessionsDefault int    `mapstructure:"recent_sessions_default" yaml:"recent_sessions_default"`
}

// LocalConfig configures the local (Ollama-compatible) generation server.
type LocalConfig struct {
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model        string        `mapstructure:"model" yaml:"model"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxTokens    int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature  float64       `mapstructure:"temperature" yaml:"temperature"`
	TopP         float64       `mapstructure:"top_p" yaml:"top_p"`
	NumCtx       int           `mapstructure:"num_ctx" yaml:"num_ctx"`
	SystemPrompt string        `mapstructure:"system_prompt" yaml:"system_prompt"`
}

// CloudConfig configures the cloud generation API and its model fallback chain.
type CloudConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Models is tried in order until one succeeds.
	Models      []string      `mapstructure:"models" yaml:"models"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float64       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
}

// DeploymentConfig selects the routing mode: "auto", "local" or "managed".
type DeploymentConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// StorageConfig selects and configures the conversation store backend.
type StorageConfig struct {
	// Backend is one of "json", "sqlite", "bolt", "redis".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Dir holds file-based backends.
	Dir           string `mapstructure:"dir" yaml:"dir"`
	File          string `mapstructure:"file" yaml:"file"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// SearchConfig configures the web search module.
type SearchConfig struct {
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	MaxResults int           `mapstructure:"max_results" yaml:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// FetchPages downloads each result page and summarizes its text
	// instead of the result snippets.
	FetchPages bool `mapstructure:"fetch_pages" yaml:"fetch_pages"`
}

// AgentsConfig configures the automation agents.
type AgentsConfig struct {
	// FileRoot confines the file analyzer; empty allows any path.
	FileRoot string `mapstructure:"file_root" yaml:"file_root"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file; empty disables file logging
	File string `mapstructure:"file" yaml:"file"`
	// Format is "console" or "json"
	Format string `mapstructure:"format" yaml:"format"`
}

// FeaturesConfig toggles the optional modules.
type FeaturesConfig struct {
	Video  bool `mapstructure:"video" yaml:"video"`
	Image  bool `mapstructure:"image" yaml:"image"`
	Voice  bool `mapstructure:"voice" yaml:"voice"`
	Search bool `mapstructure:"search" yaml:"search"`
	Agents bool `mapstructure:"agents" yaml:"agents"`
}

// Default returns the built-in configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	nitroDir := filepath.Join(homeDir, ".nitro")

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			AllowedOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:5500", "http://localhost:5500"},
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Limits: LimitsConfig{
			MaxMessageLength:      1000,
			DefaultUserID:         "anonymous",
			RateLimitPerMinute:    60,
			RecentSessionsDefault: 10,
		},
		Local: LocalConfig{
			Endpoint:     "http://localhost:11434",
			Model:        "llama3",
			Timeout:      45 * time.Second,
			MaxRetries:   2,
			MaxTokens:    800,
			Temperature:  0.7,
			TopP:         0.9,
			NumCtx:       2048,
			SystemPrompt: "You are Nitro AI, a helpful and friendly assistant. Answer clearly and concisely.",
		},
		Cloud: CloudConfig{
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta",
			Models:      []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"},
			Timeout:     30 * time.Second,
			MaxTokens:   500,
			Temperature: 0.7,
			TopP:        0.9,
			TopK:        40,
		},
		Deployment: DeploymentConfig{
			Mode: "auto",
		},
		Storage: StorageConfig{
			Backend:   "json",
			Dir:       filepath.Join(nitroDir, "memory"),
			File:      "conversations.json",
			RedisAddr: "127.0.0.1:6379",
		},
		Search: SearchConfig{
			Endpoint:   "https://html.duckduckgo.com/html/",
			MaxResults: 5,
			Timeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(nitroDir, "logs", "nitro.log"),
			Format: "console",
		},
		Features: FeaturesConfig{
			Video:  false,
			Image:  false,
			Voice:  false,
			Search: true,
			Agents: true,
		},
	}
}

// Load reads configuration from the default location (~/.nitro/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	return LoadFromPath(filepath.Join(homeDir, ".nitro", "config.yaml"))
}

// envAliases binds the legacy variable names the deployment scripts use.
var envAliases = map[string][]string{
	"server.port":            {"PORT"},
	"server.api_key":         {"NITRO_API_KEY"},
	"server.debug":           {"DEBUG_MODE"},
	"local.endpoint":         {"OLLAMA_BASE_URL"},
	"local.model":            {"OLLAMA_MODEL"},
	"cloud.api_key":          {"GEMINI_API_KEY"},
	"deployment.mode":        {"DEPLOYMENT_MODE"},
	"storage.dir":            {"MEMORY_DIR"},
	"logging.level":          {"LOG_LEVEL"},
	"storage.redis_addr":     {"REDIS_ADDR"},
	"storage.redis_password": {"REDIS_PASSWORD"},
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
// A .env file in the working directory is loaded first without overriding
// variables already present in the environment.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	_ = godotenv.Load()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: NITRO_CLOUD_API_KEY, NITRO_STORAGE_BACKEND
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, aliases := range envAliases {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// ALLOWED_ORIGINS is a comma separated list, not a YAML sequence.
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Storage.Dir = expandPath(cfg.Storage.Dir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	if cfg.Agents.FileRoot != "" {
		cfg.Agents.FileRoot = expandPath(cfg.Agents.FileRoot)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills zero values left by partial config files.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Limits.MaxMessageLength == 0 {
		c.Limits.MaxMessageLength = d.Limits.MaxMessageLength
	}
	if c.Limits.DefaultUserID == "" {
		c.Limits.DefaultUserID = d.Limits.DefaultUserID
	}
	if c.Limits.RecentSessionsDefault == 0 {
		c.Limits.RecentSessionsDefault = d.Limits.RecentSessionsDefault
	}
	if len(c.Cloud.Models) == 0 {
		c.Cloud.Models = d.Cloud.Models
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.File == "" {
		c.Storage.File = d.Storage.File
	}
	if c.Deployment.Mode == "" {
		c.Deployment.Mode = d.Deployment.Mode
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the Nitro data directory.
func (c *Config) GetDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".nitro")
}

// GetConfigPath returns the full path to the default config file.
func (c *Config) GetConfigPath() string {
	return filepath.Join(c.GetDataDir(), "config.yaml")
}

// StorePath returns the backing file of file-based store backends.
func (c *Config) StorePath() string {
	name := c.Storage.File
	switch c.Storage.Backend {
	case "sqlite":
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".db"
	case "bolt":
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".bolt"
	}
	return filepath.Join(c.Storage.Dir, name)
}

// RoutingBudget is the longest one routed prompt can take: every local
// attempt and then every cloud model, each running to its own timeout.
func (c *Config) RoutingBudget() time.Duration {
	local := c.Local.Timeout * time.Duration(c.Local.MaxRetries+1)
	cloud := c.Cloud.Timeout * time.Duration(len(c.Cloud.Models))
	return local + cloud
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}

	if c.Limits.MaxMessageLength <= 0 {
		return fmt.Errorf("limits.max_message_length must be positive")
	}

	if c.Limits.RateLimitPerMinute < 0 {
		return fmt.Errorf("limits.rate_limit_per_minute cannot be negative")
	}

	if c.Local.MaxRetries < 0 {
		return fmt.Errorf("local.max_retries cannot be negative")
	}

	validModes := map[string]bool{"auto": true, "local": true, "managed": true}
	if !validModes[c.Deployment.Mode] {
		return fmt.Errorf("invalid deployment.mode '%s', must be one of: auto, local, managed", c.Deployment.Mode)
	}

	validBackends := map[string]bool{"json": true, "sqlite": true, "bolt": true, "redis": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage.backend '%s', must be one of: json, sqlite, bolt, redis", c.Storage.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format '%s', must be 'console' or 'json'", c.Logging.Format)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
