package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// GmailConfig holds the OAuth client and endpoint settings for Gmail.
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url" yaml:"redirect_url"`

	// TokenURL and Endpoint override the Google defaults (used by tests
	// and proxies).
	TokenURL string `mapstructure:"token_url" yaml:"token_url"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Query is the Gmail search filter applied when listing messages.
	Query string `mapstructure:"query" yaml:"query"`

	DefaultRetryAfterSec int `mapstructure:"default_retry_after_sec" yaml:"default_retry_after_sec"`
	MaxRetryAfterSec     int `mapstructure:"max_retry_after_sec" yaml:"max_retry_after_sec"`
	MaxRateRetries       int `mapstructure:"max_rate_retries" yaml:"max_rate_retries"`
}

// AIConfig holds settings for the language model backend.
type AIConfig struct {
	// Provider is one of "anthropic", "ollama" or "openai".
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	APIKey   string `mapstructure:"api_key" yaml:"-"`

	MaxTokens     int `mapstructure:"max_tokens" yaml:"max_tokens"`
	ContextTokens int `mapstructure:"context_tokens" yaml:"context_tokens"`
	MessageChars  int `mapstructure:"message_chars" yaml:"message_chars"`
	TimeoutSec    int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// PipelineConfig controls the extraction run.
type PipelineConfig struct {
	Window          int `mapstructure:"window" yaml:"window"`
	BatchSize       int `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency     int `mapstructure:"concurrency" yaml:"concurrency"`
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// ServerConfig holds the HTTP listener settings for `serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	DatabasePath string         `mapstructure:"database_path" yaml:"database_path"`
	LogLevel     string         `mapstructure:"log_level" yaml:"log_level"`
	Gmail        GmailConfig    `mapstructure:"gmail" yaml:"gmail"`
	AI           AIConfig       `mapstructure:"ai" yaml:"ai"`
	Pipeline     PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Server       ServerConfig   `mapstructure:"server" yaml:"server"`
}

// DefaultGmailQuery scopes listing to the primary inbox and excludes
// archived, spam and trash messages.
const DefaultGmailQuery = "in:inbox category:primary -in:spam -in:trash -label:archived"

// ConfigDir returns ~/.config/mailtasks.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailtasks")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailtasks/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// setDefaults registers every default on v so missing keys resolve to
// sensible values and environment overrides are discoverable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", filepath.Join(ConfigDir(), "mailtasks.db"))
	v.SetDefault("log_level", "info")

	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.redirect_url", "")
	v.SetDefault("gmail.token_url", "")
	v.SetDefault("gmail.endpoint", "")
	v.SetDefault("gmail.query", DefaultGmailQuery)
	v.SetDefault("gmail.default_retry_after_sec", 5)
	v.SetDefault("gmail.max_retry_after_sec", 30)
	v.SetDefault("gmail.max_rate_retries", 1)

	v.SetDefault("ai.provider", "anthropic")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.context_tokens", 8192)
	v.SetDefault("ai.message_chars", 3000)
	v.SetDefault("ai.timeout_sec", 120)

	v.SetDefault("pipeline.window", 50)
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.poll_interval_sec", 300)

	v.SetDefault("server.addr", ":8085")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Values can be overridden with MAILTASKS_* environment variables
// (e.g. MAILTASKS_AI_API_KEY). A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailtasks")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Pipeline.BatchSize < 1 {
		cfg.Pipeline.BatchSize = 5
	}
	if cfg.Pipeline.Window < 1 {
		cfg.Pipeline.Window = 50
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The AI API key is never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	ai := cfg.AI
	ai.APIKey = ""

	v.Set("database_path", cfg.DatabasePath)
	v.Set("log_level", cfg.LogLevel)
	v.Set("gmail", cfg.Gmail)
	v.Set("ai", ai)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("server", cfg.Server)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
