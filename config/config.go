package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the advisory service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Research  ResearchConfig  `mapstructure:"research"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration.
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai-compatible
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different tasks.
type LLMRoutingConfig struct {
	Chat      string `mapstructure:"chat"`      // conversational turns with tools
	Analysis  string `mapstructure:"analysis"`  // relevance classification / extraction
	Synthesis string `mapstructure:"synthesis"` // research report generation
	Fallback  string `mapstructure:"fallback"`
}

// ChatConfig bounds a single conversation.
type ChatConfig struct {
	TokenLimit   int64 `mapstructure:"token_limit"`    // conversation-level hard stop
	MaxToolSteps int   `mapstructure:"max_tool_steps"` // sequential tool calls per turn
	HistoryLimit int   `mapstructure:"history_limit"`  // messages replayed into context
}

// ResearchConfig tunes the deep-research pipeline.
type ResearchConfig struct {
	DefaultBreadth   int           `mapstructure:"default_breadth"`
	ReconResults     int           `mapstructure:"recon_results"`
	Level1Results    int           `mapstructure:"level1_results"`
	Level2Results    int           `mapstructure:"level2_results"`
	InsightThreshold float64       `mapstructure:"insight_threshold"`
	SessionIdleTTL   time.Duration `mapstructure:"session_idle_ttl"`
	CompletedTTL     time.Duration `mapstructure:"completed_ttl"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

// SourcesConfig holds web search provider credentials.
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
}

// WebSearchConfig selects and configures a search provider.
type WebSearchConfig struct {
	Provider     string `mapstructure:"provider"` // brave or serper
	BraveAPIKey  string `mapstructure:"brave_api_key"`
	SerperAPIKey string `mapstructure:"serper_api_key"`
	MaxResults   int    `mapstructure:"max_results"`
}

// StorageConfig contains storage configurations.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis settings. Redis is optional; when absent the
// research session store falls back to its in-process implementation.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig reads configuration from file and environment. The config file
// is optional; env vars prefixed COVERA_ override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COVERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "60s")

	v.SetDefault("server.address", ":8080")

	v.SetDefault("chat.token_limit", 120000)
	v.SetDefault("chat.max_tool_steps", 15)
	v.SetDefault("chat.history_limit", 60)

	v.SetDefault("research.default_breadth", 3)
	v.SetDefault("research.recon_results", 5)
	v.SetDefault("research.level1_results", 8)
	v.SetDefault("research.level2_results", 4)
	v.SetDefault("research.insight_threshold", 0.7)
	v.SetDefault("research.session_idle_ttl", "30m")
	v.SetDefault("research.completed_ttl", "5m")
	v.SetDefault("research.sweep_interval", "5m")

	v.SetDefault("sources.web_search.provider", "serper")
	v.SetDefault("sources.web_search.max_results", 10)

	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
}

// overrideFromEnv pulls well-known secrets from bare env vars so that
// deployments can avoid putting keys into the config file.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for name, p := range cfg.LLM.Providers {
			if p.APIKey == "" {
				p.APIKey = key
				cfg.LLM.Providers[name] = p
			}
		}
	}
	if key := os.Getenv("SERPER_API_KEY"); key != "" && cfg.Sources.WebSearch.SerperAPIKey == "" {
		cfg.Sources.WebSearch.SerperAPIKey = key
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" && cfg.Sources.WebSearch.BraveAPIKey == "" {
		cfg.Sources.WebSearch.BraveAPIKey = key
	}
	if secret := os.Getenv("COVERA_JWT_SECRET"); secret != "" && cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = secret
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && cfg.Storage.Postgres.URL == "" {
		cfg.Storage.Postgres.URL = dsn
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Chat.MaxToolSteps <= 0 {
		return fmt.Errorf("chat.max_tool_steps must be > 0")
	}
	if cfg.Chat.TokenLimit <= 0 {
		return fmt.Errorf("chat.token_limit must be > 0")
	}
	if cfg.Research.DefaultBreadth < 2 || cfg.Research.DefaultBreadth > 4 {
		return fmt.Errorf("research.default_breadth must be between 2 and 4")
	}
	if cfg.Research.InsightThreshold < 0 || cfg.Research.InsightThreshold > 1 {
		return fmt.Errorf("research.insight_threshold must be within [0,1]")
	}
	return nil
}
