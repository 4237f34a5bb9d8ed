package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Context   ContextConfig   `mapstructure:"context"`
	Geo       GeoConfig       `mapstructure:"geo"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Retention RetentionConfig `mapstructure:"retention"`
	LogLevel  string          `mapstructure:"log_level"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// LLMConfig holds the text-completion oracle configuration
type LLMConfig struct {
	Provider       string  `mapstructure:"provider"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float32 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// DatabaseConfig holds paths for the two SQLite databases: the float
// measurement store queried by synthesized SQL, and the session store.
type DatabaseConfig struct {
	ArgoPath       string `mapstructure:"argo_path"`
	SessionsPath   string `mapstructure:"sessions_path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ContextConfig bounds per-session conversation history.
type ContextConfig struct {
	MaxSessionTokens int `mapstructure:"max_session_tokens"`
	MaxMessageTokens int `mapstructure:"max_message_tokens"`
	MaxTurns         int `mapstructure:"max_turns"`
}

// GeoConfig tunes geographic resolution.
type GeoConfig struct {
	RadiusKm       float64 `mapstructure:"radius_km"`
	GeocodeURL     string  `mapstructure:"geocode_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MinConfidence  float64 `mapstructure:"min_confidence"`
}

// SafetyConfig tunes the query gate.
type SafetyConfig struct {
	MaxRows          int `mapstructure:"max_rows"`
	RepromptAttempts int `mapstructure:"reprompt_attempts"`
}

// RetentionConfig controls the idle-session sweeper. An empty schedule
// disables it.
type RetentionConfig struct {
	Schedule    string `mapstructure:"schedule"`
	MaxIdleDays int    `mapstructure:"max_idle_days"`
}

// Load reads config.yaml (directory overridable via CONFIG_PATH), applies
// defaults, and lets ARGOCHAT_-prefixed environment variables override any
// key. A missing config file is not an error; defaults plus env suffice.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := os.Getenv("CONFIG_PATH"); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("ARGOCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")

	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("llm.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.timeout_seconds", 30)

	v.SetDefault("database.argo_path", "argo.db")
	v.SetDefault("database.sessions_path", "sessions.db")
	v.SetDefault("database.timeout_seconds", 30)

	v.SetDefault("context.max_session_tokens", 4000)
	v.SetDefault("context.max_message_tokens", 1000)
	v.SetDefault("context.max_turns", 20)

	v.SetDefault("geo.radius_km", 500)
	v.SetDefault("geo.geocode_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geo.timeout_seconds", 5)
	v.SetDefault("geo.min_confidence", 0.5)

	v.SetDefault("safety.max_rows", 1000)
	v.SetDefault("safety.reprompt_attempts", 1)

	v.SetDefault("retention.schedule", "0 3 * * *")
	v.SetDefault("retention.max_idle_days", 30)

	v.SetDefault("log_level", "info")
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Context.MaxSessionTokens <= 0 {
		return fmt.Errorf("context.max_session_tokens must be positive, got %d", c.Context.MaxSessionTokens)
	}
	if c.Context.MaxMessageTokens <= 0 {
		return fmt.Errorf("context.max_message_tokens must be positive, got %d", c.Context.MaxMessageTokens)
	}
	if c.Context.MaxTurns < 2 {
		return fmt.Errorf("context.max_turns must be at least 2, got %d", c.Context.MaxTurns)
	}
	if c.Geo.RadiusKm <= 0 {
		return fmt.Errorf("geo.radius_km must be positive, got %v", c.Geo.RadiusKm)
	}
	if c.Safety.MaxRows <= 0 {
		return fmt.Errorf("safety.max_rows must be positive, got %d", c.Safety.MaxRows)
	}
	if c.Safety.RepromptAttempts < 0 {
		return fmt.Errorf("safety.reprompt_attempts must not be negative, got %d", c.Safety.RepromptAttempts)
	}
	return nil
}
