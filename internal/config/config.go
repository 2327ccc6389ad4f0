package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigDir is relative to the user's home directory.
	DefaultConfigDir = ".ccmemory"
	// EnvPrefix prefixes environment overrides, e.g. CCMEMORY_SERVER_PORT.
	EnvPrefix = "CCMEMORY"
)

// Config holds all ccmemory configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Decay     DecayConfig     `mapstructure:"decay"`
	Search    SearchConfig    `mapstructure:"search"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // empty resolves via store.DefaultDBPath()
	// NearDuplicateDistance is the max simhash Hamming distance treated as
	// a duplicate capture. 0 disables near-duplicate detection.
	NearDuplicateDistance int `mapstructure:"near_duplicate_distance"`
}

type DecayConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type SearchConfig struct {
	Limit   int           `mapstructure:"limit"`
	Weights WeightsConfig `mapstructure:"weights"`
}

type WeightsConfig struct {
	Semantic float64 `mapstructure:"semantic"`
	Keyword  float64 `mapstructure:"keyword"`
	Salience float64 `mapstructure:"salience"`
	Recency  float64 `mapstructure:"recency"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // "", "openai", "ollama"
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	APIKey     string `mapstructure:"api_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Decay: DecayConfig{
			Enabled:   true,
			Interval:  time.Hour,
			BatchSize: 100,
		},
		Search: SearchConfig{
			Limit: 10,
			Weights: WeightsConfig{
				Semantic: 0.40,
				Keyword:  0.25,
				Salience: 0.20,
				Recency:  0.15,
			},
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Load reads configuration from path, or from ~/.ccmemory/config.toml when
// path is empty. A missing default file is not an error. Environment
// variables prefixed with CCMEMORY_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.near_duplicate_distance", d.Database.NearDuplicateDistance)

	v.SetDefault("decay.enabled", d.Decay.Enabled)
	v.SetDefault("decay.interval", d.Decay.Interval)
	v.SetDefault("decay.batch_size", d.Decay.BatchSize)

	v.SetDefault("search.limit", d.Search.Limit)
	v.SetDefault("search.weights.semantic", d.Search.Weights.Semantic)
	v.SetDefault("search.weights.keyword", d.Search.Weights.Keyword)
	v.SetDefault("search.weights.salience", d.Search.Weights.Salience)
	v.SetDefault("search.weights.recency", d.Search.Weights.Recency)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Database.NearDuplicateDistance < 0 || c.Database.NearDuplicateDistance > 64 {
		return fmt.Errorf("database.near_duplicate_distance must be in 0-64, got %d", c.Database.NearDuplicateDistance)
	}
	if c.Decay.Interval <= 0 {
		return fmt.Errorf("decay.interval must be positive, got %s", c.Decay.Interval)
	}
	if c.Decay.BatchSize <= 0 {
		return fmt.Errorf("decay.batch_size must be positive, got %d", c.Decay.BatchSize)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be positive, got %d", c.Search.Limit)
	}

	switch c.Embedding.Provider {
	case "":
	case "openai", "ollama":
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required when embedding.provider is %q", c.Embedding.Provider)
		}
		if c.Embedding.Dimensions <= 0 {
			return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
		}
	default:
		return fmt.Errorf("embedding.provider must be 'openai' or 'ollama', got '%s'", c.Embedding.Provider)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got '%s'", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got '%s'", c.Log.Format)
	}
	return nil
}
