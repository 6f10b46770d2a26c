// Package config loads application settings from an optional YAML file,
// COOPTME_* environment variables and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Scan    ScanConfig    `mapstructure:"scan"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Search  SearchConfig  `mapstructure:"search"`
}

// ScanConfig holds scan pipeline configuration
type ScanConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	Renderer      string        `mapstructure:"renderer"` // "browser" or "static"
	Headless      bool          `mapstructure:"headless"`
	UserAgent     string        `mapstructure:"user_agent"`
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
	ExtractOnLoad bool          `mapstructure:"extract_on_load"`
	Parallelism   int           `mapstructure:"parallelism"`
	ChromeBin     string        `mapstructure:"chrome_bin"`

	// Static renderer request settings
	Proxy           string        `mapstructure:"proxy"`
	Headers         []string      `mapstructure:"headers"` // "Key: Value"
	MaxResponseSize int           `mapstructure:"max_response_size"`
	RateLimit       time.Duration `mapstructure:"rate_limit"` // delay between requests
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Backend   string        `mapstructure:"backend"` // memory, bolt, sqlite, postgres, remote
	Path      string        `mapstructure:"path"`
	DSN       string        `mapstructure:"dsn"`
	RemoteURL string        `mapstructure:"remote_url"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Retries   int           `mapstructure:"retries"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SearchConfig holds full-text index configuration
type SearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IndexPath string `mapstructure:"index_path"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRemote   = "remote"
)

// Renderers.
const (
	RendererBrowser = "browser"
	RendererStatic  = "static"
)

// Load loads configuration from file, environment variables and defaults.
// path names an explicit config file; when empty, cooptme.yaml is looked up
// in the usual places and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cooptme")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.cooptme")
	}

	// Environment variable settings: COOPTME_STORAGE_BACKEND -> storage.backend
	v.SetEnvPrefix("COOPTME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Scan defaults
	v.SetDefault("scan.timeout", "30s")
	v.SetDefault("scan.renderer", RendererStatic)
	v.SetDefault("scan.headless", true)
	v.SetDefault("scan.user_agent", "")
	v.SetDefault("scan.page_timeout", "15s")
	v.SetDefault("scan.extract_on_load", false)
	v.SetDefault("scan.parallelism", 2)
	v.SetDefault("scan.chrome_bin", "")
	v.SetDefault("scan.proxy", "")
	v.SetDefault("scan.headers", []string{})
	v.SetDefault("scan.max_response_size", 4194304)
	v.SetDefault("scan.rate_limit", "0s")

	// Storage defaults
	v.SetDefault("storage.backend", BackendBolt)
	v.SetDefault("storage.path", "cooptme.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.remote_url", "")
	v.SetDefault("storage.rate_limit", 5.0)
	v.SetDefault("storage.retries", 3)
	v.SetDefault("storage.timeout", "15s")

	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*", "exp://*"})

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	// Search defaults
	v.SetDefault("search.enabled", true)
	v.SetDefault("search.index_path", "cooptme.bleve")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Scan.Timeout <= 0 {
		return fmt.Errorf("scan timeout must be positive, got: %s", config.Scan.Timeout)
	}

	switch config.Scan.Renderer {
	case RendererBrowser, RendererStatic:
	default:
		return fmt.Errorf("scan renderer must be 'browser' or 'static', got: %s", config.Scan.Renderer)
	}

	switch config.Storage.Backend {
	case BackendMemory:
	case BackendBolt, BackendSQLite:
		if config.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the %s backend", config.Storage.Backend)
		}
	case BackendPostgres:
		if config.Storage.DSN == "" {
			return fmt.Errorf("storage DSN is required for the postgres backend (set COOPTME_STORAGE_DSN)")
		}
	case BackendRemote:
		if config.Storage.RemoteURL == "" {
			return fmt.Errorf("remote URL is required for the remote backend (set COOPTME_STORAGE_REMOTE_URL)")
		}
	default:
		return fmt.Errorf("storage backend must be one of memory, bolt, sqlite, postgres, remote, got: %s", config.Storage.Backend)
	}

	if config.Server.Environment == "production" && config.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required in production (set COOPTME_AUTH_JWT_SECRET)")
	}

	return nil
}
