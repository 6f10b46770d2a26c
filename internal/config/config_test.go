package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, RendererStatic, cfg.Scan.Renderer)
	assert.True(t, cfg.Scan.Headless)
	assert.Equal(t, 2, cfg.Scan.Parallelism)
	assert.Equal(t, 4194304, cfg.Scan.MaxResponseSize)
	assert.Empty(t, cfg.Scan.Headers)
	assert.Zero(t, cfg.Scan.RateLimit)
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, "cooptme.db", cfg.Storage.Path)
	assert.Equal(t, 3, cfg.Storage.Retries)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.Search.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COOPTME_SCAN_TIMEOUT", "5s")
	t.Setenv("COOPTME_STORAGE_BACKEND", "remote")
	t.Setenv("COOPTME_STORAGE_REMOTE_URL", "https://api.example.com")
	t.Setenv("COOPTME_SERVER_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, BackendRemote, cfg.Storage.Backend)
	assert.Equal(t, "https://api.example.com", cfg.Storage.RemoteURL)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cooptme.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan:
  renderer: browser
  extract_on_load: true
  proxy: socks5://127.0.0.1:9050
  headers:
    - "Accept-Language: fr-FR"
  max_response_size: 1048576
  rate_limit: 500ms
storage:
  backend: sqlite
  path: /tmp/profiles.sqlite
search:
  enabled: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RendererBrowser, cfg.Scan.Renderer)
	assert.True(t, cfg.Scan.ExtractOnLoad)
	assert.Equal(t, "socks5://127.0.0.1:9050", cfg.Scan.Proxy)
	assert.Equal(t, []string{"Accept-Language: fr-FR"}, cfg.Scan.Headers)
	assert.Equal(t, 1048576, cfg.Scan.MaxResponseSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Scan.RateLimit)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/profiles.sqlite", cfg.Storage.Path)
	assert.False(t, cfg.Search.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Scan.Timeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Scan:    ScanConfig{Timeout: time.Second, Renderer: RendererStatic},
			Storage: StorageConfig{Backend: BackendMemory},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero timeout", func(c *Config) { c.Scan.Timeout = 0 }, "scan timeout"},
		{"bad renderer", func(c *Config) { c.Scan.Renderer = "webkit" }, "scan renderer"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage backend"},
		{"bolt without path", func(c *Config) { c.Storage.Backend = BackendBolt }, "storage path"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "DSN"},
		{"remote without url", func(c *Config) { c.Storage.Backend = BackendRemote }, "remote URL"},
		{"production without secret", func(c *Config) { c.Server.Environment = "production" }, "JWT secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
