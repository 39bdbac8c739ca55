package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, `
server:
  port: 9090
auth:
  jwt_secret: s3cret
upstream:
  url: https://backend.example/exec
sync:
  enabled: true
  interval: 10m
scheduler:
  escalation_delay: 45s
mail:
  enabled: true
  host: smtp.example
  to: [ops@example.com]
`))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.EscalationDelay)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Mail.To)

	// Defaults
	assert.Equal(t, 7*24*time.Hour, cfg.Scheduler.TombstoneTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 86400, cfg.CORS.MaxAge)

	wc := cfg.Outbox.ToWorkerConfig()
	assert.Equal(t, cfg.Outbox.MaxRetries, wc.MaxRetries)
	assert.Equal(t, "https://backend.example/exec", cfg.Upstream.ToClientConfig().URL)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, "auth:\n  jwt_secret: from-file\n"))
	t.Setenv("HTTP_PORT", "7000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALARM_AUTH_JWT_SECRET", "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server: ServerConfig{Port: 8080},
			Auth:   AuthConfig{JWTSecret: "x", TokenTTL: time.Hour},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "auth.jwt_secret"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "sync without upstream", mutate: func(c *Config) {
			c.Sync.Enabled = true
			c.Sync.Interval = time.Minute
		}, wantErr: "upstream.url"},
		{name: "negative escalation", mutate: func(c *Config) { c.Scheduler.EscalationDelay = -time.Second }, wantErr: "escalation_delay"},
		{name: "database without outbox settings", mutate: func(c *Config) {
			c.Database = DatabaseConfig{Enabled: true, Host: "db", Name: "alarms"}
		}, wantErr: "outbox.batch_size"},
		{name: "mail without recipients", mutate: func(c *Config) {
			c.Mail.Enabled = true
			c.Mail.Host = "smtp"
		}, wantErr: "mail.to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
