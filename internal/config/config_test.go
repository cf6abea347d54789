package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "@hourly", cfg.Accrual.CronSpec)
	require.Equal(t, 500*time.Millisecond, cfg.Activity.MinRefreshDelay.Std())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9090
  admin_token: file-token
storage:
  backend: postgres
  postgres_dsn: postgres://file
referral:
  admins: [admin-1, admin-2]
activity:
  limit: 25
  slow_poll_interval: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	// Environment wins over the file.
	t.Setenv("ADMIN_TOKEN", "env-token")
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "env-token", cfg.Server.AdminToken)
	require.Equal(t, "postgres://env", cfg.Storage.PostgresDSN)
	require.Equal(t, []string{"admin-1", "admin-2"}, cfg.Referral.Admins)
	require.Equal(t, 25, cfg.Activity.Limit)
	require.Equal(t, 30*time.Second, cfg.Activity.SlowPollInterval.Std())
	// Untouched sections keep their defaults.
	require.Equal(t, 10*time.Second, cfg.Activity.NotifyCooldown.Std())
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
