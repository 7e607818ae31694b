package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	req.NoError(err)
	req.Equal(":8080", cfg.HTTP.Addr)
	req.Equal("badger", cfg.Store.Driver)
	req.Equal("none", cfg.Push.Provider)
	req.Equal(200, cfg.Delivery.HistoryLimit)
	req.Equal(500, cfg.Delivery.AdminHistoryLimit)
	req.Equal(5*time.Second, cfg.Push.CallTimeout)
	req.Equal(30*time.Second, cfg.HTTP.PollTimeout)
	req.Equal(5*time.Second, cfg.Delivery.ConfirmTimeout)
	req.Equal("otlp", cfg.Tracing.Exporter)
}

func TestLoadConfig_FileEnvAndFlags(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	t.Chdir(dir)

	// Given: a YAML file, an env override and a flag override
	file := filepath.Join(dir, "config.yaml")
	req.NoError(os.WriteFile(file, []byte(`
http:
  addr: ":9000"
push:
  call_timeout: 3s
  budget: 9s
observer:
  refresh_interval: 1m
`), 0o600))
	t.Setenv("NOTICE_LOG_LEVEL", "debug")
	t.Setenv("NOTICE_DELIVERY_SEND_BUFFER", "8")

	// When
	cfg, err := LoadConfig(file, []string{"--http.addr=:9100"})

	// Then: flags beat the file, env beats defaults
	req.NoError(err)
	req.Equal(":9100", cfg.HTTP.Addr)
	req.Equal("debug", cfg.Log.Level)
	req.Equal(8, cfg.Delivery.SendBuffer)
	req.Equal(3*time.Second, cfg.Push.CallTimeout)
	req.Equal(time.Minute, cfg.Observer.RefreshInterval)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NOTICE_PUSH_PROJECT_ID=campus-app\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("NOTICE_PUSH_PROJECT_ID") })

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	require.Equal(t, "campus-app", cfg.Push.ProjectID)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("NOTICE_STORE_DRIVER", "postgres")
		_, err := LoadConfig("", nil)
		require.Error(t, err)
	})

	t.Run("unknown push provider", func(t *testing.T) {
		_, err := LoadConfig("", []string{"--push.provider=carrier-pigeon"})
		require.Error(t, err)
	})

	t.Run("unknown tracing exporter", func(t *testing.T) {
		t.Setenv("NOTICE_TRACING_EXPORTER", "zipkin")
		_, err := LoadConfig("", nil)
		require.Error(t, err)
	})

	t.Run("budget shorter than one call", func(t *testing.T) {
		t.Setenv("NOTICE_PUSH_BUDGET", "1s")
		_, err := LoadConfig("", nil)
		require.Error(t, err)
	})
}
