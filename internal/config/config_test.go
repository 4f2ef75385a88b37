package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout())
	require.Equal(t, "./data", cfg.Storage.DataDir)
	require.Equal(t, "tasks.json", cfg.Storage.TasksFile)
	require.Equal(t, 1, cfg.Scheduler.Concurrency)
	require.Equal(t, 30*time.Second, cfg.Scheduler.AutoDeleteDelay())
	require.Equal(t, 64, cfg.Events.InboxSize)
	require.Equal(t, 30*time.Second, cfg.Events.HeartbeatTimeout())
	require.Equal(t, "./output", cfg.Defaults.OutputDir)
	require.True(t, cfg.Defaults.Headless)
	require.Equal(t, "simulate", cfg.Crawl.Client)
	require.Equal(t, 500*time.Millisecond, cfg.Crawl.SimLessonDelay())
	require.True(t, cfg.Logging.Development)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawld.yaml")
	blob := `
server:
  port: 9090
scheduler:
  concurrency: 2
  auto_delete_delay_seconds: 5
defaults:
  output_dir: /srv/courses
`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 2, cfg.Scheduler.Concurrency)
	require.Equal(t, 5*time.Second, cfg.Scheduler.AutoDeleteDelay())
	require.Equal(t, "/srv/courses", cfg.Defaults.OutputDir)
	// Unset sections keep their defaults.
	require.Equal(t, "./data", cfg.Storage.DataDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAWLD_SERVER_PORT", "9191")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cfg := base
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Storage.DataDir = ""
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Scheduler.Concurrency = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Events.HeartbeatTimeoutSec = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Crawl.Client = "chromedp"
	require.Error(t, cfg.Validate())
}
