package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geekcrawl/crawld/internal/config"
	"github.com/geekcrawl/crawld/internal/task"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.DataDir = t.TempDir()
	cfg.Defaults.OutputDir = t.TempDir()
	cfg.Logging.Development = false
	return cfg
}

func TestNewAppInitializesServices(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := NewApp(cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.GetLogger())
	require.NotNil(t, a.GetRepository())
	require.NotNil(t, a.GetBus())
	require.NotNil(t, a.GetScheduler())

	// The repository is rooted in the configured data dir.
	_, err = a.GetScheduler().CreateTask("https://example.com/course/1", "", task.DefaultOptions())
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(cfg.Storage.DataDir, "tasks.json"))
	require.NoError(t, statErr)
}

func TestNewAppRejectsUnknownCrawlClient(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Crawl.Client = "chromedp"
	_, err := NewApp(cfg)
	require.Error(t, err)
}
