// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Events    EventsConfig    `mapstructure:"events"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port               int `mapstructure:"port"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_seconds"`
}

// StorageConfig sets where the task registry persists.
type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	TasksFile string `mapstructure:"tasks_file"`
}

// SchedulerConfig governs the worker pool and lifecycle policy.
type SchedulerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	AutoDeleteDelaySec int `mapstructure:"auto_delete_delay_seconds"`
}

// EventsConfig tunes the publish/subscribe layer.
type EventsConfig struct {
	InboxSize           int `mapstructure:"inbox_size"`
	HeartbeatTimeoutSec int `mapstructure:"heartbeat_timeout_seconds"`
}

// DefaultsConfig holds the option snapshot applied to new tasks when the
// request leaves a field unset.
type DefaultsConfig struct {
	OutputDir      string `mapstructure:"output_dir"`
	Headless       bool   `mapstructure:"headless"`
	DownloadImages bool   `mapstructure:"download_images"`
	DownloadAudio  bool   `mapstructure:"download_audio"`
	DownloadVideo  bool   `mapstructure:"download_video"`
}

// CrawlConfig selects and tunes the crawl client.
type CrawlConfig struct {
	Client           string `mapstructure:"client"`
	SimChapters      int    `mapstructure:"sim_chapters"`
	SimLessons       int    `mapstructure:"sim_lessons"`
	SimLessonDelayMs int    `mapstructure:"sim_lesson_delay_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ShutdownTimeout converts the configured graceful shutdown window.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// AutoDeleteDelay converts the configured completion grace period.
func (c SchedulerConfig) AutoDeleteDelay() time.Duration {
	return time.Duration(c.AutoDeleteDelaySec) * time.Second
}

// HeartbeatTimeout converts the configured stream heartbeat interval.
func (c EventsConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSec) * time.Second
}

// SimLessonDelay converts the simulated per-lesson delay.
func (c CrawlConfig) SimLessonDelay() time.Duration {
	return time.Duration(c.SimLessonDelayMs) * time.Millisecond
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.tasks_file", "tasks.json")
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("scheduler.auto_delete_delay_seconds", 30)
	v.SetDefault("events.inbox_size", 64)
	v.SetDefault("events.heartbeat_timeout_seconds", 30)
	v.SetDefault("defaults.output_dir", "./output")
	v.SetDefault("defaults.headless", true)
	v.SetDefault("defaults.download_images", true)
	v.SetDefault("defaults.download_audio", true)
	v.SetDefault("defaults.download_video", true)
	v.SetDefault("crawl.client", "simulate")
	v.SetDefault("crawl.sim_chapters", 2)
	v.SetDefault("crawl.sim_lessons", 3)
	v.SetDefault("crawl.sim_lesson_delay_ms", 500)
	v.SetDefault("logging.development", true)
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if c.Storage.TasksFile == "" {
		return fmt.Errorf("storage.tasks_file must not be empty")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be positive, got %d", c.Scheduler.Concurrency)
	}
	if c.Events.HeartbeatTimeoutSec <= 0 {
		return fmt.Errorf("events.heartbeat_timeout_seconds must be positive, got %d", c.Events.HeartbeatTimeoutSec)
	}
	if c.Crawl.Client != "simulate" {
		return fmt.Errorf("unknown crawl.client %q", c.Crawl.Client)
	}
	return nil
}
