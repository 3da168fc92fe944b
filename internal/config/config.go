// Package config loads the daemon's TOML configuration and watches it
// for changes so a running daemon can pick up edits without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration.
type Config struct {
	Timezone        string `mapstructure:"timezone"`
	IntervalMinutes int    `mapstructure:"interval_minutes"`
	HorizonDays     int    `mapstructure:"horizon_days"`
	Listen          string `mapstructure:"listen"`
	DataDir         string `mapstructure:"data_dir"`

	Calendar CalendarConfig `mapstructure:"calendar"`
	Todoist  TodoistConfig  `mapstructure:"todoist"`
	Notion   NotionConfig   `mapstructure:"notion"`
	Logs     LogsConfig     `mapstructure:"logs"`
}

// CalendarConfig holds the calendar activity's settings.
type CalendarConfig struct {
	// Ignore lists subject glob patterns that are never synced.
	Ignore []string `mapstructure:"ignore"`
}

// TodoistConfig holds the task service credentials.
type TodoistConfig struct {
	Token string `mapstructure:"token"`
}

// NotionConfig holds the sink credentials and database ids.
type NotionConfig struct {
	Token      string `mapstructure:"token"`
	CalendarDB string `mapstructure:"calendar_db"`
	TasksDB    string `mapstructure:"tasks_db"`
	ProjectsDB string `mapstructure:"projects_db"`
}

// LogsConfig holds log file settings.
type LogsConfig struct {
	Dir         string `mapstructure:"dir"`
	KeepForDays int    `mapstructure:"keep_for_days"`
}

// DefaultPath returns the default config file location,
// ~/.notisync/config.toml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".notisync", "config.toml")
}

// Load reads the config file at path and applies defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(configDir string) {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.IntervalMinutes <= 0 {
		c.IntervalMinutes = 5
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:9099"
	}
	if c.DataDir == "" {
		c.DataDir = configDir
	}
	if c.Logs.Dir == "" {
		c.Logs.Dir = filepath.Join(configDir, "logs")
	}
	if c.Logs.KeepForDays <= 0 {
		c.Logs.KeepForDays = 14
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Interval returns the sync interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// CheckpointPath returns the checkpoint database location.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.DataDir, "checkpoints.db")
}
