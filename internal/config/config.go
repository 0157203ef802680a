// Package config loads the monitor configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PortalConfig points at the two listing pages and the base the relative
// pass links are resolved against.
type PortalConfig struct {
	// ScheduledURL lists registered stations, LiveURL the operational ones.
	ScheduledURL string `yaml:"scheduled_url"`
	LiveURL      string `yaml:"live_url"`
	UserAgent    string `yaml:"user_agent"`
}

// DownloadConfig bounds the log download engine.
type DownloadConfig struct {
	LogsDir          string `yaml:"logs_dir"`
	GraphsDir        string `yaml:"graphs_dir"`
	Concurrency      int    `yaml:"concurrency"`
	GraphConcurrency int    `yaml:"graph_concurrency"`
	Retries          int    `yaml:"retries"`
	TimeoutStr       string `yaml:"timeout"`
	ErrorLog         string `yaml:"error_log"`

	Timeout time.Duration `yaml:"-"`
}

// AnalyzerConfig holds the log analysis thresholds.
type AnalyzerConfig struct {
	SnrTriggerLevel float64 `yaml:"snr_trigger_level"`
}

// DatabaseConfig locates the SQLite statistics store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Config is the full monitor configuration. It is built once at process
// start and passed by reference into each component constructor.
type Config struct {
	Portal   PortalConfig   `yaml:"portal"`
	Download DownloadConfig `yaml:"download"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Database DatabaseConfig `yaml:"database"`
}

// Default returns a configuration with every knob at its built-in value.
func Default() *Config {
	return &Config{
		Portal: PortalConfig{
			ScheduledURL: "http://eus.lorett.org/eus/logs_list.html",
			LiveURL:      "http://eus.lorett.org/eus/logs.html",
			UserAgent:    "groundlink-monitor/1.0",
		},
		Download: DownloadConfig{
			LogsDir:          "passes_logs",
			GraphsDir:        "passes_graphs",
			Concurrency:      10,
			GraphConcurrency: 5,
			Retries:          2,
			Timeout:          120 * time.Second,
			ErrorLog:         "",
		},
		Analyzer: AnalyzerConfig{SnrTriggerLevel: 6},
		Database: DatabaseConfig{Path: "groundlink.db"},
	}
}

// Load reads the YAML file at path on top of the defaults and validates the
// result. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Download.TimeoutStr != "" {
		cfg.Download.Timeout, err = time.ParseDuration(cfg.Download.TimeoutStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse download timeout: %w", err)
		}
	}
	if cfg.Download.Timeout <= 0 {
		cfg.Download.Timeout = 120 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Portal.ScheduledURL == "" && c.Portal.LiveURL == "" {
		return fmt.Errorf("at least one portal listing URL is required")
	}
	if c.Download.Concurrency < 1 {
		return fmt.Errorf("download concurrency must be at least 1, got %d", c.Download.Concurrency)
	}
	if c.Download.GraphConcurrency < 1 {
		return fmt.Errorf("graph concurrency must be at least 1, got %d", c.Download.GraphConcurrency)
	}
	if c.Download.Retries < 0 {
		return fmt.Errorf("download retries must not be negative, got %d", c.Download.Retries)
	}
	if c.Analyzer.SnrTriggerLevel <= 0 {
		return fmt.Errorf("snr trigger level must be positive, got %g", c.Analyzer.SnrTriggerLevel)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

// ListingURLs returns the configured portal pages in merge order: the
// scheduled page first, then the live one.
func (c *Config) ListingURLs() []string {
	var urls []string
	if c.Portal.ScheduledURL != "" {
		urls = append(urls, c.Portal.ScheduledURL)
	}
	if c.Portal.LiveURL != "" {
		urls = append(urls, c.Portal.LiveURL)
	}
	return urls
}
