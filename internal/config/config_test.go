package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	if cfg.Download.Concurrency != 10 || cfg.Download.Retries != 2 {
		t.Errorf("Unexpected download defaults: %+v", cfg.Download)
	}
	if cfg.Analyzer.SnrTriggerLevel != 6 {
		t.Errorf("Expected SNR trigger 6, got %g", cfg.Analyzer.SnrTriggerLevel)
	}
	if len(cfg.ListingURLs()) != 2 {
		t.Errorf("Expected 2 default listing URLs, got %v", cfg.ListingURLs())
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	content := `
portal:
  scheduled_url: http://portal.test/eus/logs_list.html
  live_url: ""
download:
  logs_dir: /tmp/logs
  concurrency: 3
  timeout: 30s
analyzer:
  snr_trigger_level: 4.5
database:
  path: /tmp/test.db
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Download.Concurrency != 3 {
		t.Errorf("Expected concurrency 3, got %d", cfg.Download.Concurrency)
	}
	if cfg.Download.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %s", cfg.Download.Timeout)
	}
	if cfg.Analyzer.SnrTriggerLevel != 4.5 {
		t.Errorf("Expected SNR trigger 4.5, got %g", cfg.Analyzer.SnrTriggerLevel)
	}
	// The live page is disabled; only the scheduled one remains.
	urls := cfg.ListingURLs()
	if len(urls) != 1 || urls[0] != "http://portal.test/eus/logs_list.html" {
		t.Errorf("Unexpected listing URLs: %v", urls)
	}
	// Untouched keys keep their defaults.
	if cfg.Download.GraphConcurrency != 5 {
		t.Errorf("Expected default graph concurrency 5, got %d", cfg.Download.GraphConcurrency)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no portal URLs", func(c *Config) { c.Portal.ScheduledURL, c.Portal.LiveURL = "", "" }},
		{"zero concurrency", func(c *Config) { c.Download.Concurrency = 0 }},
		{"negative retries", func(c *Config) { c.Download.Retries = -1 }},
		{"zero trigger", func(c *Config) { c.Analyzer.SnrTriggerLevel = 0 }},
		{"no database path", func(c *Config) { c.Database.Path = "" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}
