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
	t.Chdir(t.TempDir())
	t.Setenv("SITES_DIR", filepath.Join(t.TempDir(), "missing"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, 10, cfg.Probe.MaxRedirects)
	assert.Equal(t, "@every 1m", cfg.Scheduler.Cron)
	assert.False(t, cfg.S3.Enabled())
	assert.Empty(t, cfg.Sites)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SITES_DIR", filepath.Join(t.TempDir(), "missing"))
	t.Setenv("PROBE_TIMEOUT", "2s")
	t.Setenv("PROBE_WORKERS", "7")
	t.Setenv("MAX_LINKS_PER_SCAN", "10")
	t.Setenv("S3_BUCKET", "reports")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, 7, cfg.Probe.Workers)
	assert.Equal(t, 10, cfg.Crawl.MaxLinksPerScan)
	assert.True(t, cfg.S3.Enabled())
}

func TestLoad_SiteConfigs(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	t.Setenv("SITES_DIR", dir)

	site := "host: Blog.Example.com\nhandler: wordpress\nmax_links: 25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blog.yaml"), []byte(site), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	got := cfg.Site("blog.example.com")
	require.NotNil(t, got)
	assert.Equal(t, "wordpress", got.Handler)
	assert.Equal(t, 25, got.MaxLinks)
	assert.Nil(t, cfg.Site("other.example.com"))
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "postgres"},
		Probe:    ProbeConfig{Workers: 1, Timeout: time.Second},
		Crawl:    CrawlConfig{PageWorkers: 1},
	}
	assert.Error(t, cfg.Validate())

	cfg.Database.URL = "postgres://localhost/linkscan"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestValidate_DurationsAndRates(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Driver: "sqlite", Path: "linkscan.db"},
			Probe:     ProbeConfig{Workers: 1, Timeout: time.Second, RequestsPerSecond: 10},
			Crawl:     CrawlConfig{PageWorkers: 1, ScanTimeout: time.Minute},
			Retention: RetentionConfig{Days: 30, Interval: time.Hour},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"zero retention interval", func(c *Config) { c.Retention.Interval = 0 }, false},
		{"negative retention interval", func(c *Config) { c.Retention.Interval = -time.Hour }, false},
		{"retention disabled ignores interval", func(c *Config) { c.Retention.Days = 0; c.Retention.Interval = 0 }, true},
		{"negative scan timeout", func(c *Config) { c.Crawl.ScanTimeout = -time.Second }, false},
		{"zero scan timeout disables it", func(c *Config) { c.Crawl.ScanTimeout = 0 }, true},
		{"negative rps", func(c *Config) { c.Probe.RequestsPerSecond = -1 }, false},
		{"zero rps disables limiting", func(c *Config) { c.Probe.RequestsPerSecond = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
