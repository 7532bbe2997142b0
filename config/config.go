package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Log       LogConfig
	Probe     ProbeConfig
	Crawl     CrawlConfig
	Scheduler SchedulerConfig
	Retention RetentionConfig
	S3        S3Config
	SitesDir  string
	Sites     map[string]*SiteConfig
}

type HTTPConfig struct {
	Addr string
}

type DatabaseConfig struct {
	Driver string // sqlite or postgres
	Path   string
	URL    string
}

type LogConfig struct {
	Level    string
	File     string
	Encoding string
}

type ProbeConfig struct {
	Timeout           time.Duration
	MaxRedirects      int
	Workers           int
	RequestsPerSecond float64
	UserAgent         string
}

type CrawlConfig struct {
	PageWorkers     int
	MaxPages        int
	MaxLinksPerScan int
	ScanTimeout     time.Duration
}

type SchedulerConfig struct {
	Cron string
}

type RetentionConfig struct {
	Days     int
	Interval time.Duration
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// SiteConfig overrides crawl behaviour for one host.
type SiteConfig struct {
	Host         string `yaml:"host"`
	Handler      string `yaml:"handler"` // wordpress, html or auto
	MaxPages     int    `yaml:"max_pages"`
	MaxLinks     int    `yaml:"max_links"`
	AuthUser     string `yaml:"auth_user"`
	AuthPassword string `yaml:"auth_password"`
}

const DefaultUserAgent = "linkscan/1.0"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Path:   getEnv("DB_PATH", "linkscan.db"),
			URL:    os.Getenv("DATABASE_URL"),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			File:     getEnv("LOG_FILE", "linkscan.log"),
			Encoding: getEnv("LOG_ENCODING", "console"),
		},
		Probe: ProbeConfig{
			Timeout:           getEnvDuration("PROBE_TIMEOUT", 5*time.Second),
			MaxRedirects:      getEnvInt("PROBE_MAX_REDIRECTS", 10),
			Workers:           getEnvInt("PROBE_WORKERS", 20),
			RequestsPerSecond: getEnvFloat("PROBE_RPS", 10),
			UserAgent:         getEnv("USER_AGENT", DefaultUserAgent),
		},
		Crawl: CrawlConfig{
			PageWorkers:     getEnvInt("PAGE_WORKERS", 4),
			MaxPages:        getEnvInt("MAX_PAGES", 500),
			MaxLinksPerScan: getEnvInt("MAX_LINKS_PER_SCAN", 0),
			ScanTimeout:     getEnvDuration("SCAN_TIMEOUT", 30*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Cron: getEnv("SCHEDULER_CRON", "@every 1m"),
		},
		Retention: RetentionConfig{
			Days:     getEnvInt("RETENTION_DAYS", 0),
			Interval: getEnvDuration("RETENTION_INTERVAL", 6*time.Hour),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		SitesDir: getEnv("SITES_DIR", filepath.Join("config", "sites")),
		Sites:    make(map[string]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.Probe.Workers < 1 {
		return fmt.Errorf("PROBE_WORKERS must be at least 1")
	}
	if c.Crawl.PageWorkers < 1 {
		return fmt.Errorf("PAGE_WORKERS must be at least 1")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive")
	}
	if c.Probe.MaxRedirects < 0 || c.Crawl.MaxPages < 0 || c.Crawl.MaxLinksPerScan < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Probe.RequestsPerSecond < 0 {
		return fmt.Errorf("PROBE_RPS must not be negative")
	}
	if c.Crawl.ScanTimeout < 0 {
		return fmt.Errorf("SCAN_TIMEOUT must not be negative")
	}
	if c.Retention.Days > 0 && c.Retention.Interval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be positive when RETENTION_DAYS is set")
	}
	return nil
}

// Site returns the overrides for host, or nil.
func (c *Config) Site(host string) *SiteConfig {
	return c.Sites[strings.ToLower(host)]
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(c.SitesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if site.Host == "" {
			return fmt.Errorf("%s: host is required", path)
		}

		c.Sites[strings.ToLower(site.Host)] = &site
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
