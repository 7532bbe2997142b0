// Package cmd implements the linkscan command line.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkscan/config"
	"linkscan/crawler"
	"linkscan/httputil"
	"linkscan/logging"
	"linkscan/metrics"
	"linkscan/prober"
	"linkscan/storage"
)

var (
	// debug forces debug level logging for every command
	debug bool

	rootCmd = &cobra.Command{
		Use:           "linkscan",
		Short:         "Find broken links on websites",
		Long:          `linkscan crawls a site, probes every link it finds and keeps the results for browsing and reporting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newMigrateCommand())
}

// loadConfig reads the environment and builds the logger. The returned
// cleanup flushes the logger and closes the log file.
func loadConfig(logOverride func(*logging.Options)) (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	opts := logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Encoding: cfg.Log.Encoding}
	if logOverride != nil {
		logOverride(&opts)
	}
	if debug {
		opts.Level = "debug"
	}
	logger, rw, err := logging.Setup(opts)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("set up logging: %w", err)
	}

	cleanup := func() {
		_ = logger.Sync()
		if rw != nil {
			rw.Close()
		}
	}
	return cfg, logger, cleanup, nil
}

// newEngine wires the prober and the crawl engine from configuration.
func newEngine(cfg *config.Config, store storage.ScanStore, m *metrics.Metrics, logger *zap.Logger) *crawler.Engine {
	clients := httputil.NewClients(&cfg.Probe)

	p := prober.New(clients.Probe, prober.Config{
		Timeout:           cfg.Probe.Timeout,
		MaxRedirects:      cfg.Probe.MaxRedirects,
		RequestsPerSecond: cfg.Probe.RequestsPerSecond,
		UserAgent:         cfg.Probe.UserAgent,
	}, logger.Named("prober"))
	if m != nil {
		p.SetObserver(m)
	}

	engine := crawler.NewEngine(store, p, clients.Pages, crawler.Options{
		PageWorkers:  cfg.Crawl.PageWorkers,
		ProbeWorkers: cfg.Probe.Workers,
		MaxPages:     cfg.Crawl.MaxPages,
		MaxLinks:     cfg.Crawl.MaxLinksPerScan,
		ScanTimeout:  cfg.Crawl.ScanTimeout,
		UserAgent:    cfg.Probe.UserAgent,
	}, logger.Named("crawler"))
	engine.SetMetrics(m)
	engine.SetSites(cfg.Site)
	return engine
}

// describeDatabase names the database for logs with any password masked.
func describeDatabase(cfg config.DatabaseConfig) string {
	if cfg.Driver != "postgres" {
		return "sqlite:" + cfg.Path
	}
	return maskConnectionString(cfg.URL)
}

func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3
	at := strings.LastIndex(connStr, "@")
	if at < start {
		return connStr
	}
	colon := strings.Index(connStr[start:at], ":")
	if colon < 0 {
		return connStr
	}
	return connStr[:start+colon+1] + "****" + connStr[at:]
}
