package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkscan/crawler"
	"linkscan/logging"
	"linkscan/models"
	"linkscan/services"
	"linkscan/storage"
)

type scanFlags struct {
	menus    bool
	widgets  bool
	maxLinks int
	format   string
	all      bool
}

func newScanCommand() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan <site>",
		Short: "Scan one site and print the results",
		Long: `Scan crawls the site once with an in-memory database and prints the
summary and the broken links. Use --format json or csv for the full report.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().BoolVar(&f.menus, "menus", true, "include navigation menus")
	cmd.Flags().BoolVar(&f.widgets, "widgets", true, "include sidebar widgets")
	cmd.Flags().IntVar(&f.maxLinks, "max-links", 0, "stop probing after this many unique links (0 uses MAX_LINKS_PER_SCAN)")
	cmd.Flags().StringVar(&f.format, "format", "table", "output format: table, json or csv")
	cmd.Flags().BoolVar(&f.all, "all", false, "list every link in the table, not only broken ones")
	return cmd
}

func runScan(parent context.Context, out io.Writer, site string, f scanFlags) error {
	cfg, logger, cleanup, err := loadConfig(func(o *logging.Options) {
		// keep stdout for the results
		o.Level = "warn"
		o.File = ""
	})
	if err != nil {
		return err
	}
	defer cleanup()

	if f.maxLinks > 0 {
		cfg.Crawl.MaxLinksPerScan = f.maxLinks
	}

	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		return err
	}
	defer store.Close()

	reports := services.NewReportService(store)
	var renderer services.ReportRenderer
	if f.format != "table" {
		if renderer, err = reports.Renderer(f.format, ""); err != nil {
			return err
		}
	}

	engine := newEngine(cfg, store, nil, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = engine.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scan, err := engine.Start(ctx, crawler.StartRequest{Site: site, IncludeMenus: f.menus, IncludeWidgets: f.widgets})
	if err != nil {
		return err
	}

	select {
	case <-engine.Done(scan.ID):
	case <-ctx.Done():
		logger.Warn("interrupted, cancelling scan", zap.String("scan_id", scan.ID))
		if _, err := engine.Cancel(context.Background(), scan.ID); err != nil {
			return err
		}
		<-engine.Done(scan.ID)
	}

	report, err := reports.Build(context.Background(), scan.ID)
	if err != nil {
		return err
	}
	if renderer != nil {
		return renderer.Render(out, report)
	}
	printSummary(out, report, f.all)
	if report.Scan.Status == models.ScanStatusFailed {
		return fmt.Errorf("scan failed: %s", report.Scan.Error)
	}
	return nil
}

func printSummary(out io.Writer, r *services.Report, all bool) {
	s := &r.Scan

	summary := table.NewWriter()
	summary.SetOutputMirror(out)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle(s.Site)
	summary.AppendRows([]table.Row{
		{"Status", s.Status},
		{"Duration", duration(s)},
		{"Links", s.Total},
		{"OK", s.OK},
		{"Broken", s.Broken},
		{"Redirected", s.Redirect},
		{"Internal", s.Internal},
		{"External", s.External},
	})
	if s.Truncated {
		summary.AppendRow(table.Row{"Skipped (limit)", s.SkippedLinks})
	}
	summary.Render()

	links := table.NewWriter()
	links.SetOutputMirror(out)
	links.SetStyle(table.StyleLight)
	links.AppendHeader(table.Row{"URL", "Status", "Code", "Found on", "Error"})
	for _, l := range r.Links {
		if !all && l.Status != models.LinkStatusBroken {
			continue
		}
		code := "-"
		if l.HTTPCode != nil {
			code = fmt.Sprint(*l.HTTPCode)
		}
		links.AppendRow(table.Row{l.URL, l.Status, code, foundOn(l.Sources), l.Error})
	}
	if links.Length() == 0 {
		fmt.Fprintln(out, "No broken links found.")
		return
	}
	links.Render()
}

func duration(s *models.Scan) string {
	if d := s.DurationSeconds(); d != nil {
		return (time.Duration(*d) * time.Second).String()
	}
	return "-"
}

func foundOn(sources []string) string {
	const shown = 3
	if len(sources) <= shown {
		return strings.Join(sources, "\n")
	}
	return strings.Join(sources[:shown], "\n") + fmt.Sprintf("\n(+%d more)", len(sources)-shown)
}
