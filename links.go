package main

import (
	"fmt"
	"log/slog"

	"harvest/internal/acquire"
	"harvest/internal/config"
	"harvest/internal/extractor"
	"harvest/internal/fetcher"
	"harvest/internal/output"
	"harvest/internal/scraper"

	"github.com/spf13/cobra"
)

var (
	pagesPerSite      int
	outputFile        string
	outputFormat      string
	tableSelector     string
	requestsPerSecond float64
	requestTimeout    float64
)

func newLinksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links [source...]",
		Short: "Collect links from paginated listing sources",
		Long: fmt.Sprintf(`Fetch pages 1..N of each source and collect every link inside the
result table. Sources run one after another; pages within a source run
concurrently. Registered sources: %v`, scraper.Names()),
		RunE: runLinks,
	}

	f := cmd.Flags()
	f.IntVar(&pagesPerSite, "pages", 0, "Pages fetched per source")
	f.StringVarP(&outputFile, "output", "o", "", "Output file (default extracted_links.xlsx, empty string for stdout)")
	f.StringVarP(&outputFormat, "format", "f", "", "Output format (xlsx, html, text, markdown, json, csv); inferred from the output extension")
	f.StringVar(&tableSelector, "selector", extractor.DefaultTableSelector, "CSS selector of the table holding the links")
	f.Float64Var(&requestsPerSecond, "rps", 0, "Cap on requests per second across all workers (0 = no cap)")
	f.Float64Var(&requestTimeout, "timeout", 0, "Per-request timeout in seconds")
	return cmd
}

func applyLinksFlags(cmd *cobra.Command, cfg *config.Config, args []string) {
	fs := cmd.Flags()
	if len(args) > 0 {
		cfg.Sources = args
	}
	if fs.Changed("pages") {
		cfg.PagesPerSite = pagesPerSite
	}
	if fs.Changed("output") {
		cfg.Output = outputFile
	}
	if fs.Changed("format") {
		cfg.Format = outputFormat
	}
	if fs.Changed("rps") {
		cfg.RequestsPerSecond = requestsPerSecond
	}
	if fs.Changed("timeout") {
		cfg.RequestTimeout = requestTimeout
	}
}

func runLinks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyLinksFlags(cmd, &cfg, args)
	if err := cfg.ValidateLinks(); err != nil {
		return err
	}
	closeLog, err := openLogFile(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	scrapers, err := scraper.Resolve(cfg.Sources)
	if err != nil {
		return err
	}

	logger := slog.Default()
	f := fetcher.NewFetcher(extractor.NewTableLinks(tableSelector), fetcher.Options{
		Timeout:           cfg.RequestTimeoutDuration(),
		ProxyURL:          cfg.Proxy,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Pacer:             acquire.NewPacer(cfg.MinDelayDuration(), cfg.MaxDelayDuration()),
		Logger:            logger,
	})

	sources := make([]acquire.Source, 0, len(scrapers))
	for _, s := range scrapers {
		locs, err := s.Locators(scraper.Options{PagesPerSite: cfg.PagesPerSite})
		if err != nil {
			return fmt.Errorf("failed to enumerate %s: %w", s.Name(), err)
		}
		sources = append(sources, acquire.Source{Name: s.Name(), Targets: acquire.Targets(locs), Work: f})
	}

	p, err := newPipeline(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	res, runErr := p.RunSources(ctx, sources)

	items := res.Items()
	logger.InfoContext(ctx, "collected links", "links", len(items), "pages", res.Len())
	if err := output.Write(items, cfg.Output, cfg.Format, cmd.OutOrStdout()); err != nil {
		return err
	}
	if cfg.Output != "" {
		logger.InfoContext(ctx, "links saved", "file", cfg.Output)
	}
	output.Summary(cmd.ErrOrStderr(), res)
	return runErr
}
