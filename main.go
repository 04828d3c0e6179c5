package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"harvest/internal/acquire"
	"harvest/internal/config"
	"harvest/internal/logging"
	_ "harvest/internal/sites/chartink"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configFile  string
	verbose     bool
	concurrency int
	maxRetries  int
	baseDelay   float64
	minDelay    float64
	maxDelay    float64
	proxyURL    string
	logFile     string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("harvest failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "harvest",
		Short:   "Paced, retrying, bounded-concurrency web acquisition",
		Version: version,
		Long: `harvest collects links from paginated listing sites and drives a browser
to download data from each collected link. Every request is paced with random
jitter, retried with exponential backoff and run under a concurrency ceiling.`,
		Example: `  # Collect screener links from both chartink listings into extracted_links.xlsx
  harvest links

  # Only the bullish listing, first 5 pages, as markdown on stdout
  harvest links chartink.bullish --pages 5 -o "" -f markdown

  # Download from every link in the workbook, resuming from a ledger
  harvest download extracted_links.xlsx --ledger downloads.db --download-dir ./data`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(cmd.ErrOrStderr(), verbose)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", config.DefaultFile, "Config file (json5); <name>.local.json5 is merged over it")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.IntVarP(&concurrency, "concurrency", "n", 0, "Maximum targets in flight")
	pf.IntVar(&maxRetries, "max-retries", 0, "Attempts per target")
	pf.Float64Var(&baseDelay, "base-delay", 0, "First backoff delay in seconds, doubled per attempt")
	pf.Float64Var(&minDelay, "min-delay", 0, "Minimum jitter before each attempt in seconds")
	pf.Float64Var(&maxDelay, "max-delay", 0, "Maximum jitter before each attempt in seconds")
	pf.StringVar(&logFile, "log-file", "", "Also append log records to this file")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "Proxy URL (e.g. http://127.0.0.1:7890), defaults to "+config.ProxyEnv+" env var")

	rootCmd.AddCommand(newLinksCmd(), newDownloadCmd())
	return rootCmd
}

// loadConfig reads the config file and applies every flag the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	fs := cmd.Flags()
	cfg, err := config.Load(configFile, fs.Changed("config"))
	if err != nil {
		return cfg, err
	}
	if fs.Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if fs.Changed("max-retries") {
		cfg.MaxRetries = maxRetries
	}
	if fs.Changed("base-delay") {
		cfg.BaseDelay = baseDelay
	}
	if fs.Changed("min-delay") {
		cfg.MinDelay = minDelay
	}
	if fs.Changed("max-delay") {
		cfg.MaxDelay = maxDelay
	}
	if fs.Changed("proxy") {
		cfg.Proxy = proxyURL
	}
	if fs.Changed("log-file") {
		cfg.LogFile = logFile
	}
	return cfg, nil
}

// openLogFile tees the log to cfg.LogFile when set. The returned func
// closes it and is safe to call when no file was opened.
func openLogFile(cmd *cobra.Command, cfg config.Config) (func() error, error) {
	if cfg.LogFile == "" {
		return func() error { return nil }, nil
	}
	_, closeLog, err := logging.SetupFile(cmd.ErrOrStderr(), verbose, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	return closeLog, nil
}

// signalContext is cancelled on SIGINT or SIGTERM. Cancellation stops
// admission; targets already running finish or abort at their next wait.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newPipeline(cfg config.Config, observe func(acquire.Outcome)) (*acquire.Pipeline, error) {
	p, err := acquire.New(acquire.Options{
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.BaseDelayDuration(),
		Logger:      slog.Default(),
		Observe:     observe,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline options: %w", err)
	}
	return p, nil
}
