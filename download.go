package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"harvest/internal/acquire"
	"harvest/internal/browser"
	"harvest/internal/config"
	"harvest/internal/ledger"
	"harvest/internal/output"
	"harvest/internal/session"
	"harvest/internal/targets"

	"github.com/spf13/cobra"
)

var (
	maxTargets        int
	downloadDir       string
	showUI            bool
	actionXPath       string
	verifySelector    string
	interruptSelector string
	ledgerFile        string
	pageLoadTimeout   float64
	actionTimeout     float64
)

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [targets-file]",
		Short: "Open each listed link in a browser and trigger its download control",
		Long: `Read links from the first column of a workbook (header row skipped), a csv
or a plain list, then for each link: open a browser tab, clear any alert or
modal, click the control at --action-xpath and verify the page still holds
--verify-selector.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDownload,
	}

	f := cmd.Flags()
	f.IntVar(&maxTargets, "max-targets", 0, "Read at most this many links")
	f.StringVar(&downloadDir, "download-dir", "", "Directory the browser saves downloads to")
	f.BoolVar(&showUI, "showui", false, "Show browser UI (disable headless mode)")
	f.StringVar(&actionXPath, "action-xpath", "", "XPath of the control to click")
	f.StringVar(&verifySelector, "verify-selector", "", "CSS selector that must exist after the click")
	f.StringVar(&interruptSelector, "interrupt-selector", "", "CSS selector of modals to remove before clicking")
	f.StringVar(&ledgerFile, "ledger", "", "sqlite file recording outcomes; recorded successes are skipped")
	f.Float64Var(&pageLoadTimeout, "page-load-timeout", 0, "Page load timeout in seconds")
	f.Float64Var(&actionTimeout, "action-timeout", 0, "Timeout for locating and verifying the control in seconds")
	return cmd
}

func applyDownloadFlags(cmd *cobra.Command, cfg *config.Config, args []string) {
	fs := cmd.Flags()
	if len(args) > 0 {
		cfg.TargetsSource = args[0]
	}
	if fs.Changed("max-targets") {
		cfg.MaxTargets = maxTargets
	}
	if fs.Changed("download-dir") {
		cfg.DownloadDir = downloadDir
	}
	if fs.Changed("showui") {
		headless := !showUI
		cfg.Headless = &headless
	}
	if fs.Changed("action-xpath") {
		cfg.ActionXPath = actionXPath
	}
	if fs.Changed("verify-selector") {
		cfg.VerifySelector = verifySelector
	}
	if fs.Changed("interrupt-selector") {
		cfg.InterruptSelector = interruptSelector
	}
	if fs.Changed("ledger") {
		cfg.Ledger = ledgerFile
	}
	if fs.Changed("page-load-timeout") {
		cfg.PageLoadTimeout = pageLoadTimeout
	}
	if fs.Changed("action-timeout") {
		cfg.ActionTimeout = actionTimeout
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyDownloadFlags(cmd, &cfg, args)
	if err := cfg.ValidateDownload(); err != nil {
		return err
	}
	closeLog, err := openLogFile(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	logger := slog.Default()
	locs, err := targets.FromFile(cfg.TargetsSource, cfg.MaxTargets)
	if err != nil {
		return fmt.Errorf("failed to read targets: %w", err)
	}
	logger.Info("loaded links", "file", cfg.TargetsSource, "links", len(locs))

	if cfg.DownloadDir != "" {
		dir, err := filepath.Abs(cfg.DownloadDir)
		if err != nil {
			return fmt.Errorf("failed to resolve download directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create download directory: %w", err)
		}
		cfg.DownloadDir = dir
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	b, err := browser.New(browser.Config{
		Headless:          cfg.IsHeadless(),
		ProxyURL:          cfg.Proxy,
		DownloadDir:       cfg.DownloadDir,
		ActionXPath:       cfg.ActionXPath,
		VerifySelector:    cfg.VerifySelector,
		InterruptSelector: cfg.InterruptSelector,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	total := len(locs)
	sess := session.New(b, session.Options{
		PageLoadTimeout: cfg.PageLoadTimeoutDuration(),
		ActionTimeout:   cfg.ActionTimeoutDuration(),
		DismissPause:    cfg.DismissPauseDuration(),
		Pacer:           acquire.NewPacer(cfg.MinDelayDuration(), cfg.MaxDelayDuration()),
		Logger:          logger,
		OnTransition: func(t acquire.Target, from, to session.State) {
			if from == 0 {
				logger.Info("processing link", "link", fmt.Sprintf("%d/%d", t.Index, total), "target", t.Locator)
				return
			}
			logger.Debug("session transition", "index", t.Index, "from", from, "to", to)
		},
	})

	var (
		work    acquire.Work = sess
		observe func(acquire.Outcome)
	)
	if cfg.Ledger != "" {
		l, err := ledger.Open(cfg.Ledger, logger)
		if err != nil {
			return err
		}
		defer l.Close()
		work = l.Skip(sess)
		observe = l.Observe(ctx)
	}

	p, err := newPipeline(cfg, observe)
	if err != nil {
		return err
	}
	res, runErr := p.Run(ctx, work, acquire.Targets(locs))

	logger.Info("completed", "downloaded", res.Count(acquire.KindSuccess), "of", total)
	output.Summary(cmd.ErrOrStderr(), res)
	return runErr
}
