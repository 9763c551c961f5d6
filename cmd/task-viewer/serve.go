package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/task-viewer/internal/catalog"
	"github.com/hochfrequenz/task-viewer/internal/config"
	"github.com/hochfrequenz/task-viewer/internal/domain"
	"github.com/hochfrequenz/task-viewer/internal/traceindex"
	"github.com/hochfrequenz/task-viewer/internal/viewer"
	"github.com/hochfrequenz/task-viewer/web/api"
)

var (
	servePort      int
	serveTraceMode string
	serveReload    bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the task viewer web server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveTraceMode, "trace-mode", "", "trace viewer mode: launch or link")
	serveCmd.Flags().BoolVar(&serveReload, "reload", false, "reload task files and traces when they change on disk")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}
	if serveTraceMode != "" {
		cfg.Trace.Mode = config.TraceMode(serveTraceMode)
	}
	if serveReload {
		cfg.Catalog.LiveReload = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	traceDir := filepath.Clean(cfg.Paths.TraceDir)
	loader := newLoader(cfg)
	traces := traceindex.New()

	reviews, err := newReviewStore(cfg, loader)
	if err != nil {
		return fmt.Errorf("opening review store: %w", err)
	}
	defer reviews.Close()

	linker := viewer.Linker{ViewerURL: cfg.Trace.ViewerURL, PublicBase: cfg.BaseURL()}
	launcher := viewer.NewLauncher(viewer.Options{
		TraceDir:     traceDir,
		Command:      cfg.Trace.Command,
		Host:         cfg.Trace.ViewerHost,
		BasePort:     cfg.Trace.BasePort,
		MaxAttempts:  cfg.Trace.MaxPortAttempts,
		ReadyTimeout: cfg.Trace.ReadyTimeout.Duration,
		SettleDelay:  cfg.Trace.SettleDelay.Duration,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Catalog.LiveReload {
		watcher, err := catalog.NewWatcher(reloadCallback(loader, traces, traceDir, logger), logger)
		if err != nil {
			return fmt.Errorf("starting file watcher: %w", err)
		}
		for _, dir := range watchDirs(cfg, traceDir) {
			if err := watcher.Add(dir); err != nil {
				logger.Warn("cannot watch directory", "dir", dir, "error", err)
			}
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	server := api.NewServer(api.Deps{
		Catalog:   loader,
		Traces:    traces,
		TraceDir:  traceDir,
		Reviews:   reviews,
		Sites:     newSiteResolver(cfg),
		TraceMode: cfg.Trace.Mode,
		Launcher:  launcher,
		Linker:    linker,
		Logger:    logger,
	}, cfg.Addr())

	logBanner(logger, cfg, loader)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		stopViewers(launcher, logger)
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	stopViewers(launcher, logger)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func stopViewers(launcher *viewer.Launcher, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := launcher.StopAll(ctx); err != nil {
		logger.Warn("stopping trace viewers", "error", err)
	}
}

func watchDirs(cfg *config.Config, traceDir string) []string {
	taskDir := cfg.Paths.TaskDir
	if cfg.Paths.SourceMode == domain.SourceModeFile {
		taskDir = filepath.Dir(cfg.Paths.TaskFile)
	}
	taskDir = filepath.Clean(taskDir)
	if taskDir == traceDir {
		return []string{taskDir}
	}
	return []string{taskDir, traceDir}
}

func logBanner(logger *slog.Logger, cfg *config.Config, loader *catalog.Loader) {
	source := cfg.Paths.TaskDir
	if cfg.Paths.SourceMode == domain.SourceModeFile {
		source = cfg.Paths.TaskFile
	}
	logger.Info("task viewer starting",
		"url", cfg.BaseURL(),
		"source_mode", cfg.Paths.SourceMode,
		"source", source,
		"task_files", len(loader.Sources()),
		"trace_dir", cfg.Paths.TraceDir,
		"trace_mode", cfg.Trace.Mode,
		"review_backend", cfg.Review.Backend)

	table := cfg.SiteTable()
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		logger.Info("site", "name", k, "url", table[k], "mode", cfg.Sites.Mode)
	}
}
