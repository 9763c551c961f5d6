package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/task-viewer/internal/catalog"
	"github.com/hochfrequenz/task-viewer/internal/config"
	"github.com/hochfrequenz/task-viewer/internal/domain"
	"github.com/hochfrequenz/task-viewer/internal/review"
	"github.com/hochfrequenz/task-viewer/internal/traceindex"
)

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

func newLogger(cfg config.LogConfig, out io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
}

func newLoader(cfg *config.Config) *catalog.Loader {
	return catalog.NewLoader(catalog.Options{
		Mode:      cfg.Paths.SourceMode,
		Dir:       cfg.Paths.TaskDir,
		File:      cfg.Paths.TaskFile,
		CacheSize: cfg.Catalog.CacheSize,
	})
}

func newReviewStore(cfg *config.Config, loader *catalog.Loader) (review.Store, error) {
	if cfg.Review.Backend == "sqlite" {
		store, err := review.NewSQLiteStore(cfg.Review.DatabasePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return review.NewFileStore(loader), nil
}

func newSiteResolver(cfg *config.Config) domain.SiteResolver {
	return domain.SiteResolver{Mode: cfg.Sites.Mode, URLs: cfg.SiteTable()}
}

// reloadCallback maps changed paths to cache invalidations
func reloadCallback(loader *catalog.Loader, traces *traceindex.Index, traceDir string, logger *slog.Logger) catalog.ChangeCallback {
	traceDir = filepath.Clean(traceDir)
	return func(changed []string) {
		tracesChanged := false
		for _, path := range changed {
			name := filepath.Base(path)
			if strings.HasPrefix(name, review.TempPrefix) {
				continue
			}
			if filepath.Clean(filepath.Dir(path)) == traceDir && strings.HasSuffix(name, traceindex.Suffix) {
				tracesChanged = true
				continue
			}
			if filepath.Ext(name) != catalog.SourceExt || strings.HasSuffix(name, catalog.ReviewSuffix) {
				continue
			}
			loader.Invalidate(name)
			logger.Info("task file changed", "file", name)
		}
		if tracesChanged {
			traces.Invalidate(traceDir)
			logger.Info("trace directory changed", "dir", traceDir)
		}
	}
}
