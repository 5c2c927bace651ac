// Command navwatch observes single-page applications in Chrome and reports
// client-side navigations as JSON events.
//
// Usage:
//
//	navwatch -config navwatch.yaml        # pages, sinks and timings from YAML
//	navwatch -url https://app.example.com # one page, events on stdout
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/spawatch/dbopen"
	"github.com/hazyhaar/spawatch/idgen"
	"github.com/hazyhaar/spawatch/navwatch"
)

func main() {
	configPath := flag.String("config", "", "path to navwatch.yaml config file")
	singleURL := flag.String("url", "", "observe a single URL (stdout sink)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	if *configPath == "" && *singleURL == "" {
		fmt.Fprintln(os.Stderr, "usage: navwatch -config <file> | -url <url>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *singleURL); err != nil {
		logger.Error("navwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(configPath, singleURL string) (*navwatch.Config, error) {
	var (
		cfg *navwatch.Config
		err error
	)
	if configPath != "" {
		cfg, err = navwatch.LoadConfigFile(configPath)
	} else {
		cfg, err = navwatch.DefaultConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if singleURL != "" {
		cfg.Pages = append(cfg.Pages, navwatch.PageConfig{ID: idgen.PageID(), URL: singleURL})
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, configPath, singleURL string) error {
	cfg, err := loadConfig(configPath, singleURL)
	if err != nil {
		return err
	}

	var journal *navwatch.Journal
	if cfg.Journal.Path != "" {
		db, err := dbopen.Open(cfg.Journal.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(navwatch.JournalSchema))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		journal = navwatch.NewJournal(db)
	}

	sinks, err := navwatch.BuildSinks(cfg.Sinks, os.Stdout, journal, logger)
	if err != nil {
		return err
	}

	w := navwatch.New(cfg, logger, sinks...)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	// Stop flushes the sinks, so it runs before the journal closes.
	defer w.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.PagesDB != "" {
		pagesDB, err := dbopen.Open(cfg.PagesDB, dbopen.WithMkdirAll(), dbopen.WithSchema(navwatch.PagesSchema))
		if err != nil {
			return fmt.Errorf("open pages db: %w", err)
		}
		defer pagesDB.Close()

		if err := syncRegistry(gctx, w, pagesDB); err != nil {
			logger.Error("navwatch: initial registry sync", "error", err)
		}
		watcher := navwatch.WatchPages(pagesDB, logger)
		g.Go(func() error {
			watcher.OnChange(gctx, func() error { return syncRegistry(gctx, w, pagesDB) })
			return nil
		})
	}

	if journal != nil && cfg.Journal.Retention > 0 {
		g.Go(func() error {
			navwatch.RunRetention(gctx, journal, cfg.Journal.Retention, time.Hour, logger)
			return nil
		})
	}

	if cfg.HTTP.Addr != "" {
		h := navwatch.NewHandler(w, journal, logger)
		g.Go(func() error { return navwatch.ServeHTTP(gctx, cfg.HTTP.Addr, h, logger) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("navwatch: shutting down")
	return nil
}

func syncRegistry(ctx context.Context, w *navwatch.Watcher, db *sql.DB) error {
	pages, err := navwatch.LoadPages(ctx, db)
	if err != nil {
		return err
	}
	return w.SyncPages(ctx, pages)
}
