package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maltedev/silpo-price-scraper/internal/browser"
	"github.com/maltedev/silpo-price-scraper/internal/catalog"
	"github.com/maltedev/silpo-price-scraper/internal/config"
	"github.com/maltedev/silpo-price-scraper/internal/database"
	"github.com/maltedev/silpo-price-scraper/internal/logging"
	"github.com/maltedev/silpo-price-scraper/internal/metrics"
	"github.com/maltedev/silpo-price-scraper/internal/parser"
	"github.com/maltedev/silpo-price-scraper/internal/ratelimit"
	"github.com/maltedev/silpo-price-scraper/internal/scraper"
)

// app holds what every subcommand needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   database.Store
	pg      *database.DB
	metrics *metrics.Metrics
	closers []io.Closer
}

func newApp(ctx context.Context, overrides func(*config.Config)) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if overrides != nil {
		overrides(cfg)
		if cfg.Scraper.CategoryID == 0 {
			cfg.Scraper.CategoryID = catalog.CategoryIDFromURL(cfg.Scraper.CategoryURL)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger, logCloser, err := logging.New(level, cfg.Logging.Format, cfg.Logging.Dir, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		closers: []io.Closer{logCloser},
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "postgres":
		pg := a.cfg.Storage.Postgres
		db, err := database.New(ctx, database.Config{
			Host:        pg.Host,
			Port:        pg.Port,
			User:        pg.User,
			Password:    pg.Password,
			Database:    pg.Database,
			MaxConns:    pg.MaxConns,
			MinConns:    pg.MinConns,
			MaxConnLife: pg.MaxConnLife,
			MaxConnIdle: pg.MaxConnIdle,
		})
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return err
		}
		if a.cfg.Redis.Enabled() {
			db.EnableOutbox(a.cfg.Redis.Stream)
		}
		a.store = db
		a.pg = db
	default:
		store, err := database.OpenSQLite(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.store = store
	}

	// the store closes before the log file
	a.closers = append([]io.Closer{a.store}, a.closers...)
	a.logger.Info("store opened", "driver", a.cfg.Storage.Driver)
	return nil
}

func (a *app) coordinator() *scraper.Coordinator {
	cfg := a.cfg

	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.NavTimeout()
	opts.UserAgent = cfg.Browser.UserAgent
	opts.Locale = cfg.Browser.Locale
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.ProxyServer = cfg.Browser.ProxyServer
	if !cfg.Browser.BlockResources {
		opts.BlockedResources = nil
	}

	opener := scraper.NewPlaywrightOpener(scraper.FetcherConfig{
		Browser:     opts,
		NavTimeout:  cfg.Browser.NavTimeout(),
		SettleDelay: cfg.Scraper.SettleDelay,
	}, a.logger)

	var source catalog.Source
	if cfg.Catalog.Enabled {
		source = catalog.NewClient(catalog.Config{
			Endpoint:  cfg.Catalog.Endpoint,
			Timeout:   cfg.Catalog.Timeout,
			UserAgent: cfg.Browser.UserAgent,
		}, nil, a.logger)
	}

	chain := scraper.NewChain(scraper.ChainConfig{
		CategoryID: cfg.Scraper.CategoryID,
		PerPage:    cfg.Catalog.PerPage,
	}, parser.NewSilpoParser(), source, a.metrics, a.logger)

	pacer := ratelimit.NewAdaptiveRateLimiter(cfg.Scraper.PageDelayMin, cfg.Scraper.PageDelayMax)

	return scraper.NewCoordinator(scraper.RunConfig{
		CategoryURL: cfg.Scraper.CategoryURL,
		MaxPages:    cfg.Scraper.MaxPages,
		PageTimeout: cfg.Scraper.PageTimeout,
		SnapshotDir: cfg.Scraper.SnapshotDir,
	}, opener, chain, a.store, pacer, a.metrics, a.logger)
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}
