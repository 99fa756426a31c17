// Package core assembles the bot: configuration, logging, storage, the
// retrieval chain, the tracker and the command surface.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"shelfwatch/internal/config"
	"shelfwatch/internal/inventory"
	"shelfwatch/internal/notify"
	"shelfwatch/internal/router"
	"shelfwatch/internal/source"
	"shelfwatch/internal/storage"
	"shelfwatch/internal/tracker"
	"shelfwatch/internal/transport"
	"shelfwatch/internal/transport/telegram"
	"shelfwatch/internal/userdata"
	logx "shelfwatch/pkg/logx"
)

// App owns the wired component graph and its lifecycle.
type App struct {
	cfgm   *config.Manager
	logsvc *logx.Service
	log    logx.Logger

	store      storage.Store
	adapter    *telegram.Adapter
	cache      *inventory.Cache
	users      *userdata.Store
	chain      *source.Chain
	dispatcher *notify.Dispatcher
	runner     *tracker.Runner
	router     *router.Router

	updates chan transport.Update
}

func New(configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgm.SetLogger(log.With(logx.String("svc", "config")))

	a := &App{cfgm: cfgm, logsvc: logsvc, log: log}
	if err := a.build(cfg); err != nil {
		logsvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, err := config.DurationField("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, a.log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	pollTimeout, err := config.DurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("svc", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	a.cache = inventory.New(store, a.log.With(logx.String("svc", "inventory")))
	resolver := userdata.NewStaticResolver(cfg.Users.Tiers, cfg.Users.Overrides)
	a.users = userdata.NewStore(store, resolver, a.log.With(logx.String("svc", "users")))

	chain, err := a.buildChain(cfg)
	if err != nil {
		return err
	}
	a.chain = chain

	ncfg, err := notifyConfig(cfg)
	if err != nil {
		return err
	}
	a.dispatcher = notify.New(adapter, store, ncfg, a.log.With(logx.String("svc", "notify")))

	engine := tracker.NewEngine(chain, a.cache, a.users, a.dispatcher,
		a.log.With(logx.String("svc", "tracker")))
	rcfg, err := runnerConfig(cfg)
	if err != nil {
		return err
	}
	a.runner = tracker.NewRunner(engine, a.users, store, rcfg,
		a.log.With(logx.String("svc", "tracker")))

	a.router = router.New(adapter, cfg.Telegram.AdminUserIDs, a.log.With(logx.String("svc", "router")))
	a.registerCommands()
	return nil
}

// buildChain assembles the retrieval chain in priority order. The snapshot
// source doubles as the writeback target for live hits.
func (a *App) buildChain(cfg *config.Config) (*source.Chain, error) {
	timeout, err := config.DurationField("sources.timeout", cfg.Sources.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}

	var sources []source.Source
	var writer source.SnapshotWriter
	slog := a.log.With(logx.String("svc", "source"))

	if cfg.Sources.API.Enabled {
		api, err := source.NewAPISource(source.APIConfig{
			BaseURL:     cfg.Sources.API.BaseURL,
			Token:       cfg.Sources.API.Token,
			Marketplace: cfg.Sources.Scrape.Marketplace,
		}, nil, slog)
		if err != nil {
			return nil, err
		}
		sources = append(sources, api)
	}
	if cfg.Sources.Snapshot.Enabled {
		maxAge, err := config.DurationField("sources.snapshot.max_age", cfg.Sources.Snapshot.MaxAge, source.DefaultSnapshotMaxAge)
		if err != nil {
			return nil, err
		}
		snap, err := source.NewSnapshotSource(cfg.Sources.Snapshot.Dir, maxAge, slog)
		if err != nil {
			return nil, err
		}
		sources = append(sources, snap)
		writer = snap
	}
	if cfg.Sources.Scrape.Enabled {
		pageDelay, err := config.DurationField("sources.scrape.page_delay", cfg.Sources.Scrape.PageDelay, 5*time.Second)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source.NewScrapeSource(source.ScrapeConfig{
			Marketplace: cfg.Sources.Scrape.Marketplace,
			MaxPages:    cfg.Sources.Scrape.MaxPages,
			PageDelay:   pageDelay,
		}, nil, slog))
	}
	if len(sources) == 0 {
		return nil, errors.New("no product sources enabled")
	}
	return source.NewChain(sources, writer, timeout, slog), nil
}

// Run starts the adapter, the cycle schedule and the config watcher, then
// serves commands until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.updates = make(chan transport.Update, 64)
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}
	if err := a.runner.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	sub := a.cfgm.Subscribe(1)
	go a.applyLoop(ctx, sub)

	a.log.Info("shelfwatch started")
	a.router.Run(ctx, a.updates)

	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	a.log.Info("shutting down")
	a.runner.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.adapter.Stop(stopCtx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.logsvc.Close()
}

// applyLoop folds hot-reloaded config into the running components. Structural
// settings (token, storage driver, enabled sources) need a restart; the loop
// applies only what is safe to swap live.
func (a *App) applyLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logsvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			if ncfg, err := notifyConfig(cfg); err == nil {
				a.dispatcher.Apply(ncfg)
			}
			if rcfg, err := runnerConfig(cfg); err == nil {
				a.runner.Apply(rcfg)
			}
			a.router.SetAdmins(cfg.Telegram.AdminUserIDs)
			a.log.Info("config reloaded")
		}
	}
}

func notifyConfig(cfg *config.Config) (notify.Config, error) {
	base, err := config.DurationField("notify.retry_base", cfg.Notify.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notify.Config{}, err
	}
	maxDelay, err := config.DurationField("notify.retry_max_delay", cfg.Notify.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		RetryMax:      cfg.Notify.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		RatePerSec:    float64(cfg.Notify.RatePerSec),
		AuditChat:     cfg.Telegram.AuditChat,
	}, nil
}

func runnerConfig(cfg *config.Config) (tracker.RunnerConfig, error) {
	sellerDelay, err := config.DurationField("tracker.seller_delay", cfg.Tracker.SellerDelay, 3*time.Second)
	if err != nil {
		return tracker.RunnerConfig{}, err
	}
	skipWindow, err := config.DurationField("tracker.skip_window", cfg.Tracker.SkipWindow, time.Hour)
	if err != nil {
		return tracker.RunnerConfig{}, err
	}
	return tracker.RunnerConfig{
		Schedule:    cfg.Tracker.Schedule,
		Timezone:    cfg.Tracker.Timezone,
		SellerDelay: sellerDelay,
		SkipWindow:  skipWindow,
	}, nil
}

// validateConfig runs before a config commit, at startup and on hot reload.
func validateConfig(ctx context.Context, cfg *config.Config) error {
	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if cfg.Tracker.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Tracker.Schedule); err != nil {
			return fmt.Errorf("tracker.schedule: %w", err)
		}
	}
	if !cfg.Sources.API.Enabled && !cfg.Sources.Snapshot.Enabled && !cfg.Sources.Scrape.Enabled {
		return errors.New("at least one product source must be enabled")
	}
	if cfg.Sources.API.Enabled && cfg.Sources.API.BaseURL == "" {
		return errors.New("sources.api.base_url is required when the API source is enabled")
	}
	if cfg.Sources.Snapshot.Enabled && cfg.Sources.Snapshot.Dir == "" {
		return errors.New("sources.snapshot.dir is required when the snapshot source is enabled")
	}
	for _, field := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"sources.timeout", cfg.Sources.Timeout},
		{"sources.snapshot.max_age", cfg.Sources.Snapshot.MaxAge},
		{"sources.scrape.page_delay", cfg.Sources.Scrape.PageDelay},
		{"tracker.seller_delay", cfg.Tracker.SellerDelay},
		{"tracker.skip_window", cfg.Tracker.SkipWindow},
		{"notify.retry_base", cfg.Notify.RetryBase},
		{"notify.retry_max_delay", cfg.Notify.RetryMaxDelay},
	} {
		if field.raw == "" {
			continue
		}
		if _, err := config.DurationField(field.path, field.raw, 0); err != nil {
			return err
		}
	}
	return nil
}
