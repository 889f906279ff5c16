// Package app wires the pipeline components from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/baxromumarov/estate-hunter/internal/config"
	"github.com/baxromumarov/estate-hunter/internal/core"
	"github.com/baxromumarov/estate-hunter/internal/httpx"
	"github.com/baxromumarov/estate-hunter/internal/notify"
	"github.com/baxromumarov/estate-hunter/internal/provider"
	"github.com/baxromumarov/estate-hunter/internal/store"
)

type App struct {
	Store        *store.Store
	Registry     *provider.Registry
	Orchestrator *core.Orchestrator
	Reconciler   *core.Reconciler

	redis *redis.Client
}

// New connects the store and the notification bus and builds the provider
// registry. Any error here is a startup error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	registry, err := NewRegistry(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{Store: st, Registry: registry}

	var notifier core.Notifier = notify.NewLogNotifier(logger)
	if cfg.RedisURL != "" {
		client, err := notify.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.redis = client
		notifier = notify.NewRedisNotifier(client, cfg.NotifyChannel, logger)
	}

	a.Orchestrator = core.NewOrchestrator(registry, st, st, notifier, logger)
	a.Reconciler = core.NewReconciler(registry, st, cfg.Concurrency.Checks, logger)
	return a, nil
}

// NewFetcher builds the direct-request strategy with the configured host limits.
func NewFetcher(cfg *config.Config) *httpx.CollyFetcher {
	limits := make([]httpx.HostLimit, 0, len(cfg.Fetch.HostLimits))
	for _, hl := range cfg.Fetch.HostLimits {
		limits = append(limits, httpx.HostLimit{Host: hl.Host, Every: hl.Every, Burst: hl.Burst})
	}
	return httpx.NewCollyFetcher(httpx.FetcherOptions{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       cfg.Fetch.Timeout,
		RespectRobots: cfg.Fetch.RespectRobots,
		RatePerSecond: cfg.Fetch.RatePerSecond,
		Burst:         cfg.Fetch.Burst,
		MaxAttempts:   cfg.Fetch.MaxAttempts,
		HostLimits:    limits,
	})
}

// NewBrowser builds the scripted headless-browser strategy.
func NewBrowser(cfg *config.Config, logger *slog.Logger) *httpx.Browser {
	return httpx.NewBrowser(httpx.BrowserOptions{
		Headless:          cfg.Browser.Headless,
		ExecPath:          cfg.Browser.ExecPath,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		SelectorTimeout:   cfg.Browser.SelectorTimeout,
	}, logger)
}

// NewRegistry builds the compiled-in providers on top of the two retrieval strategies.
func NewRegistry(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	fetcher := NewFetcher(cfg)
	browser := NewBrowser(cfg, logger)

	providers, err := provider.Defaults(provider.Deps{
		Fetcher: fetcher,
		Browser: browser,
		Logger:  logger,
		Options: provider.Options{
			PageConcurrency:   cfg.Concurrency.Pages,
			DetailConcurrency: cfg.Concurrency.Details,
			MaxPages:          cfg.Browser.MaxPages,
			MaxAPIPages:       cfg.Fetch.MaxAPIPages,
			SelectorTimeout:   cfg.Browser.SelectorTimeout,
			PaginationTimeout: cfg.Browser.PaginationTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	return provider.NewRegistry(providers...)
}

func (a *App) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.Store.Close()
}
