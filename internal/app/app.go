// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/api"
	"github.com/newsdeck/hn-ingest/internal/clock/system"
	"github.com/newsdeck/hn-ingest/internal/config"
	"github.com/newsdeck/hn-ingest/internal/fetchpool"
	"github.com/newsdeck/hn-ingest/internal/hnclient"
	"github.com/newsdeck/hn-ingest/internal/id/uuid"
	"github.com/newsdeck/hn-ingest/internal/ingest"
	"github.com/newsdeck/hn-ingest/internal/metrics"
	"github.com/newsdeck/hn-ingest/internal/poller"
	"github.com/newsdeck/hn-ingest/internal/redisstore"
	"github.com/newsdeck/hn-ingest/internal/storage/postgres"
)

// App holds the shared, long-lived services for the ingest service.
// It is initialized once at startup and passed to the commands that
// need it. Construction fails fast: if the coordination store or the
// database is unreachable the process must not start.
type App struct {
	logger *zap.Logger
	cfg    config.Config

	coord  *redisstore.Store
	store  *postgres.StoryStore
	client *hnclient.Client
	poller *poller.Poller
	server *api.Server
}

// NewApp wires every service from configuration.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	coord, err := redisstore.New(ctx, cfg.Redis.URL, cfg.SeenTTL())
	if err != nil {
		return nil, fmt.Errorf("connect coordination store: %w", err)
	}

	store, err := postgres.NewStoryStore(ctx, postgres.StoryStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		coord.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	client := hnclient.New(hnclient.Config{
		BaseURL:        cfg.HN.BaseURL,
		UserAgent:      cfg.HN.UserAgent,
		Timeout:        cfg.FetchTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: cfg.BackoffInitial(),
		RateLimit:      cfg.HN.RateLimit,
		RateBurst:      cfg.HN.RateBurst,
	}, logger)

	clk := system.New()
	idGen := uuid.NewUUIDGenerator()
	pool := fetchpool.New(client, cfg.HN.Concurrency, logger)

	var lists []ingest.ListSpec
	if cfg.HN.ExtendedLists {
		lists = append(lists, ingest.DefaultLists...)
		for i := range lists {
			switch lists[i].Name {
			case "topstories":
				lists[i].Cap = cfg.HN.TopLimit
			case "newstories":
				lists[i].Cap = cfg.HN.NewLimit
			}
		}
	}

	p := poller.New(
		client,
		client,
		pool,
		coord,
		coord,
		store,
		coord,
		coord,
		idGen,
		clk,
		poller.Config{
			TopLimit:        cfg.HN.TopLimit,
			NewLimit:        cfg.HN.NewLimit,
			Lists:           lists,
			Window:          cfg.Window(),
			Filter:          ingest.FilterConfig{MinScore: cfg.Filter.MinScore, MinComments: cfg.Filter.MinComments},
			UpdatesCap:      cfg.Poller.UpdatesCap,
			CatchupBatchMax: cfg.Poller.CatchupBatchMax,
		},
		logger,
	)

	server := api.NewServer(store, coord, coord, store, coord, idGen, clk, logger)

	logger.Info("application services initialized",
		zap.String("poller_mode", cfg.Poller.Mode),
		zap.Int("server_port", cfg.Server.Port),
	)

	return &App{
		logger: logger,
		cfg:    cfg,
		coord:  coord,
		store:  store,
		client: client,
		poller: p,
		server: server,
	}, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded service configuration.
func (a *App) Config() config.Config { return a.cfg }

// Poller returns the discovery pipeline runner.
func (a *App) Poller() *poller.Poller { return a.poller }

// Server returns the HTTP API server.
func (a *App) Server() *api.Server { return a.server }

// Close shuts services down in reverse construction order. It is
// called by a Cobra hook after the command finishes.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.store.Close()
	if err := a.coord.Close(); err != nil {
		a.logger.Warn("close coordination store", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort; stderr sync fails on some platforms.
		_ = err
	}
}
