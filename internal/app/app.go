package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"listing-repricer/internal/config"
	"listing-repricer/internal/gateway"
	"listing-repricer/internal/marketplace"
	"listing-repricer/internal/reduction"
	"listing-repricer/internal/resolver"
	"listing-repricer/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newTokenSource() marketplace.TokenSource {
	auth := a.Config.Marketplace.Auth
	if auth.StaticToken != "" {
		return marketplace.StaticTokenSource(auth.StaticToken)
	}
	return marketplace.NewOAuthTokenSource(auth, a.Config.Marketplace.RequestTimeout)
}

func (a *App) newResolver(store *storage.Store) *resolver.Resolver {
	if a.Config.Marketplace.BaseURL == "" {
		return nil
	}
	client := marketplace.NewClient(a.Config.Marketplace, a.newTokenSource(), a.Logger)
	opts := resolver.OptionsFromConfig(a.Config.Resolver, a.Config.Marketplace)
	return resolver.New(client, store, store, opts, a.Logger)
}

func (a *App) newEngine(store *storage.Store) *reduction.Engine {
	applier := gateway.NewHTTPGateway(a.Config.Gateway, a.newTokenSource(), a.Logger)
	analyzer := a.newResolver(store)

	opts := reduction.Options{
		Workers:      a.Config.Scheduler.Workers,
		CallTimeout:  a.Config.Scheduler.CallTimeout,
		StaleAfter:   a.Config.Scheduler.StaleAfter,
		AnalyzeFirst: a.Config.Resolver.RunBeforeReduce && analyzer != nil,
		AnalyzeLimit: a.Config.Resolver.BatchLimit,
	}
	return reduction.New(store, store, store, applier, analyzer, opts, a.Logger)
}

// ReduceOptions configure a one-shot reduction pass.
type ReduceOptions struct {
	Force bool
}

// AnalyzeOptions configure a competitive analysis pass.
type AnalyzeOptions struct {
	Limit int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Kind  string
	Limit int
}

// ExportOptions hold parameters for exporting the outcome history.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	CSVPath string
	PNGPath string
	MaxDays int
}

// PurgeOptions configure audit-log retention housekeeping.
type PurgeOptions struct {
	MaxAge time.Duration
}
