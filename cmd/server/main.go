// Command engine is the process entry point: it loads the global config and
// every tenant under the tenants directory, wires the shared market-context
// feeds and credential vault, and runs one trading loop + dashboard per
// tenant until an interrupt or terminate signal triggers orderly shutdown.
//
// Grounded on the teacher's main.go sequence (config.Load -> logging setup
// -> event bus -> per-subsystem construction -> goroutine start -> signal
// wait -> graceful shutdown), collapsed from one bot's wiring into
// tenant.Supervisor's per-tenant fan-out.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"krw-trading-engine/config"
	"krw-trading-engine/internal/events"
	"krw-trading-engine/internal/tenant"
	"krw-trading-engine/internal/tradingloop"
	"krw-trading-engine/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg.LoggingConfig)
	log.Info().Msg("starting krw-trading-engine")

	bus := events.NewBus()

	vaultStore, err := vault.NewStore(cfg.VaultConfig, cfg.GlobalConfig.TenantsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential vault")
	}

	feeds := buildMarketFeeds()

	sv := tenant.New(*cfg, vaultStore, bus, feeds, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sv.StartAll(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start tenants")
	}
	log.Info().Strs("tenants", sv.Tenants()).Msg("all tenants started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, liquidating and stopping tenants")
	cancel()

	done := make(chan struct{})
	go func() {
		sv.StopAll()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tenants stopped cleanly")
	case <-time.After(60 * time.Second):
		log.Warn().Msg("shutdown timed out waiting for tenants")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.JSONFormat {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// buildMarketFeeds wires the C2 providers that are process-wide rather than
// tenant-scoped (spec.md §4.2). The upstream data sources themselves —
// Reddit/news scrapers, exchange funding-rate and whale-flow feeds — are
// out-of-scope external collaborators (spec.md §1); with none configured
// here every fetcher field stays nil, which every call site in
// internal/tradingloop already treats as "degrade to neutral" per spec.md
// §4.2's "must degrade to null/neutral on failure without propagating". A
// deployment wires real fetchers in by populating this struct before
// passing it to tenant.New.
func buildMarketFeeds() tradingloop.MarketFeeds {
	return tradingloop.MarketFeeds{}
}
