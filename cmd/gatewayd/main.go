// gatewayd is the governed remote-compute gateway daemon. It owns the
// process-wide connection pools, credit ledger and circuit breakers, and
// exposes the compute operations over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/auth"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/breaker"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/cache"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/config"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/gateway"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/ledger"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/monitoring"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/router"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/server"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/transport"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	setupLogging(*debug)

	if err := run(*configPath); err != nil {
		log.Error().Err(err).Msg("gateway exited with error")
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Info().Str("config", configPath).
		Str("direct", cfg.Backend.DirectAddr).
		Str("relay", cfg.Backend.RelayURL).
		Msg("configuration loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	src, err := buildTokenSource(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("building token source: %w", err)
	}
	tokens := auth.NewManager(src, auth.Config{
		Environment:  cfg.Auth.Environment,
		RotationWarn: cfg.Auth.RotationWarn.Std(),
		PollInterval: cfg.Auth.PollInterval.Std(),
	})

	directPool := pool.New(poolConfig("direct", cfg.Pools.Direct),
		transport.DirectFactory(cfg.Backend.DirectAddr))
	defer closePool(directPool)

	var relayPool *pool.Pool
	if cfg.Backend.RelayURL != "" {
		relayPool = pool.New(poolConfig("relay", cfg.Pools.Relay),
			transport.RelayFactory(cfg.Backend.RelayURL))
		defer closePool(relayPool)
	}

	// A rotated token means existing connections carry stale credentials.
	tokens.OnRotate(func() {
		log.Info().Msg("access token rotated, recycling connection pools")
		directPool.Recycle()
		if relayPool != nil {
			relayPool.Recycle()
		}
	})
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	tokens.OnRotationWarning(func(tok auth.Token) {
		metrics.TokenRotationWarnings.Inc()
		log.Warn().Str("token_id", tok.ID).Time("expires_at", tok.ExpiresAt).
			Msg("access token nearing expiry")
	})
	tokens.Start(ctx)
	defer tokens.Stop()

	var journal *monitoring.Journal
	if cfg.Monitoring.JournalEnabled {
		journal, err = monitoring.OpenJournal(cfg.Monitoring.JournalPath)
		if err != nil {
			return fmt.Errorf("opening usage journal: %w", err)
		}
		defer func() { _ = journal.Close() }()
	}

	resultCache := cache.New(cfg.Cache.SweepInterval.Std())
	defer resultCache.Stop()

	deps := gateway.Deps{
		Direct: transport.NewDirect(directPool, tokens, cfg.Auth.Environment,
			cfg.Backend.CallTimeout.Std()),
		DirectBreaker: breaker.New(transport.NameDirect, breakerConfig(cfg.Breaker)),
		DirectPool:    directPool,
		Ledger: ledger.New(ledger.Config{
			Window:      cfg.Credits.WindowDuration(),
			Quota:       cfg.Credits.Quota,
			SoftWarnPct: cfg.Credits.SoftWarnPct,
		}),
		Pricing: ledger.NewPricing(cfg.Credits.CostTable, cfg.Credits.TokenRate),
		Cache:   resultCache,
		Router: router.New(cfg.Routing.Warehouses, cfg.Routing.Default, func(string) {
			metrics.WorkloadFallbacks.Inc()
		}),
		Metrics: metrics,
		Journal: journal,
	}
	if relayPool != nil {
		deps.Relay = transport.NewRelay(relayPool, tokens, cfg.Auth.Environment,
			cfg.Backend.CallTimeout.Std())
		deps.RelayBreaker = breaker.New(transport.NameRelay, breakerConfig(cfg.Breaker))
		deps.RelayPool = relayPool
	}

	directPool.Warm(ctx)
	if relayPool != nil {
		relayPool.Warm(ctx)
	}

	gw := gateway.New(cfg, deps)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(gw, journal, reg).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := gw.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight operations did not drain")
	}
	return nil
}

func buildTokenSource(ctx context.Context, cfg config.AuthConfig) (auth.Source, error) {
	switch cfg.Source {
	case "file":
		return &auth.FileSource{Path: cfg.TokenFile}, nil
	case "env":
		return &auth.EnvSource{}, nil
	case "awssm":
		return auth.NewSecretsManagerSource(ctx, cfg.SecretID)
	default:
		return nil, fmt.Errorf("unknown auth source %q", cfg.Source)
	}
}

func poolConfig(name string, cfg config.PoolConfig) pool.Config {
	return pool.Config{
		Name:         name,
		Min:          cfg.Min,
		Max:          cfg.Max,
		IdleTimeout:  cfg.IdleTimeout.Std(),
		LeaseTimeout: cfg.LeaseTimeout.Std(),
		Freshness:    cfg.Freshness.Std(),
	}
}

func breakerConfig(cfg config.BreakerConfig) breaker.Config {
	return breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		EvaluationWindow: cfg.EvaluationWindow.Std(),
		CoolDown:         cfg.CoolDown.Std(),
	}
}

func closePool(p *pool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("pool close timed out")
	}
}
