package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hedgearb/internal/config"
	"hedgearb/internal/engine"
	"hedgearb/internal/history"
	"hedgearb/internal/infra/health"
	"hedgearb/internal/infra/http/middleware"
	"hedgearb/internal/infra/log"
	"hedgearb/internal/infra/metrics"
	"hedgearb/internal/infra/netutil"
	"hedgearb/internal/infra/runner"
	"hedgearb/internal/infra/version"
	"hedgearb/internal/venue"
	"hedgearb/internal/venue/aster"
	"hedgearb/internal/venue/backpack"
	"hedgearb/internal/venue/feed"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credentials come from the environment; a local .env is a convenience.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := log.NewLogger(cfg)
	if err := cfg.ValidatePair(); err != nil {
		logger.Fatal().Err(err).Msg("invalid venue pair configuration")
	}

	// Metrics and admin endpoints behind the IP allowlist gate.
	registry := metrics.Init(logger)
	mux := http.NewServeMux()
	adminCIDRs := netutil.MustParseCIDRs(cfg.Server.AdminAllowCIDRs)
	mux.Handle("/metrics", middleware.AdminGate(adminCIDRs, metrics.Handler(registry)))
	mux.HandleFunc("/healthz", health.Healthz)
	mux.HandleFunc("/readyz", health.Readyz)
	mux.HandleFunc("/version", version.Handler)
	if cfg.Server.Pprof {
		mux.Handle("/debug/pprof/", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Index)))
		mux.Handle("/debug/pprof/cmdline", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Profile)))
		mux.Handle("/debug/pprof/symbol", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Symbol)))
		mux.Handle("/debug/pprof/trace", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Trace)))
	}
	handler := middleware.RequestID(middleware.Logger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	legA, err := buildLeg(cfg, cfg.Pair.VenueA, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("venue A init failed")
	}
	legB, err := buildLeg(cfg, cfg.Pair.VenueB, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("venue B init failed")
	}

	var store engine.Recorder
	if cfg.History.Enabled {
		hs, err := history.Open(cfg.History.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("history store init failed")
		}
		defer func() { _ = hs.Close() }()
		store = hs
	}

	ctrl, err := engine.NewController(logger, cfg, legA, legB, store, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("controller init failed")
	}
	defer func() { _ = ctrl.Cleanup() }()

	logger.Info().
		Str("venue_a", cfg.Pair.VenueA).
		Str("venue_b", cfg.Pair.VenueB).
		Str("symbol", cfg.Trading.Symbol).
		Bool("dry_run", cfg.Trading.DryRun).
		Str("addr", cfg.Server.Addr).
		Msg("hedgearb started")

	g := &runner.Group{}
	// Optional stream feeders keep the book cache warm between REST fetches.
	for _, leg := range []engine.VenueLeg{legA, legB} {
		vc := cfg.Venues[leg.Spec.ID]
		if vc.WSURL == "" {
			continue
		}
		f := feed.New(feed.Config{
			VenueID: leg.Spec.ID,
			URL:     vc.WSURL,
			Symbol:  leg.Symbol,
		}, ctrl.Cache(), logger)
		_ = g.Go(ctx, f.Run)
	}
	workerErrCh := g.Go(ctx, ctrl.RunCycles)

	health.SetReady(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case s := <-sigCh:
		logger.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case err := <-workerErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("trading halted")
			health.SetReady(false)
		} else {
			logger.Info().Msg("all cycles complete")
		}
	}

	health.SetReady(false)
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}

// buildLeg constructs the adapter and instrument spec for one configured
// venue name.
func buildLeg(cfg config.Config, name string, logger log.Logger) (engine.VenueLeg, error) {
	vc, ok := cfg.Venues[name]
	if !ok {
		return engine.VenueLeg{}, fmt.Errorf("venue %q not configured", name)
	}
	spec := venue.SpecFromVocab(name, vc.TickSize, vc.ContractSize, vc.PriceBandPct, vc.StatusVocab)
	var ad venue.Adapter
	switch name {
	case "aster":
		ad = aster.New(vc, spec, logger)
	case "backpack":
		var err error
		ad, err = backpack.New(vc, spec, logger)
		if err != nil {
			return engine.VenueLeg{}, err
		}
	default:
		return engine.VenueLeg{}, fmt.Errorf("no adapter for venue %q", name)
	}
	return engine.VenueLeg{Adapter: ad, Spec: spec, Symbol: vc.Symbol}, nil
}
