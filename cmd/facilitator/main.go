// Command facilitator runs the standalone x402 facilitator service: claim
// verification, settlement, and the play-credit ledger behind one HTTP
// surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Vikram-Singh0/WalTune/internal/config"
	"github.com/Vikram-Singh0/WalTune/internal/suirpc"
	"github.com/Vikram-Singh0/WalTune/pkg/api"
	"github.com/Vikram-Singh0/WalTune/pkg/credits"
	creditszerolog "github.com/Vikram-Singh0/WalTune/pkg/credits/logger/zerolog"
	creditsprom "github.com/Vikram-Singh0/WalTune/pkg/credits/metrics/prometheus"
	"github.com/Vikram-Singh0/WalTune/pkg/x402"
	"github.com/Vikram-Singh0/WalTune/pkg/x402/facilitator"
	x402prom "github.com/Vikram-Singh0/WalTune/pkg/x402/metrics/prometheus"
	"github.com/Vikram-Singh0/WalTune/storage/memory"
	"github.com/Vikram-Singh0/WalTune/storage/postgres"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("facilitator exited with error")
	}
	logger.Info().Msg("facilitator stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, cleanup, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	creditService, err := credits.NewService(store, credits.Config{
		Logger:  creditszerolog.NewLogger(logger.With().Str("component", "credits").Logger()),
		Metrics: creditsprom.NewMetrics(registry, "waltune"),
	})
	if err != nil {
		return err
	}

	verifierLogger := &zerologAdapter{logger: logger.With().Str("component", "verifier").Logger()}
	verifierConfig := x402.VerifierConfig{
		AllowPlaceholderRecipient: cfg.AllowPlaceholder,
		MockMode:                  cfg.MockMode,
		Logger:                    verifierLogger,
		Metrics:                   x402prom.NewMetrics(registry, "waltune"),
	}
	if !cfg.MockMode {
		chain, err := suirpc.New(suirpc.Config{Endpoint: cfg.RPCEndpoint})
		if err != nil {
			return err
		}
		verifierConfig.Chain = chain
	}
	verifier, err := x402.NewVerifier(verifierConfig)
	if err != nil {
		return err
	}

	fac := facilitator.New(verifier, verifierLogger)
	handler, err := api.NewHandler(api.Config{
		Facilitator: fac,
		Credits:     creditService,
		Network:     cfg.Network,
		GetUserID:   api.FromHeader("X-User-Address"),
		Logger:      verifierLogger,
	})
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(30 * time.Second))

	router.Get("/health", handler.Health)
	router.Post("/verify", handler.Verify)
	router.Post("/settle", handler.Settle)
	router.Get("/credits", handler.GetCredits)
	router.Get("/credits/purchases", handler.ListPurchases)
	router.Post("/credits/purchase", handler.PurchaseCredits)
	if cfg.MetricsAddr == "" {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	g, ctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("network", cfg.Network).
			Bool("mock_mode", cfg.MockMode).
			Str("store", cfg.StoreProvider).
			Msg("facilitator listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newStore builds the credit store named by the configuration. The returned
// cleanup releases backing connections.
func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (credits.Store, func(), error) {
	switch cfg.StoreProvider {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{ConnectionString: cfg.DSN()})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		logger.Info().Msg("using postgres credit store")
		return store, store.Close, nil
	default:
		return memory.New(), func() {}, nil
	}
}

// zerologAdapter bridges the verifier's Logger interface onto zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (z *zerologAdapter) Debug(msg string, fields ...x402.Field) { z.emit(z.logger.Debug(), msg, fields) }
func (z *zerologAdapter) Info(msg string, fields ...x402.Field)  { z.emit(z.logger.Info(), msg, fields) }
func (z *zerologAdapter) Warn(msg string, fields ...x402.Field)  { z.emit(z.logger.Warn(), msg, fields) }
func (z *zerologAdapter) Error(msg string, fields ...x402.Field) { z.emit(z.logger.Error(), msg, fields) }

func (z *zerologAdapter) emit(event *zerolog.Event, msg string, fields []x402.Field) {
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
