package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/okian/repairflow/internal/adapters/http/api"
	"github.com/okian/repairflow/internal/adapters/http/swagger"
	"github.com/okian/repairflow/internal/adapters/notify"
	"github.com/okian/repairflow/internal/adapters/repository"
	"github.com/okian/repairflow/internal/adapters/repository/sqlstore"
	"github.com/okian/repairflow/internal/adapters/roster"
	service "github.com/okian/repairflow/internal/app"
	"github.com/okian/repairflow/internal/config"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/scoring"
	"github.com/okian/repairflow/pkg/logger"
	"github.com/okian/repairflow/pkg/metrics"
)

// HTTP server timeout constants.
const (
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

// loadConfig layers the config file and environment and applies logging settings.
func loadConfig(ctx context.Context, opts *rootOptions, w io.Writer) (*config.Config, error) {
	cfg, err := config.LoadFile(ctx, opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	if err := logger.InitWithFormat(cfg.LogFormat, w); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(ctx, opts, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.svc.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           app.handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.HTTP.Addr), logger.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// application is a started service with its HTTP routes.
type application struct {
	svc     *service.Service
	handler http.Handler
}

// newApplication wires cfg into a started service and a router.
func newApplication(ctx context.Context, cfg *config.Config, log logger.Logger) (*application, error) {
	policy, err := cfg.SLA.Policy()
	if err != nil {
		return nil, err
	}
	metrics.Configure(
		metrics.WithMetricsEnabled(cfg.Metrics.Enabled),
		metrics.WithRefreshInterval(cfg.Metrics.RefreshInterval),
	)

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithShards(cfg.Service.Shards),
		service.WithQueueCapacity(cfg.Service.QueueCapacity),
		service.WithDedupeSize(cfg.Service.DedupeSize),
		service.WithMaxRework(cfg.Service.MaxRework),
		service.WithDefaultEstimatedHours(cfg.Service.DefaultEstimatedHours),
		service.WithAssignOnEscalation(cfg.Service.AssignOnEscalation),
		service.WithSLAPolicy(policy),
		service.WithEscalationLevels(cfg.Escalation.Levels),
		service.WithSweepInterval(cfg.Escalation.SweepInterval),
		service.WithStoreTimeout(cfg.Store.Timeout),
		service.WithNotifyTimeout(cfg.Notify.Timeout),
		service.WithScoringOptions(scoringOptions(cfg.Scoring)...),
		service.WithAssignmentOptions(
			assignment.WithMaxAlternatives(cfg.Scoring.MaxAlternatives),
			assignment.WithConfidenceSpread(cfg.Scoring.ConfidenceSpread),
		),
	}

	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}
	if store != nil {
		svcOpts = append(svcOpts, service.WithStore(store))
	}
	if cfg.Notify.WebhookURL != "" {
		hook := notify.NewWebhookNotifier(cfg.Notify.WebhookURL, notify.WithHTTPClient(&http.Client{Timeout: cfg.Notify.Timeout}))
		svcOpts = append(svcOpts, service.WithNotifier(notify.Multi{notify.NewLogNotifier(log), hook}))
	}

	svc := service.New(svcOpts...)
	if err := svc.Start(ctx); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("start service: %w", err)
	}

	if cfg.Store.RosterPath != "" {
		techs, err := roster.Load(cfg.Store.RosterPath)
		if err == nil {
			err = roster.Seed(ctx, svc, techs)
		}
		if err != nil {
			svc.Stop()
			return nil, fmt.Errorf("seed roster: %w", err)
		}
		log.Info(ctx, "roster seeded", logger.String("path", cfg.Store.RosterPath), logger.Int("technicians", len(techs)))
	}

	r := mux.NewRouter()
	swagger.Register(ctx, r)
	api.NewServer(svc,
		api.WithLogger(log),
		api.WithRetry(cfg.HTTP.RetryAttempts, cfg.HTTP.RetryInitial, cfg.HTTP.RetryMax),
	).Register(ctx, r)

	return &application{svc: svc, handler: r}, nil
}

// openStore returns nil for the memory driver; the service builds its own.
func openStore(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (repository.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return nil, nil
	default:
		s, err := sqlstore.Open(ctx, sqlstore.Config{Dialect: sqlstore.Dialect(cfg.Driver), DSN: cfg.DSN}, sqlstore.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
		}
		return s, nil
	}
}

func scoringOptions(cfg config.ScoringConfig) []scoring.Option {
	return []scoring.Option{
		scoring.WithWeights(cfg.Weights),
		scoring.WithTiers(cfg.Tiers),
		scoring.WithMaxTravelKm(cfg.MaxTravelKm),
		scoring.WithWorkloadCurve(cfg.WorkloadCapacity, cfg.WorkloadExponent),
		scoring.WithResponseGrace(cfg.ResponseGrace),
		scoring.WithConcurrency(cfg.Concurrency),
	}
}
