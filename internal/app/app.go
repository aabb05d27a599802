package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forgeline/order-janitor/internal/archive"
	"github.com/forgeline/order-janitor/internal/cleanup"
	"github.com/forgeline/order-janitor/internal/domain/order"
	"github.com/forgeline/order-janitor/internal/handler"
	"github.com/forgeline/order-janitor/internal/repository"
	"github.com/forgeline/order-janitor/internal/scheduler"
	"github.com/forgeline/order-janitor/pkg/health"
	"github.com/forgeline/order-janitor/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the scheduler and the admin HTTP
// server, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("schedule", cfg.Cleanup.Schedule),
		zap.Bool("purge_enabled", cfg.Purge.Enabled),
	)

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := repository.NewOrderRepository(pool)
	historyRepo := repository.NewHistoryRepository(pool)
	purgeRepo := repository.NewPurgeRepository(pool)

	// Optional pre-purge archive.
	var archiver cleanup.Archiver
	if cfg.Purge.ArchiveDir != "" {
		fa, err := archive.NewFileArchiver(cfg.Purge.ArchiveDir)
		if err != nil {
			return errors.Wrap(err, "create archiver")
		}
		archiver = fa
	}

	// Cleanup engine.
	transitions := order.NewTransitionService(orderRepo, historyRepo)
	engine, err := cleanup.New(
		cleanup.Config{
			OrderMaxAge: cfg.Cleanup.OrderMaxAge,
			BatchSize:   cfg.Cleanup.BatchSize,
			MaxPages:    cfg.Cleanup.MaxPages,
			PurgeMinAge: cfg.Purge.MinAge,
		},
		orderRepo,
		transitions,
		historyRepo,
		purgeRepo,
		archiver,
		lg.Named("cleanup"),
		m.MeterProvider().Meter("order-janitor"),
	)
	if err != nil {
		return errors.Wrap(err, "create cleanup engine")
	}

	// Scheduled jobs.
	sched := scheduler.New(lg.Named("scheduler"))
	err = sched.AddJob("stale-order-cleanup", cfg.Cleanup.Schedule, func(ctx context.Context) error {
		_, err := engine.CancelStaleOrders(ctx, cfg.Cleanup.OrderMaxAge)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "register cleanup job")
	}
	if cfg.Purge.Enabled {
		err = sched.AddJob("cancelled-order-purge", cfg.Cleanup.Schedule, func(ctx context.Context) error {
			_, err := engine.DeleteCancelledOrdersWithoutRefunds(ctx, cfg.Purge.MinAge)
			return err
		})
		if err != nil {
			return errors.Wrap(err, "register purge job")
		}
	}

	if cfg.Cleanup.RunOnStartup {
		if _, err := engine.CancelStaleOrders(ctx, cfg.Cleanup.OrderMaxAge); err != nil {
			// Startup run failures are not fatal; the schedule retries.
			lg.Error("Startup cleanup run failed", zap.Error(err))
		}
	}

	// Admin surface: manual triggers + probes.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(engine, cfg.Purge.Enabled).Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Minute, // manual runs are synchronous
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "janitor-admin",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	sched.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "admin server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		sched.Stop()
		healthSvc.Stop()
		return nil
	})

	lg.Info("Admin server listening", zap.String("addr", cfg.Addr))
	return g.Wait()
}
