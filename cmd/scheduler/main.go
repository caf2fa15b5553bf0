package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appointly/internal/api"
	"appointly/internal/availability"
	"appointly/internal/booking"
	"appointly/internal/config"
	"appointly/internal/db"
	"appointly/internal/events"
	"appointly/internal/lock"
	"appointly/internal/metrics"
	"appointly/internal/mongostore"
	"appointly/internal/postgres"
	"appointly/internal/store"
	"appointly/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: %v\n", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred cleanup always happens.
func run() error {
	cfg, err := config.Load(os.Getenv("SCHEDULER_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := cfg.Location()
	backend, ready, err := openBackend(ctx, cfg, loc, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("open store error")
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	defer backend.Close()

	var (
		locker lock.Locker
		rdb    *redis.Client
	)
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		locker = lock.NewRedis(rdb, cfg.LockTTL(), logger)
		storeReady := ready
		ready = func(ctx context.Context) error {
			if err := storeReady(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		}
	}

	bus := events.NewEventBus()
	bus.OnError(func(e events.Event, err error) {
		logger.Error().Err(err).Str("event", e.Type).Msg("event handler failed")
	})
	for _, t := range []string{events.AppointmentBooked, events.AppointmentRescheduled, events.AppointmentStatusChanged} {
		bus.Subscribe(t, func(e events.Event) error {
			logger.Debug().Str("event", e.Type).Str("appointment_id", e.Appointment.ID).Msg("domain event")
			return nil
		})
	}

	if err := config.WatchStaff(ctx, cfg.StaffPath, 30*time.Second, func(staff *config.StaffFile) {
		syncCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout())
		defer cancel()
		if err := config.SyncStaff(syncCtx, backend, staff); err != nil {
			logger.Error().Err(err).Msg("staff sync failed")
			return
		}
		logger.Info().Int("staff", len(staff.Staff)).Msg("staff templates synced")
	}, func(err error) {
		logger.Error().Err(err).Msg("staff config reload failed")
	}); err != nil {
		logger.Error().Err(err).Str("path", cfg.StaffPath).Msg("load staff config error")
		return fmt.Errorf("load staff config: %w", err)
	}

	startBackups(ctx, backend, cfg, logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	svc := booking.NewService(backend, locker, bus, booking.Options{
		RetryAttempts: cfg.Booking.RetryAttempts,
		StoreTimeout:  cfg.StoreTimeout(),
		Location:      loc,
	}, logger)
	resolver := availability.NewResolver(backend, backend, loc)
	server := api.NewHTTPServer(cfg.HTTP, svc, resolver, backend, ready, loc, logger)

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("timezone", loc.String()).
		Bool("redis_locks", rdb != nil).
		Msg("scheduler started")

	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("http server error")
		return err
	}
	logger.Info().Msg("scheduler stopped")
	return nil
}

// startBackups launches the periodic SQLite snapshot loop in the background.
// It is a no-op for other backends or when backups are disabled.
func startBackups(ctx context.Context, backend store.Backend, cfg *config.Config, logger zerolog.Logger) bool {
	sqlite, ok := backend.(*db.DB)
	if !ok || !cfg.Backup.Enabled {
		return false
	}
	go db.NewBackupService(sqlite, cfg.Backup, cfg.BackupInterval(), logger).Start(ctx)
	return true
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

func openBackend(ctx context.Context, cfg *config.Config, loc *time.Location, logger zerolog.Logger) (store.Backend, func(context.Context) error, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.Database.URL, loc, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Ping, nil
	case config.DriverMongo:
		s, err := mongostore.Open(ctx, cfg.Database.URL, cfg.Database.Name, loc, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Ping, nil
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return memory.New(), func(context.Context) error { return nil }, nil
	default:
		s, err := db.NewDB(cfg.Database.Path, loc, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.PingContext, nil
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
