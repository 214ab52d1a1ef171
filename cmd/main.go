package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/okian/rollcall/internal/adapters/catalog"
	"github.com/okian/rollcall/internal/adapters/http/api"
	"github.com/okian/rollcall/internal/adapters/http/swagger"
	"github.com/okian/rollcall/internal/adapters/identity"
	"github.com/okian/rollcall/internal/adapters/publisher"
	"github.com/okian/rollcall/internal/adapters/repository"
	service "github.com/okian/rollcall/internal/app"
	"github.com/okian/rollcall/internal/config"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
	"github.com/okian/rollcall/pkg/tracing"
)

// HTTP server timeout constants. WriteTimeout stays zero because the
// registration stream is long lived.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
	serviceName               = "rollcall"
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			os.Stderr.WriteString("failed to sync logger: " + err.Error() + "\n")
		}
	}()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Defaults -> optional file -> env.
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger.Get()); err != nil {
		logger.Get().Error(ctx, "rollcall exited", logger.Error(err))
		os.Exit(1)
	}
}

// run wires every component from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn(ctx, "tracing shutdown failed", logger.Error(err))
		}
	}()

	svc, closers, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAll(ctx, log, closers)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	provider, err := buildIdentity(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Streams never finish on their own, so Shutdown ends them explicitly.
	streams, closeStreams := context.WithCancel(context.WithoutCancel(ctx))
	defer closeStreams()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(streams, svc, provider, cfg, log),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	srv.RegisterOnShutdown(closeStreams)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.StoreDriver),
			logger.String("locations", cfg.LocationDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

// buildService opens the configured backends and assembles the service.
// The returned closers release backend resources in order.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*service.Service, []io.Closer, error) {
	var closers []io.Closer

	store, err := repository.Open(ctx, repository.Config{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
		RedisURL:    cfg.RedisURL,
	}, repository.WithLogger(log.Named("repository")))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	closers = append(closers, store)

	locations, locCloser, err := openLocations(ctx, cfg, log)
	if err != nil {
		closeAll(ctx, log, closers)
		return nil, nil, err
	}
	if locCloser != nil {
		closers = append(closers, locCloser)
	}

	events, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		closeAll(ctx, log, closers)
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}

	pub, err := buildPublisher(ctx, cfg, log)
	if err != nil {
		closeAll(ctx, log, closers)
		return nil, nil, err
	}

	svc := service.New(
		service.WithLogger(log),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.EventQueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithNearbyRadiusKm(cfg.NearbyRadiusKm),
		service.WithStore(store, cfg.StoreDriver),
		service.WithLocations(locations),
		service.WithCatalog(events),
		service.WithPublisher(pub),
	)
	return svc, closers, nil
}

func openLocations(ctx context.Context, cfg *config.Config, log logger.Logger) (service.LocationStore, io.Closer, error) {
	if cfg.LocationDriver != repository.DriverRedis {
		return repository.NewMemoryLocations(), nil, nil
	}
	client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open redis locations: %w", err)
	}
	return repository.NewRedisLocations(client, repository.WithLogger(log.Named("locations"))), client, nil
}

func buildPublisher(ctx context.Context, cfg *config.Config, log logger.Logger) (publisher.Publisher, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Info(ctx, "no kafka brokers configured; lifecycle events go to the log")
		return publisher.NewLogPublisher(log.Named("publisher")), nil
	}
	pub, err := publisher.NewKafkaPublisher(brokers, cfg.KafkaTopic, log.Named("publisher.kafka"))
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	return pub, nil
}

// buildIdentity returns the bearer token verifier. Without a secret the
// server only serves anonymous reads.
func buildIdentity(ctx context.Context, cfg *config.Config, log logger.Logger) (identity.Provider, error) {
	if cfg.JWTSecret == "" {
		log.Warn(ctx, "jwt_secret is empty; every request is anonymous")
		return nil, nil
	}
	p, err := identity.NewJWT(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return p, nil
}

// newRouter mounts the API first; chi requires middleware before routes.
// Registration streams close when ctx is done.
func newRouter(ctx context.Context, svc *service.Service, provider identity.Provider, cfg *config.Config, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	api.NewServer(svc, svc, provider,
		api.WithHeartbeat(cfg.StreamHeartbeat()),
		api.WithStreamContext(ctx),
		api.WithLogger(log.Named("api")),
	).Register(r)
	swagger.Register(ctx, r)
	return r
}

func closeAll(ctx context.Context, log logger.Logger, closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.Warn(ctx, "close failed", logger.Error(err))
		}
	}
}

// startSystemMetricsUpdater refreshes runtime gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
