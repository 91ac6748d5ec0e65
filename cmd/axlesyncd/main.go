package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"

	"axle-sync-backend/config"
	"axle-sync-backend/internal/api"
	"axle-sync-backend/internal/db"
	"axle-sync-backend/internal/events"
	"axle-sync-backend/internal/legacy"
	"axle-sync-backend/internal/logging"
	"axle-sync-backend/internal/notification"
	"axle-sync-backend/internal/payload"
	"axle-sync-backend/internal/pipeline"
	"axle-sync-backend/internal/query"
	"axle-sync-backend/internal/store"
	"axle-sync-backend/internal/vendor"
)

// workerCommand re-executes the daemon as an isolated legacy reader.
const workerCommand = "legacy-worker"

func main() {
	if len(os.Args) > 1 && os.Args[1] == workerCommand {
		os.Exit(legacy.ServeProcess())
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, logFile, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	logger.Info("Configuration loaded", "path", configPath)

	if err := run(cfg, configPath, logger); err != nil {
		logger.Error("Daemon stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := config.NewStore(configPath, cfg)

	names := vendor.Names()
	gormDB, err := db.Init(&cfg.Database, names)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	bus := events.NewBus(logger.With("component", "events"), 1000)
	defer bus.Close()

	// Web push is optional; without VAPID keys nothing is pushed.
	webpushOptions := &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
		pool.Start(ctx)
		bus.Subscribe(pool.Observe, 64)
	} else {
		logger.Warn("VAPID keys are not configured, web push is disabled")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own executable: %w", err)
	}
	reader := legacy.NewReader(
		legacy.ProcessRunner{Path: executable, Args: []string{workerCommand}},
		func() legacy.Options {
			c := settings.Get()
			return legacy.Options{
				Password:     c.Legacy.Password,
				Driver:       c.Legacy.Driver,
				Charset:      c.Legacy.Charset,
				FirebirdHost: c.Legacy.FirebirdHost,
				FirebirdUser: c.Legacy.FirebirdUser,
				Timezone:     c.Timezone,
			}
		},
		func() time.Duration { return settings.Get().Legacy.WorkerTimeout() },
		logger.With("component", "legacy"),
	)
	facade := query.NewFacade(reader, settings)
	builder := payload.NewBuilder(facade)
	location := func() *time.Location { return settings.Get().Location() }

	integrations := make(map[string]api.Integration, len(names))
	schedulers := make(map[string]api.StatusReporter, len(names))
	for _, name := range names {
		integrationSettings := func() config.IntegrationConfig {
			ic, _ := settings.Integration(name)
			return ic
		}
		sink := bus.Source(name)

		adapter, err := vendor.New(name, vendor.Options{
			Settings: integrationSettings,
			Location: location,
			Sink:     sink,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		p := pipeline.New(pipeline.Options{
			Ledger:   store.NewGormLedger(gormDB, name),
			Adapter:  adapter,
			Builder:  builder,
			Settings: integrationSettings,
			Location: location,
			Sink:     sink,
			Logger:   logger,
		})
		scheduler := pipeline.NewScheduler(name, p, integrationSettings, sink, logger)
		settings.OnChange(scheduler.OnConfigChange)
		scheduler.Start(ctx)
		defer scheduler.Stop()

		integrations[name] = p
		schedulers[name] = scheduler
	}

	handler := api.NewHandler(api.Options{
		DB:           gormDB,
		Config:       settings,
		Legacy:       facade,
		Integrations: integrations,
		Schedulers:   schedulers,
		Events:       bus,
		WebPush:      webpushOptions,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, cfg.Server),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping services...")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server ListenAndServe: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}
	logger.Info("Server gracefully stopped")
	return nil
}
