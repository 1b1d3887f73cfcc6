package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	rideCfg, err := config.LoadRideConfig()
	if err != nil {
		logger.Error("invalid pricing config", "error", err)
		os.Exit(1)
	}
	pricing := config.NewProvider(rideCfg)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var rides storage.RideStore
	var vehicles storage.VehicleStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		rides, vehicles = pg, pg
		logger.Info("using postgres ride store")
	} else {
		mem := storage.NewMemoryStore()
		rides, vehicles = mem, mem
		logger.Info("using in-memory ride store")
	}

	var driverIndex geo.Geo
	if cfg.RedisAddr != "" {
		driverIndex = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis driver index", "addr", cfg.RedisAddr)
	} else {
		driverIndex = geo.NewIndex()
	}

	gateway := realtime.NewGateway(logger)

	var relay notify.Relay
	if cfg.PushEndpoint != "" {
		relay = notify.NewHTTPRelay(cfg.PushEndpoint, cfg.PushKey)
	}
	queue := notify.NewQueue(relay, logger, 256)

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
	}

	engine := &dispatch.Engine{
		Geo:      driverIndex,
		Rides:    rides,
		Vehicles: vehicles,
		Gateway:  gateway,
		Notifier: queue,
		Fare:     fare.NewCalculator(pricing),
		Config:   pricing,
		Logger:   logger,
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		engine.Payments = payments.NewStripeClient()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go queue.Start(ctx)

	scheduler := &dispatch.Scheduler{
		Rides:    rides,
		Notifier: queue,
		Logger:   logger,
		Interval: cfg.ReminderInterval,
	}
	go scheduler.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(engine, gateway, vehicles, pricing, kp, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
