package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/etaengine/internal/broadcast"
	"github.com/etaengine/internal/common/config"
	"github.com/etaengine/internal/common/db"
	"github.com/etaengine/internal/common/logger"
	"github.com/etaengine/internal/eta"
	"github.com/etaengine/internal/ingest"
	"github.com/etaengine/internal/metrics"
	"github.com/etaengine/internal/route"
	"github.com/etaengine/internal/store"
	"github.com/etaengine/internal/tracker"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	loggerConfig := logger.DefaultConfig()
	loggerConfig.Level = logger.ParseLogLevel(cfg.Logging.Level)
	loggerConfig.FilePath = cfg.Logging.FilePath
	log := logger.New(loggerConfig)

	log.Info("ETA engine starting",
		"log_level", cfg.Logging.Level,
		"routes_dir", cfg.Routes.Directory,
		"ingest_subject", cfg.Ingest.Subject,
	)

	if err := cfg.Database.Validate(); err != nil {
		log.Fatal("Invalid database configuration", "error", err)
	}

	database, err := db.New(cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	catalog := route.NewCatalog(log)
	if err := catalog.Load(cfg.Routes.Directory); err != nil {
		log.Fatal("Failed to load route catalog", "error", err)
	}
	log.Info("Route catalog loaded", "vehicles", len(catalog.VehicleIDs()))

	collector := metrics.NewCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persistence := store.New(database, log)
	if err := persistence.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure schema", "error", err)
	}

	// Separate NATS connections for ingest and broadcast keep slow
	// consumers on the outbound side from backpressuring ingestion.
	ingestConn, err := broadcast.DialNATS(cfg.Ingest.NATSURL, "etaengine-ingest",
		func(connected bool) { collector.NATSConnected.WithLabelValues("ingest").Set(boolToGauge(connected)) }, log)
	if err != nil {
		log.Fatal("Failed to connect to ingest NATS", "error", err)
	}
	defer ingestConn.Close()

	broadcastConn, err := broadcast.DialNATS(cfg.Broadcast.NATSURL, "etaengine-broadcast",
		func(connected bool) { collector.NATSConnected.WithLabelValues("broadcast").Set(boolToGauge(connected)) }, log)
	if err != nil {
		log.Fatal("Failed to connect to broadcast NATS", "error", err)
	}
	defer broadcastConn.Close()

	stateBroadcaster := broadcast.New(log)
	defer stateBroadcaster.Close()
	stateBroadcaster.SetMetrics(collector.SubscriberGauge("state"))
	stateBroadcaster.Attach(broadcast.NewNATSSubscriber(broadcastConn, "nats-state", cfg.Broadcast.StateSubject))

	etaBroadcaster := broadcast.New(log)
	defer etaBroadcaster.Close()
	etaBroadcaster.SetMetrics(collector.SubscriberGauge("eta"))
	etaBroadcaster.Attach(broadcast.NewNATSSubscriber(broadcastConn, "nats-eta", cfg.Broadcast.EtaSubject))

	trackerStore := tracker.NewStore(catalog, tracker.StoreConfig{
		MinGapMillis:        cfg.Tracker.MinPingGap.Milliseconds(),
		ArrivalRadiusMeters: cfg.Tracker.ArrivalRadiusMeters,
	}, log)

	estimator := eta.NewEstimator(catalog, eta.Config{
		MinSpeed:          cfg.Eta.MinSpeed,
		MaxSpeed:          cfg.Eta.MaxSpeed,
		MinUpdateInterval: cfg.Eta.MinUpdateInterval,
		InitialCovariance: cfg.Eta.InitialCovariance,
		ProcessNoise:      cfg.Eta.ProcessNoise,
		MeasurementNoise:  cfg.Eta.MeasurementNoise,
	}, persistence, etaBroadcaster, log)

	consumer := ingest.NewConsumer(cfg.Ingest, ingestConn,
		func() { collector.PingsDropped.WithLabelValues("backpressure").Inc() }, log)
	processor := ingest.NewProcessor(cfg.Ingest, catalog, trackerStore, estimator,
		stateBroadcaster, persistence, collector, log)
	manager := ingest.NewManager(cfg.Ingest, consumer, processor, log)
	if err := manager.Start(ctx); err != nil {
		log.Fatal("Failed to start ingest manager", "error", err)
	}

	cleanup := store.NewCleanupScheduler(persistence, cfg.Store, log)
	if err := cleanup.Start(ctx); err != nil {
		log.Fatal("Failed to start cleanup scheduler", "error", err)
	}

	var metricsServer interface{ Shutdown(context.Context) error }
	if cfg.Metrics.Addr != "" {
		metricsServer = collector.Serve(cfg.Metrics.Addr, log)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	cancel()
	manager.Stop()
	cleanup.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics server shutdown error", "error", err)
		}
	}

	log.Info("ETA engine stopped")
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
