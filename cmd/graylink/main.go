// Gray Logic Link - device command and status bridge
//
// This is the main entry point for Gray Logic Link. Link sits between a
// smart-home platform and devices speaking JSON over a pub/sub broker:
//   - Capability changes become device commands correlated with responses
//   - Unsolicited status pushes feed a cache that answers queries instantly
//   - MQTT, NATS or an in-process simulator carry device traffic
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-link/internal/api"
	"github.com/nerrad567/gray-logic-link/internal/catalog"
	"github.com/nerrad567/gray-logic-link/internal/command"
	"github.com/nerrad567/gray-logic-link/internal/devicebus"
	"github.com/nerrad567/gray-logic-link/internal/engine"
	"github.com/nerrad567/gray-logic-link/internal/history"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/natsbus"
	"github.com/nerrad567/gray-logic-link/internal/simulator"
	"github.com/nerrad567/gray-logic-link/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Link",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("loading device catalog: %w", err)
	}
	log.Info("device catalog loaded", "path", cfg.Catalog.Path, "devices", cat.Len())

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	// Open database (status history only)
	var db *database.DB
	if cfg.Database.History.Enabled {
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")
	} else {
		log.Info("status history disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Background workers share one group; it is drained before the
	// database and InfluxDB defers run.
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		if waitErr := g.Wait(); waitErr != nil {
			log.Error("background worker failed", "error", waitErr)
		}
	}()

	var recorder *history.Recorder
	if db != nil {
		recorder = history.NewRecorder(db.DB, history.Options{
			Logger:        log.Component("history"),
			Retention:     cfg.Database.History.Retention,
			PruneInterval: cfg.Database.History.PruneInterval,
		})
		g.Go(func() error {
			recorder.Run(gctx)
			return nil
		})
	}

	// The hub is assigned before the engine connects, so no command can
	// resolve while it is nil.
	var hub *api.Hub
	eng, err := engine.New(engine.Options{
		Logger:            log.Component("engine"),
		Metrics:           collector,
		Retry:             cfg.Transport.RetryPolicy(),
		QoS:               byte(cfg.MQTT.QoS),
		BufferSize:        cfg.Engine.LoopBuffer,
		MonitorCommands:   cfg.Engine.MonitorCommands,
		CommandTimeout:    cfg.Engine.CommandTimeout,
		MaxCommandAge:     cfg.Engine.MaxCommandAge,
		EvictionInterval:  cfg.Engine.EvictionInterval,
		ResolvedRetention: cfg.Engine.ResolvedRetention,
		OnCommandResolved: func(cmd command.Command) {
			hub.CommandResolved(cmd)
			if influxClient != nil {
				influxClient.WriteCommandResult(cmd)
			}
		},
		OnCommandObserved: func(env devicebus.CommandEnvelope) {
			log.Debug("command observed on bus",
				"device_id", env.DeviceID,
				"command", env.Command,
				"correlation_id", env.CorrelationID,
			)
		},
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	srvDeps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		Engine:  eng,
		Catalog: cat,
		Metrics: collector.Handler(),
		Version: version,
	}
	if recorder != nil {
		srvDeps.History = recorder
	}
	srv, err := api.New(srvDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	hub = srv.Hub()

	eng.RegisterStatusObserver(hub.ObserveStatus)
	if recorder != nil {
		eng.RegisterStatusObserver(recorder.Observe)
	}
	if influxClient != nil {
		eng.RegisterStatusObserver(influxClient.Observe)
	}

	if err := srv.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Connect the device transport
	dial, sim, err := transport(cfg, cat, log)
	if err != nil {
		return fmt.Errorf("configuring transport: %w", err)
	}
	defer func() {
		log.Info("disconnecting device transport")
		if closeErr := eng.Disconnect(); closeErr != nil {
			log.Error("error disconnecting device transport", "error", closeErr)
		}
	}()

	// Simulated devices subscribe before Link does so no command is missed.
	if sim != nil {
		if simErr := sim.Start(gctx); simErr != nil {
			return fmt.Errorf("starting simulator: %w", simErr)
		}
		defer sim.Stop()
	}

	if connErr := eng.Connect(gctx, dial); connErr != nil {
		if cfg.Transport.Required {
			return fmt.Errorf("connecting device transport: %w", connErr)
		}
		log.Warn("device transport unavailable, running degraded", "kind", cfg.Transport.Kind, "error", connErr)
		g.Go(func() error {
			reconnect(gctx, eng, dial, cat, cfg.Transport.MaxRetryDelay, log)
			return nil
		})
	} else {
		log.Info("device transport connected", "kind", cfg.Transport.Kind)
		requestAllStatus(gctx, eng, cat, log)
	}

	g.Go(func() error {
		pruneStatus(gctx, eng, cat, cfg.Engine.EvictionInterval, log)
		return nil
	})

	if err := healthCheck(ctx, db, influxClient, srv); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal", "address", srv.Addr())

	<-gctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Simulator (memory transport only)
	// 2. Device transport
	// 3. API server
	// 4. Background workers
	// 5. InfluxDB (if enabled)
	// 6. Database (if history enabled)

	log.Info("Gray Logic Link stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// transport returns the dialer for the configured transport kind. The memory
// transport also returns the simulator that plays the catalog's devices.
func transport(cfg *config.Config, cat *catalog.Catalog, log *logging.Logger) (devicebus.Dialer, *simulator.Simulator, error) {
	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		return mqtt.Dialer(cfg.MQTT, log.Component("mqtt")), nil, nil
	case config.TransportNATS:
		return natsbus.Dialer(cfg.NATS, log.Component("nats")), nil, nil
	case config.TransportMemory:
		broker := devicebus.NewMemoryBroker()
		broker.SetLogger(log.Component("memory"))
		sim, err := simulator.New(simulator.Options{
			Broker:      broker,
			Devices:     simulator.FromCatalog(cat),
			Logger:      log.Component("simulator"),
			Acknowledge: cfg.Simulator.Acknowledge,
			Delay:       cfg.Simulator.Delay,
			DropRate:    cfg.Simulator.DropRate,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating simulator: %w", err)
		}
		dial := func(context.Context) (devicebus.Broker, error) { return broker, nil }
		return dial, sim, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// reconnect keeps dialling a transport that failed at startup until it
// connects or ctx ends.
func reconnect(ctx context.Context, eng *engine.Engine, dial devicebus.Dialer, cat *catalog.Catalog, interval time.Duration, log *logging.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := eng.Connect(ctx, dial); err != nil {
			log.Warn("device transport still unavailable", "error", err)
			continue
		}
		log.Info("device transport connected after degraded start")
		requestAllStatus(ctx, eng, cat, log)
		return
	}
}

// requestAllStatus asks every catalogued device to push its state so the
// cache fills without waiting for the next unsolicited update.
func requestAllStatus(ctx context.Context, eng *engine.Engine, cat *catalog.Catalog, log *logging.Logger) {
	for _, id := range cat.IDs() {
		if _, _, err := eng.RequestStatus(ctx, id); err != nil {
			log.Warn("initial status request failed", "device_id", id, "error", err)
		}
	}
}

// pruneStatus drops cached snapshots for devices no longer in the catalog.
func pruneStatus(ctx context.Context, eng *engine.Engine, cat *catalog.Catalog, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := eng.PruneStatus(cat.Has); n > 0 {
				log.Info("pruned status of uncatalogued devices", "count", n)
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (nil if history is disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//   - srv: Running API server
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, srv *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := srv.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// The device transport is not checked: a degraded start is allowed
	// unless transport.required is set, which Connect already enforced.
	return nil
}
