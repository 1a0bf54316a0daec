// Command devicesim plays the devices of a Link catalog on a real broker.
//
// It reads the same configuration file as graylink (GRAYLINK_CONFIG), connects
// to the MQTT or NATS broker named there under its own client identity, and
// answers commands and status requests for every catalogued device.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-link/internal/catalog"
	"github.com/nerrad567/gray-logic-link/internal/devicebus"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/natsbus"
	"github.com/nerrad567/gray-logic-link/internal/simulator"
)

var version = "dev"

const (
	defaultConfigPath = "configs/config.yaml"

	// clientSuffix keeps the simulator's broker identity apart from Link's.
	clientSuffix = "-devicesim"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version).Component("devicesim")

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("loading device catalog: %w", err)
	}

	dial, err := dialer(cfg, log)
	if err != nil {
		return err
	}
	broker, err := devicebus.Connect(ctx, dial, cfg.Transport.RetryPolicy(), log)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer func() {
		if closeErr := broker.Close(); closeErr != nil {
			log.Error("error closing broker", "error", closeErr)
		}
	}()

	sim, err := simulator.New(simulator.Options{
		Broker:      broker,
		Devices:     simulator.FromCatalog(cat),
		Logger:      log,
		QoS:         byte(cfg.MQTT.QoS),
		Acknowledge: cfg.Simulator.Acknowledge,
		Delay:       cfg.Simulator.Delay,
		DropRate:    cfg.Simulator.DropRate,
	})
	if err != nil {
		return fmt.Errorf("creating simulator: %w", err)
	}
	if err := sim.Start(ctx); err != nil {
		return fmt.Errorf("starting simulator: %w", err)
	}
	defer sim.Stop()

	log.Info("simulating devices",
		"transport", cfg.Transport.Kind,
		"devices", cat.Len(),
		"acknowledge", cfg.Simulator.Acknowledge,
		"delay", cfg.Simulator.Delay,
		"drop_rate", cfg.Simulator.DropRate,
	)

	<-ctx.Done()

	st := sim.Stats()
	log.Info("devicesim stopped",
		"commands", st.Commands,
		"dropped", st.Dropped,
		"failed", st.Failed,
		"status_responses", st.StatusResponses,
	)
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

// dialer builds a broker dialer under a client identity distinct from Link's.
func dialer(cfg *config.Config, log *logging.Logger) (devicebus.Dialer, error) {
	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		mqttCfg := cfg.MQTT
		mqttCfg.Broker.ClientID += clientSuffix
		return mqtt.Dialer(mqttCfg, log), nil
	case config.TransportNATS:
		natsCfg := cfg.NATS
		natsCfg.Name += clientSuffix
		return natsbus.Dialer(natsCfg, log), nil
	default:
		return nil, fmt.Errorf("devicesim needs a networked transport, got %q", cfg.Transport.Kind)
	}
}
