// Sonoff Bridge - LAN bridge for Sonoff BasicR3 relays
//
// This is the main entry point for the bridge. It discovers BasicR3 devices
// advertising _ewelink._tcp over mDNS, publishes each one once under a
// stable accessory UUID, polls its state, and exposes on/off control over
// MQTT and a small REST API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/sonoff-bridge/migrations"

	"github.com/nerrad567/sonoff-bridge/internal/accessory"
	"github.com/nerrad567/sonoff-bridge/internal/api"
	"github.com/nerrad567/sonoff-bridge/internal/bridges/sonoff"
	"github.com/nerrad567/sonoff-bridge/internal/device"
	"github.com/nerrad567/sonoff-bridge/internal/discovery"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/config"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/database"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/mqtt"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
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
	log.Info("starting Sonoff bridge",
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

	db, err := database.Open(database.ConfigFrom(cfg.Database))
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Restore previously published identities before discovery starts so
	// a reappearing device is updated rather than registered again.
	registry := accessory.NewRegistry(accessory.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("accessory"))
	restored, err := registry.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring accessories: %w", err)
	}
	log.Info("accessory registry initialised", "accessories", len(restored))

	var observers []device.StateObserver

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, influxObserver{client: influxClient})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the MQTT face of the bridge
	if mqttClient != nil {
		bridge, bridgeErr := startBridge(ctx, cfg, mqttClient, registry, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
		registry.AddListener(bridge)
		observers = append(observers, bridge)
	}

	// Start discovery
	coordinator, err := discovery.NewCoordinator(discovery.CoordinatorOptions{
		Browser: discovery.NewZeroconfBrowser(discovery.BrowserOptions{
			ServiceType:    cfg.Sonoff.ServiceType,
			Domain:         cfg.Sonoff.Domain,
			RescanInterval: cfg.GetRescanInterval(),
			Logger:         log.Component("mdns"),
		}),
		Reconciler:          discovery.NewReconciler(restored),
		Registry:            registry,
		Factory:             controllerFactory(cfg, observers, log.Component("device")),
		TeardownOnDisappear: cfg.Sonoff.TeardownOnDisappear,
		Logger:              log.Component("discovery"),
	})
	if err != nil {
		return fmt.Errorf("creating discovery coordinator: %w", err)
	}
	if startErr := coordinator.Start(ctx); startErr != nil {
		return fmt.Errorf("starting discovery: %w", startErr)
	}
	defer func() {
		log.Info("stopping discovery and device controllers")
		coordinator.Stop()
	}()
	log.Info("discovery started",
		"service_type", cfg.Sonoff.ServiceType,
		"refresh_interval", cfg.GetRefreshInterval(),
	)

	// Start REST API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			Logger:      log.Component("api"),
			Registry:    registry,
			Controllers: coordinator,
			DB:          db,
			Version:     version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("REST API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, discovery and controllers, MQTT bridge, InfluxDB, MQTT, database.

	log.Info("Sonoff bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SONOFFBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SONOFFBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// startBridge creates and starts the MQTT bridge.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - mqttClient: Connected MQTT client
//   - registry: Accessory registry the bridge commands through
//   - log: Logger instance
//
// Returns:
//   - *sonoff.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, registry *accessory.Registry, log *logging.Logger) (*sonoff.Bridge, error) {
	bridge, err := sonoff.NewBridge(sonoff.BridgeOptions{
		BridgeID:   cfg.Bridge.ID,
		Version:    version,
		QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0..2 by config
		MQTTClient: mqttClient,
		Registry:   registry,
		Logger:     log.Component("bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("MQTT bridge started", "bridge_id", cfg.Bridge.ID)

	return bridge, nil
}

// controllerFactory builds one device controller per discovered service,
// configured from the sonoff section.
func controllerFactory(cfg *config.Config, observers []device.StateObserver, log *logging.Logger) discovery.ControllerFactory {
	return func(rec accessory.Accessory, svc discovery.Service) (discovery.DeviceController, error) {
		host := svc.Address()
		ctrl, err := device.NewController(device.Options{
			AccessoryID:      rec.UUID,
			DeviceID:         rec.LogicalID(),
			Name:             rec.DisplayName,
			Host:             host,
			Port:             svc.Port,
			Client:           device.NewHTTPClient(host, svc.Port, cfg.GetRequestTimeout()),
			Interval:         cfg.GetRefreshInterval(),
			PollOnStart:      cfg.Sonoff.PollOnStart,
			UnreachableAfter: cfg.GetUnreachableAfter(),
			Logger:           log,
			Observers:        observers,
		})
		if err != nil {
			return nil, err
		}
		return ctrl, nil
	}
}

// influxObserver writes every observed poll to InfluxDB.
type influxObserver struct {
	client *influxdb.Client
}

// ObserveState implements device.StateObserver.
func (o influxObserver) ObserveState(accessoryID string, state device.State, reachable bool) {
	o.client.WriteSwitchState(influxdb.SwitchSample{
		AccessoryID:    accessoryID,
		DeviceID:       state.RawDeviceID,
		On:             state.IsOn(),
		Reachable:      reachable,
		SignalStrength: state.SignalStrength,
	})
}
