// Tiles Gateway
//
// Bridges BLE "tiles" to an MQTT broker: discovered tiles are connected
// over the radio, their events are published to the broker under the
// active application's virtual tiles, and commands received from the
// broker are written back to the tile.
//
// Usage:
//
//	tilesgw                       run the gateway
//	tilesgw token [flags] <name>  print an API bearer token
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tiles-iot/tiles-gateway/internal/api"
	"github.com/tiles-iot/tiles-gateway/internal/audit"
	"github.com/tiles-iot/tiles-gateway/internal/broker"
	"github.com/tiles-iot/tiles-gateway/internal/device"
	"github.com/tiles-iot/tiles-gateway/internal/gateway"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/config"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/database"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/influxdb"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/logging"
	"github.com/tiles-iot/tiles-gateway/internal/radio"
	"github.com/tiles-iot/tiles-gateway/internal/radio/bluez"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
	"github.com/tiles-iot/tiles-gateway/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting tiles gateway",
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

	log = logging.New(cfg.Logging, version).With("gateway_id", cfg.Gateway.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Catalog
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	catalog := tiles.NewSQLiteCatalog(db.DB, cfg.Tiles.SplitEvents)
	if seedErr := seedActiveApplication(ctx, catalog, cfg.Tiles.ApplicationID); seedErr != nil {
		return fmt.Errorf("seeding active application: %w", seedErr)
	}

	// Telemetry (optional)
	var recorder gateway.Recorder
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorder = &telemetryRecorder{client: influxClient}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Radio
	profile, err := radio.NewProfile(cfg.BLE.ServiceUUID, cfg.BLE.ReceiveCharacteristic, cfg.BLE.SendCharacteristic)
	if err != nil {
		return fmt.Errorf("tile profile: %w", err)
	}
	driver, err := bluez.New(cfg.BLE.Adapter)
	if err != nil {
		return fmt.Errorf("opening bluetooth adapter: %w", err)
	}
	driver.SetLogger(log.Component("bluez"))
	log.Info("bluetooth adapter ready", "adapter", driver.Adapter(), "name_prefix", cfg.BLE.NamePrefix)

	// WebSocket hub doubles as the coordinator's notifier.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(hubCtx)

	// Broker bridge and coordinator reference each other through callbacks;
	// the bridge does not dial until Connect, after the coordinator exists.
	var coord *gateway.Coordinator
	bridge := broker.New(broker.Options{
		Base:           cfg.MQTT,
		Catalog:        catalog,
		ConnectTimeout: cfg.MQTT.ConnectTimeoutDuration(),
		Logger:         log.Component("broker"),
		OnConnectivity: func(ev broker.ConnectivityEvent) { coord.HandleConnectivity(ev) },
		OnCommand:      func(tileID string, cmd tiles.CommandObject) { coord.HandleCommand(tileID, cmd) },
	})
	defer func() {
		log.Info("closing broker bridge")
		if closeErr := bridge.Close(); closeErr != nil {
			log.Error("error closing broker bridge", "error", closeErr)
		}
	}()

	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	coord = gateway.New(gateway.Options{
		Transport:      driver,
		Registry:       registry,
		Catalog:        catalog,
		Broker:         bridge,
		Binder:         catalog,
		Notifier:       hub,
		Recorder:       recorder,
		Logger:         log.Component("gateway"),
		Profile:        profile,
		NamePrefix:     cfg.BLE.NamePrefix,
		AutoConnect:    cfg.BLE.AutoConnect,
		ScanInterval:   cfg.BLE.ScanIntervalDuration(),
		ScanWindow:     cfg.BLE.ScanDurationValue(),
		ConnectTimeout: cfg.BLE.ConnectTimeoutDuration(),
		LocateDuration: cfg.BLE.LocateDurationValue(),
	})
	coord.Start(ctx)
	defer coord.Stop()

	if cfg.MQTT.ConnectOnStart {
		creds := broker.CredentialsFromConfig(cfg.MQTT)
		if connErr := bridge.Connect(creds); connErr != nil {
			return fmt.Errorf("connecting broker bridge: %w", connErr)
		}
		log.Info("broker connection requested",
			"broker", fmt.Sprintf("%s:%d", creds.Host, creds.Port),
			"user", creds.User,
		)
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Gateway: coord,
			Catalog: catalog,
			Broker:  bridge,
			Audit:   audit.NewSQLiteRepository(db.DB),
			Hub:     hub,
			Version: version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
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
		log.Info("HTTP API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, coordinator (disconnects tiles),
	// broker, hub, InfluxDB, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TILES_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TILES_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// activeAppStore is the part of the catalog seeding needs.
type activeAppStore interface {
	ActiveApplication(ctx context.Context) (string, error)
	SetActiveApplication(ctx context.Context, appID string) error
	Application(ctx context.Context, id string) (tiles.Application, error)
	SaveApplication(ctx context.Context, a tiles.Application) error
}

// seedActiveApplication selects appID when the catalog has no active
// application yet, creating the application record if needed. A stored
// selection always wins over configuration.
func seedActiveApplication(ctx context.Context, store activeAppStore, appID string) error {
	if appID == "" {
		return nil
	}
	_, err := store.ActiveApplication(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, tiles.ErrNoActiveApplication) {
		return err
	}

	if _, err := store.Application(ctx, appID); errors.Is(err, tiles.ErrApplicationNotFound) {
		if err := store.SaveApplication(ctx, tiles.Application{ID: appID, Name: appID}); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return store.SetActiveApplication(ctx, appID)
}

// telemetryRecorder adapts the InfluxDB client to gateway.Recorder.
type telemetryRecorder struct {
	client *influxdb.Client
}

func (r *telemetryRecorder) RecordEvent(tileID string, cmd tiles.CommandObject) {
	r.client.WriteTileEvent(tileID, cmd.Name, cmd.Properties)
}

func (r *telemetryRecorder) RecordCommand(tileID string, cmd tiles.CommandObject, delivered bool) {
	r.client.WriteTileCommand(tileID, cmd.Name, cmd.Properties, delivered)
}

func (r *telemetryRecorder) RecordBrokerState(state string, up bool) {
	r.client.WriteBrokerState(state, up)
}
