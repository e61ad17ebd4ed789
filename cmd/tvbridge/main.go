// TVBridge Core - Android TV fleet bridge
//
// This is the main entry point for the TVBridge Core application.
// TVBridge manages a fleet of Android TV devices over their network
// debug ports: it keeps a session per device, polls each one for power,
// audio and foreground-app state, and bridges commands and state over
// MQTT and a small REST API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/tvbridge/core/migrations"

	"github.com/tvbridge/core/internal/adb"
	"github.com/tvbridge/core/internal/api"
	"github.com/tvbridge/core/internal/bridges/androidtv"
	"github.com/tvbridge/core/internal/device"
	"github.com/tvbridge/core/internal/discovery"
	"github.com/tvbridge/core/internal/infrastructure/config"
	"github.com/tvbridge/core/internal/infrastructure/database"
	"github.com/tvbridge/core/internal/infrastructure/logging"
	"github.com/tvbridge/core/internal/infrastructure/mqtt"
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

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting TVBridge Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	deviceRepo := device.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
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

	// ADB server and protocol client, shared by all device sessions
	adbClient := adb.NewClient(cfg.ADB)
	adbClient.SetLogger(log)
	adbServer := adb.NewServerManager(cfg.ADB)
	adbServer.SetLogger(log)

	// Discovery (optional)
	var announcements <-chan discovery.Announcement
	if cfg.Discovery.Enabled {
		browser := discovery.NewBrowser(cfg.Discovery)
		browser.SetLogger(log)
		if startErr := browser.Start(ctx); startErr != nil {
			// Discovery is best-effort; configured devices still work
			log.Warn("discovery failed to start", "error", startErr)
		} else {
			announcements = browser.Announcements()
			defer func() {
				log.Info("stopping discovery")
				browser.Stop()
			}()
		}
	} else {
		log.Info("discovery disabled")
	}

	// Android TV bridge
	bridge, err := androidtv.New(androidtv.Options{
		Devices:        cfg.Devices,
		Poller:         cfg.Poller,
		Backoff:        cfg.Backoff,
		ConnectTimeout: cfg.ADB.ConnectTimeout,
		AutoRegister:   cfg.Discovery.AutoRegister,
		Repository:     deviceRepo,
		Client:         adbClient,
		Server:         adbServer,
		Publisher:      mqttClient,
		Announcements:  announcements,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating androidtv bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting androidtv bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping androidtv bridge")
		bridge.Stop()
	}()

	// REST API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Registry: bridge.Registry(),
			Repo:     deviceRepo,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify infrastructure connections
	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Android TV bridge (closes device sessions, releases adb server)
	// 3. Discovery
	// 4. MQTT
	// 5. Database

	log.Info("TVBridge Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TVBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TVBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
