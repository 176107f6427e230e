// Telemetry Ingestor - bus to relational store
//
// Subscribes to "<base_prefix>/sensors/#", decodes each reading and stores
// it with its device in SQLite, one transaction per message. The broker
// connection is retried indefinitely with capped exponential backoff, so the
// ingestor can be started before the broker. Optional sinks mirror stored
// readings to InfluxDB and a Redis latest-value cache; an optional HTTP
// listener serves health and ingest counters.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	_ "github.com/nerrad567/gray-logic-telemetry/migrations"

	"github.com/nerrad567/gray-logic-telemetry/internal/api"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/cache"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-telemetry/internal/ingest"
	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	serviceName       = "ingestor"
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "TELEMETRY_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath  string
	showVersion bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	set := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	set.StringVarP(&f.configPath, "config", "c", "", "path to config file (default $"+configEnvVar+" or "+defaultConfigPath+")")
	set.BoolVar(&f.showVersion, "version", false, "print version and exit")
	if err := set.Parse(args); err != nil {
		return f, err
	}
	if set.NArg() > 0 {
		return f, fmt.Errorf("unexpected argument: %s", set.Arg(0))
	}
	return f, nil
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("%s %s (%s)\n", serviceName, version, commit)
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath := resolveConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, serviceName, version)
	log.Info("starting telemetry ingestor",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	db, err := database.Open(ctx, database.Config{
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

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	repo := telemetry.NewRepository(db)
	seeded, err := repo.SeedZones(ctx, zonesFromConfig(cfg.Zones))
	if err != nil {
		return fmt.Errorf("seeding zones: %w", err)
	}
	if seeded > 0 {
		log.Info("zones seeded", "count", seeded)
	}

	checks := map[string]api.HealthChecker{"database": db}
	var sinks []ingest.Sink

	influx := connectInflux(ctx, cfg.InfluxDB, log)
	if influx != nil {
		defer influx.Close() //nolint:errcheck // Close flushes and never fails
		sinks = append(sinks, influx)
		checks["influxdb"] = influx
	}

	latest := connectCache(ctx, cfg.Cache, log)
	var latestReader api.LatestReader
	if latest != nil {
		defer latest.Close() //nolint:errcheck // Shutdown path
		sinks = append(sinks, latest)
		checks["cache"] = latest
		latestReader = latest
	}

	busLog := log.With("component", "mqtt")
	bus := mqtt.New(cfg.MQTT, mqtt.Options{
		Role:         serviceName,
		StatusPrefix: cfg.Telemetry.BasePrefix,
		Policy:       mqtt.PolicyFromConfig(cfg.Ingest.Connect),
		Logger:       busLog,
	})
	bus.SetOnStateChange(func(from, to mqtt.State, event mqtt.Event) {
		busLog.Info("bus state changed", "from", from, "to", to, "event", event)
	})
	checks["mqtt"] = bus

	worker := ingest.NewWorker(ingest.Deps{
		Bus:    bus,
		Store:  repo,
		Sinks:  sinks,
		Logger: log.With("component", "ingest"),
		Topic:  telemetry.SubscriptionTopic(cfg.Telemetry.BasePrefix),
		QoS:    byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0..2
		Policy: ingest.Policy{
			Zone:      cfg.Ingest.ZonePolicy,
			Timestamp: cfg.Ingest.TimestampPolicy,
		},
		SubscribeRetry: mqtt.ExponentialRetry{
			Base: time.Duration(cfg.Ingest.Connect.InitialDelay) * time.Second,
			Max:  time.Duration(cfg.Ingest.Connect.MaxDelay) * time.Second,
		},
	})

	if cfg.Ingest.HTTP.Enabled {
		srv, err := api.New(api.Deps{
			Config:  cfg.Ingest.HTTP,
			Logger:  log.With("component", "api"),
			Stats:   worker,
			Queries: repo,
			Latest:  latestReader,
			Checks:  checks,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating HTTP server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting HTTP server: %w", err)
		}
		defer srv.Close() //nolint:errcheck // Shutdown path
	}

	if err := worker.Run(ctx); err != nil {
		return fmt.Errorf("ingest worker: %w", err)
	}
	log.Info("ingestor stopped", "stats", worker.Stats())
	return nil
}

func zonesFromConfig(zc []config.ZoneConfig) []telemetry.Zone {
	zones := make([]telemetry.Zone, 0, len(zc))
	for _, z := range zc {
		zones = append(zones, telemetry.Zone{
			ID:            z.ID,
			Name:          z.Name,
			Description:   z.Description,
			SquareFootage: z.SquareFootage,
		})
	}
	return zones
}

// connectInflux returns nil when the mirror is disabled or unreachable.
// Ingest never depends on it.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	if !cfg.Enabled {
		log.Info("InfluxDB mirror disabled")
		return nil
	}
	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without mirror", "url", cfg.URL, "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Warn("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client
}

// connectCache returns nil when the cache is disabled or unreachable.
func connectCache(ctx context.Context, cfg config.CacheConfig, log *logging.Logger) *cache.Client {
	if !cfg.Enabled {
		log.Info("latest-reading cache disabled")
		return nil
	}
	client, err := cache.Connect(ctx, cfg)
	if err != nil {
		log.Warn("cache unavailable, continuing without it", "addr", cfg.Addr, "error", err)
		return nil
	}
	log.Info("latest-reading cache connected", "addr", cfg.Addr, "ttl", cfg.GetTTL())
	return client
}
