// Telemetry Publisher - simulated building sensors
//
// Runs the configured device simulators and publishes one reading per device
// per round to the MQTT bus under "<base_prefix>/sensors/zone<id>/<field>".
// The initial broker connection is retried a bounded number of times; if it
// never succeeds the process exits with status 1 without publishing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-telemetry/internal/publisher"
	"github.com/nerrad567/gray-logic-telemetry/internal/simulator"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

const (
	serviceName       = "publisher"
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

// flags holds parsed command-line options.
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

// resolveConfigPath picks the flag value, then the environment, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
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

	if err := loadDotEnv(); err != nil {
		return err
	}

	configPath := resolveConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, serviceName, version)
	log.Info("starting telemetry publisher",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	devices, err := simulator.Fleet(cfg.Publisher.Devices)
	if err != nil {
		return fmt.Errorf("building device fleet: %w", err)
	}

	busLog := log.With("component", "mqtt")
	bus := mqtt.New(cfg.MQTT, mqtt.Options{
		Role:         serviceName,
		StatusPrefix: cfg.Telemetry.BasePrefix,
		Policy:       mqtt.PolicyFromConfig(cfg.Publisher.Connect),
		Logger:       busLog,
	})
	bus.SetOnStateChange(func(from, to mqtt.State, event mqtt.Event) {
		busLog.Info("bus state changed", "from", from, "to", to, "event", event)
	})

	if err := bus.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown requested before connecting")
			return nil
		}
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", bus.ClientID(),
	)

	pub := publisher.New(bus, publisher.Options{
		Prefix:    cfg.Telemetry.PublishPrefix(),
		QoS:       byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0..2
		SendDelay: cfg.Publisher.GetSendDelay(),
		Logger:    log.With("component", "publisher"),
	})
	for _, d := range devices {
		pub.Register(d)
		log.Info("device registered", "device_id", d.ID(), "zone_id", d.ZoneID(), "field", d.Spec().Field)
	}

	err = pub.Run(ctx, cfg.Publisher.GetInterval())
	log.Info("publisher stopped")
	return err
}
