// Package config handles loading and validating telemetry pipeline configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Both binaries (publisher and ingestor) read the same file. Each only uses
// the sections it needs, but the shared telemetry.base_prefix keeps the
// publisher's topic prefix and the ingestor's wildcard subscription in step.
//
// Security Considerations:
//   - Broker credentials and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Telemetry.PublishPrefix())
package config
