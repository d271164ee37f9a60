// Package config handles loading and validating modkit configuration.
//
// One file format serves both binaries: the module process reads the
// instance, mqtt, logging, runtime and metrics sections; the development
// host additionally reads devhost.
//
// Loading order is defaults, then the YAML file, then MODKIT_* environment
// variables. Validate reports every problem in one error.
//
// Sensitive values (MQTT password, InfluxDB token) should be supplied via
// environment variables rather than committed config files.
//
// Usage:
//
//	cfg, err := config.Load("configs/modkit.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Instance.ID)
package config
