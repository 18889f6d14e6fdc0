// Package config handles loading and validating the IPX800 bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with IPX800_* environment variables and CLI flags
//   - Validation of required fields
//   - Default value handling
//
// Secrets (device password, MQTT password, webhook secret, JWT secret) should
// be supplied through the environment rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", func(c *config.Config) {
//	    c.Device.Host = "192.168.1.50"
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.DeviceAddress())
package config
