// Package config handles loading and validating stomplink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with STOMPLINK_* environment variables
//   - Validation of required fields and route definitions
//   - Default value handling
//   - Reading the rotating STOMP credentials file
//
// Security Considerations:
//   - Passcodes and tokens should be set via environment variables or the
//     credentials file, not committed in config.yaml
//   - The config and credentials files should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.STOMP.BrokerURL, cfg.GetReconnectDelay())
package config
