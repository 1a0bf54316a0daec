// Package config handles loading and validating Gray Logic Link configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLINK_* environment variables
//   - Validation of required fields (all problems reported together)
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.Transport.RetryPolicy()
package config
