// Package config loads and validates ATCS core configuration.
//
// Values come from built-in defaults, then a YAML file, then ATCS_*
// environment variables. Secrets (JWT secret, broker and Redis passwords,
// InfluxDB token) should be supplied through the environment and the
// config file kept at 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ttl := cfg.Security.JWT.AccessTTL()
package config
