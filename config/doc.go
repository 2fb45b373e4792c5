// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and AUDITBOX_* environment variables. It
// covers server transports, the execution strategy and its resource limits,
// the analyzer invocation, scratch workspaces and archive extraction bounds.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Strategy: %s\n", cfg.Sandbox.Strategy)
package config
