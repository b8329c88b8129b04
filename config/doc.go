// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files, an optional .env file and environment
// variables. It covers the HTTP API, the optional MCP surface, sandbox limits,
// the job store and work queue backends, the worker loop, logging and the
// per-language interpreter definitions.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Execution mode: %s\n", cfg.Sandbox.Mode)
package config
