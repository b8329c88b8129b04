// Package main is the entry point for the jobbox API server.
//
// The server accepts code submissions over HTTP (and optionally MCP), writes
// queued job records and hands jobs to the work queue. In sync mode it executes
// them inline; with worker.embedded it also runs a queue consumer in-process.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
//
// Flags:
//
//	--print-config   print the effective configuration as YAML and exit
package main
