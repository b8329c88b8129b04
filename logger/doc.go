// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Both the API server and the worker build their logger
// from the logging section of the configuration.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("worker started")
//	log.Error("job failed", zap.String("job_id", id), zap.Error(err))
package logger
