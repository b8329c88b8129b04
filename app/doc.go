// Package app holds the fx wiring shared by cmd/server and cmd/worker.
package app
