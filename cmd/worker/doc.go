// Package main is the entry point for the jobbox queue worker.
//
// Each worker process pops job descriptors from the shared queue, executes them
// in the sandbox and persists the terminal state. Any number of workers can run
// against one queue; worker.concurrency adds consumer loops within one process.
package main
