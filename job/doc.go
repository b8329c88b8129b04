// Package job implements the job model and its lifecycle.
//
// A Descriptor is the immutable queue payload. A Record is the parsed view of
// the flat string hash kept in the state store. Every job moves
// queued -> running -> done|failed and never revisits a state.
//
// The Processor maps a descriptor onto a language runner and returns the
// result as string fields. Lifecycle owns the state transitions and contains
// processor failures, panics included, inside the job's own record. Service is
// the submission boundary shared by the HTTP API and the MCP tools.
package job
