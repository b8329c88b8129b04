// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package mirrors the HTTP API as MCP tools using the
// mark3labs/mcp-go library:
//
//   - submit_code: validate and enqueue (or run inline in sync mode) a snippet
//   - get_job_status: status and timestamps of a job
//   - get_job_result: output of a finished job
//
// Tool results are JSON text payloads identical to the HTTP responses.
// The server supports both stdio and HTTP transports as configured by the
// mcp section of the application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, service)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
