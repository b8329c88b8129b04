package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/job"
)

// Tool names
const (
	ToolSubmitCode   = "submit_code"
	ToolGetJobStatus = "get_job_status"
	ToolGetJobResult = "get_job_result"
)

// APIKeyHeader carries the shared secret on the HTTP transport
const APIKeyHeader = "X-API-Key"

// apiKeyArgument carries the shared secret when the transport has no headers
const apiKeyArgument = "api_key"

type apiKeyContextKey struct{}

// withAPIKeyHeader copies the API key header of an HTTP tool call into ctx
func withAPIKeyHeader(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, r.Header.Get(APIKeyHeader))
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	service    *job.Service
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
	serving    atomic.Bool
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, service *job.Service) (*MCPServer, error) {
	s := &MCPServer{
		config:  cfg,
		logger:  logger,
		service: service,
	}

	logger.Info("configuration loaded",
		zap.String("mcp.transport", s.config.MCP.Transport),
		zap.Int("mcp.http_port", s.config.MCP.HTTPPort),
		zap.String("sandbox.mode", s.config.Sandbox.Mode),
		zap.Strings("sandbox.allowed_languages", s.config.Sandbox.AllowedLanguages),
		zap.Int("sandbox.max_timeout_sec", s.config.Sandbox.MaxTimeoutSec),
	)

	s.mcpServer = server.NewMCPServer("jobbox", "1.0.0")
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer,
		server.WithHTTPContextFunc(withAPIKeyHeader))

	s.registerSubmitCodeTool()
	s.registerJobTools()

	return s, nil
}

var apiKeySchema = map[string]any{
	"type":        "string",
	"description": "Shared API key, when the server requires one and the transport sends no X-API-Key header",
}

// registerSubmitCodeTool registers the submit_code tool
func (s *MCPServer) registerSubmitCodeTool() {
	tool := mcp.Tool{
		Name:        ToolSubmitCode,
		Description: "Submit untrusted code for sandboxed execution and return its job id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Runtime language",
					"enum":        s.config.Sandbox.AllowedLanguages,
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Wall-clock limit in seconds",
					"minimum":     s.config.Sandbox.MinTimeoutSec,
					"maximum":     s.config.Sandbox.MaxTimeoutSec,
				},
				apiKeyArgument: apiKeySchema,
			},
			Required: []string{"code", "language"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleSubmitCode)
}

// registerJobTools registers the status and result readers
func (s *MCPServer) registerJobTools() {
	jobIDSchema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"job_id": map[string]any{
				"type":        "string",
				"description": "Job id returned by submit_code",
			},
			apiKeyArgument: apiKeySchema,
		},
		Required: []string{"job_id"},
	}

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolGetJobStatus,
		Description: "Get the status and timestamps of a job",
		InputSchema: jobIDSchema,
	}, s.handleGetJobStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolGetJobResult,
		Description: "Get the output of a finished job; unfinished jobs report their status only",
		InputSchema: jobIDSchema,
	}, s.handleGetJobResult)
}

// authorize checks the api_key argument, falling back to the HTTP header
func (s *MCPServer) authorize(ctx context.Context, request mcp.CallToolRequest) error {
	key := request.GetString(apiKeyArgument, "")
	if key == "" {
		key, _ = ctx.Value(apiKeyContextKey{}).(string)
	}
	return s.service.Authorize(key)
}

// handleSubmitCode handles the submit_code tool
func (s *MCPServer) handleSubmitCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.authorize(ctx, request); err != nil {
		return s.errorResult(err), nil
	}

	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	language, err := request.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := job.SubmitRequest{Language: language, Code: code}
	if raw, ok := request.GetArguments()["timeout"]; ok {
		timeout, ok := raw.(float64)
		if !ok || timeout != float64(int(timeout)) {
			return mcp.NewToolResultError("timeout must be an integer number of seconds"), nil
		}
		t := int(timeout)
		req.Timeout = &t
	}

	jobID, err := s.service.Submit(ctx, req)
	if err != nil {
		return s.errorResult(err), nil
	}

	s.logger.Info("code submitted over MCP", zap.String("job_id", jobID), zap.String("language", language))
	return jsonResult(map[string]string{"job_id": jobID})
}

// handleGetJobStatus handles the get_job_status tool
func (s *MCPServer) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.authorize(ctx, request); err != nil {
		return s.errorResult(err), nil
	}

	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	view, err := s.service.Status(ctx, jobID)
	if err != nil {
		return s.errorResult(err), nil
	}
	return jsonResult(view)
}

// handleGetJobResult handles the get_job_result tool
func (s *MCPServer) handleGetJobResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.authorize(ctx, request); err != nil {
		return s.errorResult(err), nil
	}

	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	view, err := s.service.Result(ctx, jobID)
	if err != nil {
		return s.errorResult(err), nil
	}
	return jsonResult(view)
}

// errorResult turns a service error into a tool error the client can read
func (s *MCPServer) errorResult(err error) *mcp.CallToolResult {
	var verr *job.ValidationError
	switch {
	case errors.As(err, &verr):
		return mcp.NewToolResultError(verr.Message)
	case errors.Is(err, job.ErrUnauthorized):
		return mcp.NewToolResultError("Invalid API key")
	case errors.Is(err, job.ErrNotFound):
		return mcp.NewToolResultError("Job not found")
	default:
		s.logger.Error("MCP tool call failed", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Job store unavailable: %v", err))
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.MCP.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.serving.Store(true)
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it is running
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if !s.serving.Load() {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
