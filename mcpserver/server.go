// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes
// the execute_code tool as the external interface to the execution engine.
// It uses the mark3labs/mcp-go library to handle the protocol details.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/execbox/config"
	"github.com/isdmx/execbox/engine"
)

// CodeEngine is the engine contract the server depends on
type CodeEngine interface {
	Execute(ctx context.Context, source string) engine.Result
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	engine    CodeEngine
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, eng CodeEngine) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		engine: eng,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("engine.max_slots", s.config.Engine.MaxSlots),
		zap.Int("engine.timeout_sec", s.config.Engine.TimeoutSec),
		zap.Int("engine.memory_mb", s.config.Engine.MemoryMB),
		zap.Int("engine.cache_capacity", s.config.Engine.CacheCapacity),
		zap.String("engine.scratch_dir", s.config.Engine.ScratchDir),
		zap.String("container.runtime", s.config.Container.Runtime),
		zap.String("container.image", s.config.Container.Image),
		zap.String("microvm.kernel_image", s.config.MicroVM.KernelImage),
		zap.String("microvm.rootfs_image", s.config.MicroVM.RootFSImage),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("execbox", "An isolated code execution server")

	// Register the execute_code tool
	s.registerExecuteCodeTool()

	return s, nil
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute an untrusted JavaScript snippet in the strongest available isolation environment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	s.logger.Info("code execution requested", zap.Int("source_len", len(code)))

	result := s.engine.Execute(ctx, code)

	s.logger.Info("code execution completed",
		zap.String("execution_id", result.ExecutionID),
		zap.String("mode", string(result.Mode)),
		zap.Bool("success", result.Success),
		zap.Bool("from_cache", result.FromCache))

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
		IsError: !result.Success,
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
