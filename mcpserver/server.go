package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
	"github.com/isdmx/auditbox/engine"
	"github.com/isdmx/auditbox/report"
)

// Tool names
const (
	ToolAnalyzeSource  = "analyze_source"
	ToolAnalyzeArchive = "analyze_archive"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	analyzer  engine.Analyzer
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, analyzer engine.Analyzer) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		analyzer: analyzer,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("server.rest_port", s.config.Server.RESTPort),
		zap.String("sandbox.strategy", s.config.Sandbox.Strategy),
		zap.String("sandbox.runtime", s.config.Sandbox.Runtime),
		zap.String("sandbox.image", s.config.Sandbox.Image),
		zap.Int("sandbox.container_timeout_sec", s.config.Sandbox.ContainerTimeoutSec),
		zap.Int("sandbox.local_timeout_sec", s.config.Sandbox.LocalTimeoutSec),
		zap.Int("sandbox.memory_mb", s.config.Sandbox.MemoryMB),
		zap.Int("sandbox.max_concurrent", s.config.Sandbox.MaxConcurrent),
		zap.Bool("sandbox.allow_unsandboxed", s.config.Sandbox.AllowUnsandboxed),
		zap.String("analyzer.binary", s.config.Analyzer.Binary),
	)

	s.mcpServer = server.NewMCPServer("auditbox-analyzer", "Sandboxed static analysis of smart contract sources")

	s.registerAnalyzeSourceTool()
	s.registerAnalyzeArchiveTool()

	return s, nil
}

func (s *MCPServer) registerAnalyzeSourceTool() {
	tool := mcp.Tool{
		Name:        ToolAnalyzeSource,
		Description: "Run the static analyzer on a single Solidity source file in an isolated workspace",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source_code": map[string]any{
					"type":        "string",
					"description": "Contract source code",
				},
				"file_name": map[string]any{
					"type":        "string",
					"description": "Bare file name with a supported extension (default Contract.sol)",
				},
			},
			Required: []string{"source_code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleAnalyzeSource)
}

func (s *MCPServer) registerAnalyzeArchiveTool() {
	tool := mcp.Tool{
		Name:        ToolAnalyzeArchive,
		Description: "Run the static analyzer on every source file in a zip, tar.gz or tar.zst archive",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"archive_base64": map[string]any{
					"type":        "string",
					"description": "Base64-encoded archive bytes",
				},
			},
			Required: []string{"archive_base64"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleAnalyzeArchive)
}

func (s *MCPServer) handleAnalyzeSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source_code")
	if err != nil {
		return nil, fmt.Errorf("source_code parameter is required: %w", err)
	}
	fileName := request.GetString("file_name", "")

	s.logger.Info("source analysis requested",
		zap.String("file_name", fileName),
		zap.Int("source_len", len(source)))

	rep, err := s.analyzer.AnalyzeSource(ctx, fileName, source)
	return s.toolResult(rep, err)
}

func (s *MCPServer) handleAnalyzeArchive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	encoded, err := request.RequireString("archive_base64")
	if err != nil {
		return nil, fmt.Errorf("archive_base64 parameter is required: %w", err)
	}

	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > s.config.MaxUploadBytes() {
		return errorResult(report.Failed(fmt.Sprintf("archive exceeds %d MB upload limit", s.config.Server.MaxUploadMB)))
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode archive_base64: %w", err)
	}

	s.logger.Info("archive analysis requested", zap.Int("archive_len", len(data)))

	rep, err := s.analyzer.AnalyzeArchive(ctx, data)
	return s.toolResult(rep, err)
}

// toolResult renders the report as the tool's text content; request-level
// failures are flagged with IsError and carry the failed report.
func (s *MCPServer) toolResult(rep report.Report, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		s.logger.Warn("analysis request failed",
			zap.Stringer("kind", engine.KindOf(err)),
			zap.Error(err))
		return errorResult(rep)
	}

	text, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(text),
			},
		},
	}, nil
}

func errorResult(rep report.Report) (*mcp.CallToolResult, error) {
	text, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(text),
			},
		},
		IsError: true,
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
