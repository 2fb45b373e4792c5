// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the analysis engine as two MCP tools built on
// the mark3labs/mcp-go library: analyze_source takes a single source file and
// analyze_archive takes a base64-encoded archive. Both return the JSON report
// as text content; rejected requests come back as IsError results carrying a
// failed report.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, analyzer)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
