// Package main is the entry point for the auditbox server.
//
// The server runs a static analyzer against uploaded smart-contract sources
// inside a locked-down container, or as a local process when no container
// runtime is reachable and the configuration allows it. Analyses are exposed
// as MCP tools over stdio or HTTP and as a REST API on server.rest_port.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
