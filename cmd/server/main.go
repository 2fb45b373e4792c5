package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
	"github.com/isdmx/auditbox/engine"
	"github.com/isdmx/auditbox/httpserver"
	"github.com/isdmx/auditbox/logger"
	"github.com/isdmx/auditbox/mcpserver"
	"github.com/isdmx/auditbox/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Strategy selection and the gated process runner
			sandbox.NewSelector,
			sandbox.NewRunner,

			// Analysis engine
			func(log *zap.Logger, cfg *config.Config, selector *sandbox.Selector, runner sandbox.ProcessRunner) engine.Analyzer {
				return engine.New(log, cfg, selector, runner)
			},

			// Transports
			mcpserver.New,
			httpserver.New,
		),

		// REST API follows the application lifecycle
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, rest *httpserver.Server) {
				if cfg.Server.RESTPort == 0 {
					return
				}
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						return rest.Start()
					},
					OnStop: func(ctx context.Context) error {
						return rest.Stop(ctx)
					},
				})
			},
		),

		// Start the MCP transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer, shutdowner fx.Shutdowner, log *zap.Logger) {
				serve := server.ServeStdio
				if cfg.Server.Transport == "http" {
					serve = server.ServeHTTP
				}

				go func() {
					if err := serve(); err != nil {
						log.Error("MCP transport stopped", zap.Error(err))
						_ = shutdowner.Shutdown(fx.ExitCode(1))
					}
				}()
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
