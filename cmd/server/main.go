// Package main is the entry point for the execbox server.
//
// The execbox server executes untrusted, caller-submitted JavaScript
// snippets in the strongest isolation environment the host provides,
// falling back gracefully from Firecracker microVMs through containers
// to an in-process sandbox. The server supports both stdio and HTTP
// transports.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/execbox/config"
	"github.com/isdmx/execbox/engine"
	"github.com/isdmx/execbox/logger"
	"github.com/isdmx/execbox/mcpserver"
	"github.com/isdmx/execbox/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Process registry shared by the backends and the engine
			sandbox.NewProcessRegistry,

			// Backend selected once from the host's capabilities
			sandbox.New,

			// Execution engine
			engine.New,
			func(e *engine.Engine) mcpserver.CodeEngine { return e },

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(lc fx.Lifecycle, eng *engine.Engine) {
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						eng.Shutdown()
						return nil
					},
				})
			},
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
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
