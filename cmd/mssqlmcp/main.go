// mssqlmcp exposes a SQL Server instance over the Model Context Protocol on
// stdio. Read-only catalog tools are always registered; query and procedure
// execution tools must be enabled explicitly in configuration.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ruslano69/mssql-mcp/pkg/config"
	"github.com/ruslano69/mssql-mcp/pkg/mssql"
	"github.com/ruslano69/mssql-mcp/pkg/session"
)

const serverVersion = "0.1.0"

func main() {
	configPath := flag.String("config", os.Getenv("MSSQL_MCP_CONFIG"), "path to YAML configuration file")
	flag.Parse()

	// .env is a convenience for local runs; a missing file is fine.
	_ = godotenv.Load()

	log := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	svc, err := mssql.NewService(cfg.ConnectionString, mssql.Options{
		DefaultTimeout: cfg.DefaultCommandTimeout(),
		ConnectTimeout: cfg.ConnectionTimeout(),
		Logger:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to SQL Server")
	}
	defer svc.Close()

	mgr := session.NewManager(svc, session.Options{
		MaxConcurrent:  cfg.MaxConcurrentSessions,
		Retention:      cfg.SessionRetention(),
		DefaultTimeout: cfg.DefaultCommandTimeout(),
		MaxResultRows:  int64(cfg.SessionMaxResultRows),
		Logger:         log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go mgr.RunCleanup(ctx, cfg.SessionCleanupInterval())

	srv := &server{cfg: cfg, svc: svc, mgr: mgr, log: log}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "mssql-mcp",
		Version: serverVersion,
	}, nil)
	srv.register(mcpServer)

	mode := "database"
	if cfg.ServerMode() {
		mode = "server"
	}
	log.Info().Str("mode", mode).Msg("starting MCP server on stdio")

	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// newLogger writes to stderr; stdout carries the MCP transport.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
