package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/cortexproxy/cortex-proxy/internal/app"
	"github.com/cortexproxy/cortex-proxy/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "cortex-proxy",
		Usage: "Anthropic-to-Snowflake-Cortex protocol translating proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the proxy server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "proxy--log-level",
				Usage: "log level (debug|info|quiet)",
				Value: string(app.DefaultProxyLogLevel),
			},
			&cli.StringFlag{
				Name:  "proxy--log-format",
				Usage: "log format (text|json)",
				Value: app.DefaultProxyLogFormat,
			},
			&cli.IntFlag{
				Name:  "proxy--port",
				Usage: "listener port",
				Value: app.DefaultProxyPort,
			},
			&cli.StringFlag{
				Name:  "snowflake--base-url",
				Usage: "Snowflake Cortex inference API base URL",
			},
			&cli.StringFlag{
				Name:  "snowflake--pat",
				Usage: "Snowflake programmatic access token",
			},
			&cli.StringFlag{
				Name:  "snowflake--default-model",
				Usage: "model used when a request names no model",
				Value: app.DefaultSnowflakeDefaultModel,
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := observability.Instrument(cfg.Proxy.LogLevel.Slog(), cfg.Proxy.LogFormat); err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
