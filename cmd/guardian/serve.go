// ABOUTME: serve and mcp subcommands that run a guardian process
// ABOUTME: serve listens on gRPC and HTTP, mcp speaks MCP over stdio for one agent

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-guardian/internal/config"
	"github.com/2389/coven-guardian/internal/guardian"
	"github.com/2389/coven-guardian/internal/telemetry"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the guardian server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *globalOptions) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s", cfg.Server.HTTPAddr)
	gray.Print(" (/mcp, /api, /health)")
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Watch:     ")
	if cfg.Watch.IsEnabled() {
		cyan.Printf("<workspace>/%s", cfg.Watch.Subdir)
		if cfg.Watch.CreateDirs {
			gray.Print(" (create)")
		}
	} else {
		yellow.Print("disabled")
	}
	fmt.Println()
	if cfg.Telemetry.OTLPEndpoint != "" {
		green.Print("    ▶ ")
		fmt.Printf("OTLP:      %s\n", cfg.Telemetry.OTLPEndpoint)
	}
	fmt.Println()

	logger.Info("starting coven-guardian",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer flushTelemetry(shutdownTelemetry, logger.Error)

	g, err := guardian.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("creating guardian: %w", err)
	}

	return g.Run(ctx)
}

func newMCPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP over stdin/stdout for a single agent",
		Long: `Serve the coordination tools over stdio. Intended to be launched by an
agent runtime as an MCP server command. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := opts.loadConfig()
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
			logger.Info("starting coven-guardian stdio", "config", configPath, "version", version)

			shutdownTelemetry, err := initTelemetry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer flushTelemetry(shutdownTelemetry, logger.Error)

			g, err := guardian.New(cfg, version, logger)
			if err != nil {
				return fmt.Errorf("creating guardian: %w", err)
			}
			return g.RunStdio(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func initTelemetry(ctx context.Context, cfg *config.Config) (telemetry.Shutdown, error) {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	return shutdown, nil
}

func flushTelemetry(shutdown telemetry.Shutdown, logError func(string, ...any)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logError("telemetry shutdown failed", "error", err)
	}
}
