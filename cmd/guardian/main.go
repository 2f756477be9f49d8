// ABOUTME: Entry point for coven-guardian, the agent coordination server
// ABOUTME: Wires cobra subcommands for serving, setup and talking to a running guardian

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/coven-guardian/internal/config"
	"github.com/2389/coven-guardian/internal/rpc"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                           _ _
  __ _ _   _  __ _ _ __ __| (_) __ _ _ __
 / _' | | | |/ _' | '__/ _' | |/ _' | '_ \
| (_| | |_| | (_| | | | (_| | | (_| | | | |
 \__, |\__,_|\__,_|_|  \__,_|_|\__,_|_| |_|
 |___/
`

// globalOptions carries persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dial       func(addr string) (*rpc.Client, error)
}

// resolveConfigPath returns the --config flag if set, else getConfigPath.
func (o *globalOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return getConfigPath()
}

func (o *globalOptions) loadConfig() (*config.Config, string, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// getConfigPath returns the path to the guardian config file.
// Priority: GUARDIAN_CONFIG env var > XDG_CONFIG_HOME/coven/guardian.yaml > ~/.config/coven/guardian.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GUARDIAN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "guardian.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "guardian.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func newRootCmd(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "coven-guardian",
		Short: "Coordination server for cooperating agents",
		Long: `coven-guardian tracks which agents are present, carries messages between them
and tells waiting agents when another agent has produced output.

Agents talk to it over MCP (stdio or streamable HTTP); operators use gRPC
through the client subcommands below.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $GUARDIAN_CONFIG or $XDG_CONFIG_HOME/coven/guardian.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newInitCmd(),
		newHealthCmd(opts),
		newAgentsCmd(opts),
		newRegisterCmd(opts),
		newStatusCmd(opts),
		newSendCmd(opts),
		newInboxCmd(opts),
		newAnnounceCmd(opts),
		newWaitCmd(opts),
		newOutputsCmd(opts),
		newPurgeCmd(opts),
	)
	return root
}

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(&globalOptions{dial: rpc.Dial}).ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
