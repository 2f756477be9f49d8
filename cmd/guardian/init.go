// ABOUTME: init subcommand that writes a guardian config file from prompts
// ABOUTME: Answers are rendered to YAML that config.Load accepts

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-guardian/internal/config"
)

// initAnswers holds what runInit collected.
type initAnswers struct {
	GRPCAddr     string
	HTTPAddr     string
	Driver       string
	DBPath       string
	WatchEnabled bool
	WatchSubdir  string
	CreateDirs   bool
	WaitTimeout  string
	LogLevel     string
	LogFormat    string
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-guardian configuration setup")
	fmt.Fprintln(out, "==================================")
	fmt.Fprintln(out)

	defaultDbPath := filepath.Join(getDataPath(), "guardian.db")

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	a.GRPCAddr = prompt(reader, out, "gRPC address", config.DefaultGRPCAddr)
	a.HTTPAddr = prompt(reader, out, "HTTP address", config.DefaultHTTPAddr)

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	a.Driver = prompt(reader, out, "SQLite driver (sqlite/sqlite3)", config.DefaultDriver)
	a.DBPath = prompt(reader, out, "SQLite database path", defaultDbPath)

	fmt.Fprintln(out, "\n--- Output Watching ---")
	a.WatchEnabled = yes(prompt(reader, out, "Watch agent output directories?", "yes"))
	if a.WatchEnabled {
		a.WatchSubdir = prompt(reader, out, "Output subdirectory inside each workspace", config.DefaultWatchSubdir)
		a.CreateDirs = yes(prompt(reader, out, "Create missing output directories?", "yes"))
	}
	a.WaitTimeout = prompt(reader, out, "Default wait timeout", config.DefaultWaitTimeout.String())

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	rendered := renderConfig(a)
	if _, err := config.Parse([]byte(rendered), false); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(rendered), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  coven-guardian serve")
	fmt.Fprintln(out, "\nTo serve a single agent over stdio:")
	fmt.Fprintln(out, "  coven-guardian mcp")

	return nil
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# coven-guardian configuration\n")
	cfg.WriteString("# Generated by coven-guardian init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.GRPCAddr)
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", a.Driver)
	fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	cfg.WriteString("\n")

	cfg.WriteString("outputs:\n")
	fmt.Fprintf(&cfg, "  default_wait_timeout: %q\n", a.WaitTimeout)
	cfg.WriteString("\n")

	cfg.WriteString("watch:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.WatchEnabled)
	if a.WatchEnabled {
		fmt.Fprintf(&cfg, "  subdir: %q\n", a.WatchSubdir)
		fmt.Fprintf(&cfg, "  create_dirs: %t\n", a.CreateDirs)
	}
	cfg.WriteString("\n")

	cfg.WriteString("retention:\n")
	cfg.WriteString("  message_max_age: \"168h\"\n")
	cfg.WriteString("  sweep_interval: \"1h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)

	return cfg.String()
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}
