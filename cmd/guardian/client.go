// ABOUTME: Client subcommands that call a running guardian over gRPC or HTTP
// ABOUTME: Covers health, presence, messaging and output operations for operators and scripts

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/rpc"
	"github.com/2389/coven-guardian/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

// withClient loads the config, dials the guardian gRPC address and runs fn.
func (o *globalOptions) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *rpc.Client) error) error {
	cfg, _, err := o.loadConfig()
	if err != nil {
		return err
	}
	c, err := o.dial(cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(cmd.Context(), c)
}

func newTable(w io.Writer, headers ...interface{}) table.Table {
	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()

	tbl := table.New(headers...)
	tbl.WithWriter(w)
	tbl.WithHeaderFormatter(headerFmt)
	tbl.WithFirstColumnFormatter(columnFmt)
	tbl.WithPadding(2)
	return tbl
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check guardian health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}

			path := "/health"
			if ready {
				path = "/health/ready"
			}
			url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}

			if ready {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness (store reachable) instead of liveness")
	return cmd
}

func newAgentsCmd(opts *globalOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				agents, err := c.ListAgents(ctx)
				if err != nil {
					return err
				}
				printAgents(cmd.OutOrStdout(), agents, status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show agents with this status")
	return cmd
}

func printAgents(w io.Writer, agents []*store.Agent, status string) {
	tbl := newTable(w, "ID", "STATUS", "WORKSPACE", "CAPABILITIES", "UPDATED")
	rows := 0
	for _, a := range agents {
		if status != "" && a.Status != status {
			continue
		}
		tbl.AddRow(a.ID, a.Status, a.WorkspacePath, strings.Join(a.Capabilities, ","), a.UpdatedAt.Local().Format(timeLayout))
		rows++
	}
	if rows == 0 {
		fmt.Fprintln(w, "No agents registered")
		return
	}
	tbl.Print()
}

func newRegisterCmd(opts *globalOptions) *cobra.Command {
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "register <agent-id> <workspace>",
		Short: "Register an agent and start watching its output directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				reg, err := c.RegisterAgent(ctx, args[0], args[1], capabilities)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Agent '%s' registered\n", reg.AgentID)
				fmt.Fprintf(out, "Workspace: %s\n", reg.WorkspacePath)
				switch {
				case reg.Watching:
					fmt.Fprintf(out, "Watching:  %s\n", reg.WatchDir)
				case reg.WatchDir != "":
					fmt.Fprintf(out, "Watching:  unavailable for %s\n", reg.WatchDir)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&capabilities, "cap", nil, "capability tag (repeatable or comma separated)")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <agent-id> <status> [details...]",
		Short: "Update an agent's status",
		Long:  "Update an agent's status. Recommended values: " + strings.Join(coord.KnownStatuses, ", ") + ".",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			details := strings.Join(args[2:], " ")
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				if err := c.UpdateStatus(ctx, args[0], args[1], details); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Status updated for %s: %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newSendCmd(opts *globalOptions) *cobra.Command {
	var msgType, filePath string
	cmd := &cobra.Command{
		Use:   "send <from> <to> <content>",
		Short: "Send a message to an agent's mailbox",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				id, err := c.SendMessage(ctx, args[0], args[1], msgType, args[2], filePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Message %d sent: %s → %s\n", id, args[0], args[1])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&msgType, "type", "request", "message type")
	cmd.Flags().StringVar(&filePath, "file", "", "file path to attach")
	return cmd
}

func newInboxCmd(opts *globalOptions) *cobra.Command {
	var peek bool
	cmd := &cobra.Command{
		Use:   "inbox <agent-id>",
		Short: "Receive unread messages for an agent",
		Long: `Receive unread messages for an agent. Messages are marked read and will
not be returned again unless --peek is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				msgs, err := c.CheckMessages(ctx, args[0], !peek)
				if err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), msgs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&peek, "peek", false, "leave messages unread")
	return cmd
}

func printMessages(w io.Writer, msgs []*store.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No new messages")
		return
	}
	tbl := newTable(w, "ID", "TYPE", "FROM", "CONTENT", "FILE", "TIME")
	for _, m := range msgs {
		tbl.AddRow(m.ID, m.Type, m.FromAgentID, m.Content, m.FilePath, m.CreatedAt.Local().Format(timeLayout))
	}
	tbl.Print()
}

func newAnnounceCmd(opts *globalOptions) *cobra.Command {
	var meta []string
	cmd := &cobra.Command{
		Use:   "announce <agent-id> <file>",
		Short: "Record an output and notify the other agents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				out, warning, err := c.AnnounceOutput(ctx, args[0], args[1], metadata)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Output %d announced by %s: %s\n", out.ID, out.AgentID, out.FilePath)
				if warning != "" {
					color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", warning)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata entry as key=value (repeatable)")
	return cmd
}

// parseMetadata turns key=value pairs into a metadata map. Values that
// parse as numbers or booleans keep that type.
func parseMetadata(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q: want key=value", p)
		}
		if b, err := strconv.ParseBool(v); err == nil {
			meta[k] = b
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			meta[k] = f
		} else {
			meta[k] = v
		}
	}
	return meta, nil
}

func newWaitCmd(opts *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <waiting-agent> <from-agent>",
		Short: "Block until an agent announces output",
		Long: `Block until <from-agent> announces output. An output announced before the
wait starts counts only if it is the agent's latest one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				out, err := c.WaitForOutput(ctx, args[0], args[1], timeout)
				if errors.Is(err, coord.ErrOutputTimeout) && timeout > 0 {
					return fmt.Errorf("timeout waiting for output from %s", args[1])
				}
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Output available from %s\n", out.AgentID)
				fmt.Fprintf(w, "File: %s\n", out.FilePath)
				fmt.Fprintf(w, "Created: %s\n", out.CreatedAt.Local().Format(timeLayout))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait")
	return cmd
}

func newOutputsCmd(opts *globalOptions) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List recently announced outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				outs, err := c.OutputsSince(ctx, time.Now().Add(-window))
				if err != nil {
					return err
				}
				printOutputs(cmd.OutOrStdout(), outs)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&window, "since", time.Hour, "how far back to look")
	return cmd
}

func printOutputs(w io.Writer, outs []*store.Output) {
	if len(outs) == 0 {
		fmt.Fprintln(w, "No outputs")
		return
	}
	tbl := newTable(w, "ID", "AGENT", "FILE", "CREATED")
	for _, o := range outs {
		tbl.AddRow(o.ID, o.AgentID, o.FilePath, o.CreatedAt.Local().Format(timeLayout))
	}
	tbl.Print()
}

func newPurgeCmd(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete messages older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				n, err := c.PurgeMessages(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d message(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "delete messages created before now minus this")
	return cmd
}
