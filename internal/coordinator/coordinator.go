// ABOUTME: Outward operation surface of the coordination layer
// ABOUTME: Composes presence, mailbox, outputs and the output directory watcher

package coordinator

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/mailbox"
	"github.com/2389/coven-guardian/internal/outputs"
	"github.com/2389/coven-guardian/internal/presence"
	"github.com/2389/coven-guardian/internal/store"
	"github.com/2389/coven-guardian/internal/telemetry"
)

// DefaultWaitTimeout applies when a caller does not say how long to wait.
const DefaultWaitTimeout = 30 * time.Second

// DefaultWatchSubdir is the directory under each workspace that is watched.
const DefaultWatchSubdir = "outputs"

// Watcher starts and stops per-agent directory watches.
type Watcher interface {
	Watch(agentID, dir string) error
	Unwatch(agentID string) bool
}

// Options configure a Coordinator.
type Options struct {
	// WatchSubdir is joined to the workspace path on registration.
	WatchSubdir string
	// DefaultWaitTimeout is reported to transports for omitted timeouts.
	DefaultWaitTimeout time.Duration
}

// Coordinator exposes the operations every transport wraps.
type Coordinator struct {
	registry *presence.Registry
	mailbox  *mailbox.Service
	outputs  *outputs.Service
	watcher  Watcher
	opts     Options
	tracer   trace.Tracer
	logger   *slog.Logger
}

// New creates a Coordinator. watcher may be nil to disable output watching.
func New(registry *presence.Registry, mail *mailbox.Service, outs *outputs.Service, watcher Watcher, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WatchSubdir == "" {
		opts.WatchSubdir = DefaultWatchSubdir
	}
	if opts.DefaultWaitTimeout <= 0 {
		opts.DefaultWaitTimeout = DefaultWaitTimeout
	}
	return &Coordinator{
		registry: registry,
		mailbox:  mail,
		outputs:  outs,
		watcher:  watcher,
		opts:     opts,
		tracer:   telemetry.Tracer("guardian/coordinator"),
		logger:   logger.With("component", "coordinator"),
	}
}

// NewFromStore assembles the registry, waiter hub, mailbox and output
// service around one store and returns a Coordinator over them.
func NewFromStore(s store.Store, watcher Watcher, opts Options, outOpts outputs.Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	registry := presence.NewRegistry(s, logger)
	hub := outputs.NewHub(logger)
	mail := mailbox.New(s, registry, hub, logger)
	outs := outputs.New(s, hub, mail, registry, outOpts, logger)
	return New(registry, mail, outs, watcher, opts, logger)
}

// Registration describes the outcome of RegisterAgent.
type Registration struct {
	AgentID       string
	WorkspacePath string
	WatchDir      string // empty when watching is disabled
	Watching      bool
}

// RegisterAgent upserts an agent and starts watching its output directory.
// A failed watch is logged; the registration itself still succeeds.
func (c *Coordinator) RegisterAgent(ctx context.Context, agentID, workspacePath string, capabilities []string) (reg *Registration, err error) {
	ctx, span := c.start(ctx, "RegisterAgent", attribute.String("guardian.agent_id", agentID))
	defer func() { finish(span, err) }()

	id, err := c.registry.Register(ctx, agentID, workspacePath, capabilities)
	if err != nil {
		return nil, err
	}

	reg = &Registration{AgentID: id, WorkspacePath: workspacePath}
	if c.watcher == nil {
		return reg, nil
	}

	dir := filepath.Join(workspacePath, c.opts.WatchSubdir)
	reg.WatchDir = dir
	if err := c.watcher.Watch(id, dir); err != nil {
		c.logger.Warn("could not watch agent outputs", "agent_id", id, "dir", dir, "error", err)
		return reg, nil
	}
	reg.Watching = true
	return reg, nil
}

// UpdateStatus records an agent's status label. Labels outside the
// recommended set are accepted and logged.
func (c *Coordinator) UpdateStatus(ctx context.Context, agentID, status, details string) (err error) {
	ctx, span := c.start(ctx, "UpdateStatus",
		attribute.String("guardian.agent_id", agentID),
		attribute.String("guardian.status", status),
	)
	defer func() { finish(span, err) }()

	if status != "" && !coord.KnownStatus(status) {
		c.logger.Debug("status outside recommended set", "agent_id", agentID, "status", status)
	}
	return c.registry.UpdateStatus(ctx, agentID, status, details)
}

// SendMessage delivers a message from one registered agent to another.
func (c *Coordinator) SendMessage(ctx context.Context, from, to, msgType, content, filePath string) (id int64, err error) {
	ctx, span := c.start(ctx, "SendMessage",
		attribute.String("guardian.from_agent", from),
		attribute.String("guardian.to_agent", to),
		attribute.String("guardian.message_type", msgType),
	)
	defer func() { finish(span, err) }()

	return c.mailbox.Send(ctx, from, to, msgType, content, filePath)
}

// CheckMessages returns an agent's unread messages, oldest first.
func (c *Coordinator) CheckMessages(ctx context.Context, agentID string, markRead bool) (msgs []*store.Message, err error) {
	ctx, span := c.start(ctx, "CheckMessages",
		attribute.String("guardian.agent_id", agentID),
		attribute.Bool("guardian.mark_read", markRead),
	)
	defer func() { finish(span, err) }()

	msgs, err = c.mailbox.Receive(ctx, agentID, markRead)
	span.SetAttributes(attribute.Int("guardian.message_count", len(msgs)))
	return msgs, err
}

// AnnounceOutput records an output and notifies waiters and other agents.
func (c *Coordinator) AnnounceOutput(ctx context.Context, agentID, filePath string, metadata map[string]any) (out *store.Output, err error) {
	ctx, span := c.start(ctx, "AnnounceOutput",
		attribute.String("guardian.agent_id", agentID),
		attribute.String("guardian.file_path", filePath),
	)
	defer func() { finish(span, err) }()

	return c.outputs.Announce(ctx, agentID, filePath, metadata)
}

// WaitForOutput blocks until fromAgent has an output or timeout elapses.
func (c *Coordinator) WaitForOutput(ctx context.Context, waitingAgent, fromAgent string, timeout time.Duration) (out *store.Output, err error) {
	ctx, span := c.start(ctx, "WaitForOutput",
		attribute.String("guardian.waiting_agent", waitingAgent),
		attribute.String("guardian.from_agent", fromAgent),
		attribute.Int64("guardian.timeout_ms", timeout.Milliseconds()),
	)
	defer func() { finish(span, err) }()

	return c.outputs.Wait(ctx, waitingAgent, fromAgent, timeout)
}

// ListAgents returns every registered agent, newest first.
func (c *Coordinator) ListAgents(ctx context.Context) (agents []*store.Agent, err error) {
	ctx, span := c.start(ctx, "ListAgents")
	defer func() { finish(span, err) }()

	return c.registry.ListAll(ctx)
}

// GetAgent returns one agent or coord.ErrUnknownAgent.
func (c *Coordinator) GetAgent(ctx context.Context, agentID string) (*store.Agent, error) {
	return c.registry.Get(ctx, agentID)
}

// ActiveAgents returns agents whose cached status is active or busy.
func (c *Coordinator) ActiveAgents() []*store.Agent {
	return c.registry.ListActive()
}

// OutputsSince lists outputs recorded after since, newest first.
func (c *Coordinator) OutputsSince(ctx context.Context, since time.Time) (outs []*store.Output, err error) {
	ctx, span := c.start(ctx, "OutputsSince")
	defer func() { finish(span, err) }()

	return c.outputs.Since(ctx, since)
}

// PurgeMessages deletes messages older than maxAge.
func (c *Coordinator) PurgeMessages(ctx context.Context, maxAge time.Duration) (n int64, err error) {
	ctx, span := c.start(ctx, "PurgeMessages")
	defer func() { finish(span, err) }()

	return c.mailbox.Purge(ctx, maxAge)
}

// UnwatchAgent stops watching an agent's output directory.
func (c *Coordinator) UnwatchAgent(agentID string) bool {
	if c.watcher == nil {
		return false
	}
	return c.watcher.Unwatch(agentID)
}

// PendingWaiters reports how many waits are blocked on agentID's output.
func (c *Coordinator) PendingWaiters(agentID string) int {
	return c.outputs.Hub().Pending(agentID)
}

// DefaultWaitTimeout is the timeout transports use when none is given.
func (c *Coordinator) DefaultWaitTimeout() time.Duration {
	return c.opts.DefaultWaitTimeout
}

func (c *Coordinator) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "coordinator."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, coord.Code(err))
	}
	span.End()
}
