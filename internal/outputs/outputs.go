// ABOUTME: Output announcement and race-free waiting on another agent's output
// ABOUTME: Persists records, wakes in-memory waiters and broadcasts durable notifications

package outputs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/store"
	"github.com/2389/coven-guardian/internal/telemetry"
)

// DefaultFallbackPollInterval is how often a blocked Wait re-reads the store.
const DefaultFallbackPollInterval = 500 * time.Millisecond

// Mailer delivers the broadcast notification messages.
type Mailer interface {
	Send(ctx context.Context, from, to, msgType, content, filePath string) (int64, error)
}

// Directory lists the agents that receive broadcasts.
type Directory interface {
	ListAll(ctx context.Context) ([]*store.Agent, error)
}

// Options tune a Service.
type Options struct {
	// FallbackPollInterval bounds how long a Wait can miss an output whose
	// wakeup never arrived. Zero uses the default; negative disables polling.
	FallbackPollInterval time.Duration
}

// Service announces outputs and lets agents wait for them.
type Service struct {
	store        store.Store
	hub          *Hub
	mail         Mailer
	agents       Directory
	pollInterval time.Duration
	logger       *slog.Logger

	announced    metric.Int64Counter
	waitOutcomes metric.Int64Counter
	waitDuration metric.Float64Histogram
}

// New creates an output service around hub. The same hub must be given to
// the mailbox so output_ready messages wake the same waiters.
func New(s store.Store, hub *Hub, mail Mailer, agents Directory, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.FallbackPollInterval
	if poll == 0 {
		poll = DefaultFallbackPollInterval
	}

	meter := telemetry.Meter("guardian/outputs")
	announced, _ := meter.Int64Counter("guardian.outputs.announced",
		metric.WithDescription("Output records persisted"),
	)
	outcomes, _ := meter.Int64Counter("guardian.outputs.wait_outcomes",
		metric.WithDescription("Wait calls by how they finished"),
	)
	duration, _ := meter.Float64Histogram("guardian.outputs.wait_duration",
		metric.WithDescription("Time spent in Wait (ms)"),
		metric.WithUnit("ms"),
	)

	return &Service{
		store:        s,
		hub:          hub,
		mail:         mail,
		agents:       agents,
		pollInterval: poll,
		logger:       logger.With("component", "outputs"),
		announced:    announced,
		waitOutcomes: outcomes,
		waitDuration: duration,
	}
}

// Announce records that agent from produced filePath, resolves everyone
// waiting on from, and sends a notification message to every other
// registered agent.
//
// A non-nil record with a non-nil error means the output was persisted and
// waiters were woken but the broadcast could not be completed.
func (s *Service) Announce(ctx context.Context, from, filePath string, metadata map[string]any) (*store.Output, error) {
	if from == "" {
		return nil, fmt.Errorf("agent_id is required: %w", coord.ErrInvalidArgument)
	}
	if filePath == "" {
		return nil, fmt.Errorf("file_path is required: %w", coord.ErrInvalidArgument)
	}

	out := &store.Output{
		AgentID:  from,
		FilePath: filePath,
		Metadata: metadata,
	}
	if err := s.store.InsertOutput(ctx, out); err != nil {
		return nil, fmt.Errorf("recording output: %w", err)
	}
	s.announced.Add(ctx, 1)

	woken := s.hub.Wake(out)

	s.logger.Info("=== OUTPUT READY ===",
		"agent_id", from,
		"file_path", filePath,
		"output_id", out.ID,
		"waiters_woken", woken,
	)

	if err := s.broadcast(ctx, from, filePath); err != nil {
		return out, err
	}
	return out, nil
}

// broadcast sends the durable notification trail. Failures for a single
// recipient are logged and do not stop the others.
func (s *Service) broadcast(ctx context.Context, from, filePath string) error {
	agents, err := s.agents.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("broadcasting output: %w", err)
	}

	registered := false
	for _, a := range agents {
		if a.ID == from {
			registered = true
			break
		}
	}
	if !registered {
		s.logger.Warn("announcing agent is not registered, skipping broadcast", "agent_id", from, "file_path", filePath)
		return nil
	}

	content := "Output ready at: " + filePath
	var errs []error
	for _, a := range agents {
		if a.ID == from {
			continue
		}
		if _, err := s.mail.Send(ctx, from, a.ID, store.MessageTypeNotification, content, filePath); err != nil {
			s.logger.Error("broadcast to agent failed", "from", from, "to", a.ID, "error", err)
			errs = append(errs, fmt.Errorf("notifying %s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until agent from has an output and returns the latest one.
// An output persisted before the call returns immediately. Otherwise Wait
// registers a waiter and blocks until an announcement, the timeout, or ctx
// cancellation. A non-positive timeout fails immediately with an error
// matching both coord.ErrOutputTimeout and coord.ErrInvalidArgument.
func (s *Service) Wait(ctx context.Context, waitingAgent, from string, timeout time.Duration) (*store.Output, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s: %w: %w", timeout, coord.ErrOutputTimeout, coord.ErrInvalidArgument)
	}
	if from == "" {
		return nil, fmt.Errorf("from_agent is required: %w", coord.ErrInvalidArgument)
	}

	start := time.Now()
	out, outcome, err := s.wait(ctx, from, timeout)

	elapsed := float64(time.Since(start).Milliseconds())
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	s.waitOutcomes.Add(ctx, 1, attrs)
	s.waitDuration.Record(ctx, elapsed, attrs)

	s.logger.Debug("wait finished",
		"waiting_agent", waitingAgent,
		"from_agent", from,
		"outcome", outcome,
		"elapsed_ms", elapsed,
	)
	return out, err
}

func (s *Service) wait(ctx context.Context, from string, timeout time.Duration) (*store.Output, string, error) {
	out, err := s.latest(ctx, from)
	if err != nil {
		return nil, "error", err
	}
	if out != nil {
		return out, "existing", nil
	}

	w := s.hub.register(from)
	defer s.hub.remove(from, w.id)

	// An announce between the first read and registration is only visible in the store.
	out, err = s.latest(ctx, from)
	if err != nil {
		return nil, "error", err
	}
	if out != nil {
		return out, "recheck", nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var poll <-chan time.Time
	if s.pollInterval > 0 {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case out := <-w.ch:
			return out, "woken", nil

		case <-poll:
			out, err := s.latest(ctx, from)
			if err != nil {
				s.logger.Debug("fallback poll failed", "from_agent", from, "error", err)
				continue
			}
			if out != nil {
				return out, "polled", nil
			}

		case <-timer.C:
			if !s.hub.remove(from, w.id) {
				// Wake drained us just as the deadline fired.
				return <-w.ch, "woken", nil
			}
			return nil, "timeout", fmt.Errorf("waiting for output from %s after %s: %w", from, timeout, coord.ErrOutputTimeout)

		case <-ctx.Done():
			return nil, "canceled", ctx.Err()
		}
	}
}

// latest returns the newest stored output for agentID, or nil if none.
func (s *Service) latest(ctx context.Context, agentID string) (*store.Output, error) {
	out, err := s.store.GetLatestOutput(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking latest output of %s: %w", agentID, err)
	}
	return out, nil
}

// Since returns outputs recorded after t, newest first.
func (s *Service) Since(ctx context.Context, t time.Time) ([]*store.Output, error) {
	outs, err := s.store.ListOutputsSince(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("listing outputs: %w", err)
	}
	return outs, nil
}

// Hub returns the waiter hub shared with the mailbox.
func (s *Service) Hub() *Hub {
	return s.hub
}
