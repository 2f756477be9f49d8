// ABOUTME: Durable per-agent mailbox with at-most-once read semantics.
// ABOUTME: Validates both ends through the presence registry before persisting.

package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/store"
	"github.com/2389/coven-guardian/internal/telemetry"
)

// Directory resolves agent ids. Get must consult the store on a cache miss
// and return coord.ErrUnknownAgent for ids that do not exist.
type Directory interface {
	Get(ctx context.Context, id string) (*store.Agent, error)
}

// Waker resolves everyone waiting on an agent's output.
type Waker interface {
	Wake(out *store.Output) int
}

// Service sends and receives mailbox messages.
type Service struct {
	store  store.Store
	agents Directory
	waker  Waker
	locks  *recipientLocks
	logger *slog.Logger

	sentCounter      metric.Int64Counter
	deliveredCounter metric.Int64Counter
}

// New creates a mailbox service. waker may be nil, in which case
// output_ready messages are recorded without waking anyone.
func New(s store.Store, agents Directory, waker Waker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	meter := telemetry.Meter("guardian/mailbox")
	sent, _ := meter.Int64Counter("guardian.mailbox.sent",
		metric.WithDescription("Messages persisted, by type"),
	)
	delivered, _ := meter.Int64Counter("guardian.mailbox.delivered",
		metric.WithDescription("Messages returned by receive with mark-read"),
	)
	return &Service{
		store:            s,
		agents:           agents,
		waker:            waker,
		locks:            newRecipientLocks(),
		logger:           logger.With("component", "mailbox"),
		sentCounter:      sent,
		deliveredCounter: delivered,
	}
}

// Send persists a message from one registered agent to another and returns
// its id. An output_ready message with a file path also records an output
// for the sender and then wakes its waiters, so a later Wait sees the same
// record. The message itself is the notification; no broadcast is sent.
//
// A non-zero id with a non-nil error means the message was stored but the
// output record was not.
func (s *Service) Send(ctx context.Context, from, to, msgType, content, filePath string) (int64, error) {
	if from == "" {
		return 0, fmt.Errorf("from_agent is required: %w", coord.ErrInvalidArgument)
	}
	if to == "" {
		return 0, fmt.Errorf("to_agent is required: %w", coord.ErrInvalidArgument)
	}
	if msgType == "" {
		return 0, fmt.Errorf("message_type is required: %w", coord.ErrInvalidArgument)
	}

	if _, err := s.agents.Get(ctx, from); err != nil {
		return 0, fmt.Errorf("sender: %w", err)
	}
	if _, err := s.agents.Get(ctx, to); err != nil {
		return 0, fmt.Errorf("recipient: %w", err)
	}

	msg := &store.Message{
		FromAgentID: from,
		ToAgentID:   to,
		Type:        msgType,
		Content:     content,
		FilePath:    filePath,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return 0, fmt.Errorf("sending message: %w", err)
	}

	s.sentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
	s.logger.Debug("message sent",
		"id", msg.ID,
		"from", from,
		"to", to,
		"type", msgType,
	)

	if msgType == store.MessageTypeOutputReady && filePath != "" {
		if err := s.recordOutput(ctx, from, filePath); err != nil {
			return msg.ID, err
		}
	}

	return msg.ID, nil
}

// recordOutput persists an output for from and only then wakes waiters.
func (s *Service) recordOutput(ctx context.Context, from, filePath string) error {
	out := &store.Output{
		AgentID:  from,
		FilePath: filePath,
		Metadata: map[string]any{},
	}
	if err := s.store.InsertOutput(ctx, out); err != nil {
		return fmt.Errorf("recording output from output_ready message: %w", err)
	}

	woken := 0
	if s.waker != nil {
		woken = s.waker.Wake(out)
	}
	s.logger.Debug("output_ready message recorded output",
		"from", from,
		"file_path", filePath,
		"output_id", out.ID,
		"woken", woken,
	)
	return nil
}

// Receive returns the unread messages for agentID in creation order. With
// markRead every returned message is marked read before Receive returns, and
// no concurrent Receive for the same agent can return it again.
func (s *Service) Receive(ctx context.Context, agentID string, markRead bool) ([]*store.Message, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent_id is required: %w", coord.ErrInvalidArgument)
	}

	unlock := s.locks.lock(agentID)
	defer unlock()

	messages, err := s.store.ListUnreadMessages(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("receiving messages: %w", err)
	}
	if !markRead || len(messages) == 0 {
		return messages, nil
	}

	ids := make([]int64, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	n, err := s.store.MarkMessagesRead(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("marking messages read: %w", err)
	}
	if n != int64(len(ids)) {
		s.logger.Warn("fewer messages marked read than fetched", "agent_id", agentID, "fetched", len(ids), "marked", n)
	}

	now := time.Now().UTC()
	for _, m := range messages {
		m.ReadAt = &now
	}

	s.deliveredCounter.Add(ctx, int64(len(messages)))
	return messages, nil
}

// Purge deletes messages older than maxAge, read or unread.
func (s *Service) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("max age must be positive: %w", coord.ErrInvalidArgument)
	}

	n, err := s.store.DeleteMessagesBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("purging messages: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged old messages", "count", n, "max_age", maxAge)
	}
	return n, nil
}
