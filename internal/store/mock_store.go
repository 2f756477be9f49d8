// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to simulate an unavailable database

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	agents   map[string]*Agent // keyed by agent ID
	agentSeq map[string]int64  // registration order, for tie-breaking
	messages []*Message        // insertion order
	outputs  []*Output         // insertion order
	nextMsg  int64
	nextOut  int64
	nextReg  int64
	failure  error
	closed   bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:   make(map[string]*Agent),
		agentSeq: make(map[string]int64),
	}
}

// SetFailure makes every subsequent operation fail with ErrUnavailable
// wrapping err. Pass nil to recover.
func (m *MockStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MockStore) failed(op string) error {
	if m.failure != nil {
		return unavailable(op, m.failure)
	}
	return nil
}

// UpsertAgent stores or replaces an agent.
func (m *MockStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("upserting agent"); err != nil {
		return err
	}

	now := time.Now().UTC()
	caps := make([]string, len(agent.Capabilities))
	copy(caps, agent.Capabilities)

	agent.Capabilities = caps
	agent.Status = StatusActive
	agent.Details = ""
	agent.RegisteredAt = now
	agent.UpdatedAt = now

	m.agents[agent.ID] = copyAgent(agent)
	m.nextReg++
	m.agentSeq[agent.ID] = m.nextReg
	return nil
}

// UpdateAgentStatus updates status and details of an existing agent.
func (m *MockStore) UpdateAgentStatus(ctx context.Context, id, status, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("updating agent status"); err != nil {
		return err
	}

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.Details = details
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failed("querying agent"); err != nil {
		return nil, err
	}

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

// ListAgents returns all agents, newest-registered first.
func (m *MockStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failed("querying agents"); err != nil {
		return nil, err
	}

	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, copyAgent(a))
	}
	sort.Slice(agents, func(i, j int) bool {
		return m.agentSeq[agents[i].ID] > m.agentSeq[agents[j].ID]
	})
	return agents, nil
}

// InsertMessage stores a message and assigns its ID.
func (m *MockStore) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("inserting message"); err != nil {
		return err
	}

	m.nextMsg++
	msg.ID = m.nextMsg
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	stored := *msg
	stored.ReadAt = nil
	m.messages = append(m.messages, &stored)
	return nil
}

// ListUnreadMessages returns unread messages for recipient in insertion order.
func (m *MockStore) ListUnreadMessages(ctx context.Context, recipient string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failed("querying unread messages"); err != nil {
		return nil, err
	}

	var result []*Message
	for _, msg := range m.messages {
		if msg.ToAgentID == recipient && msg.ReadAt == nil {
			c := *msg
			result = append(result, &c)
		}
	}
	return result, nil
}

// MarkMessagesRead stamps read_at on the still-unread messages in ids.
func (m *MockStore) MarkMessagesRead(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("marking messages read"); err != nil {
		return 0, err
	}

	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	now := time.Now().UTC()
	var n int64
	for _, msg := range m.messages {
		if want[msg.ID] && msg.ReadAt == nil {
			t := now
			msg.ReadAt = &t
			n++
		}
	}
	return n, nil
}

// DeleteMessagesBefore removes messages created before cutoff.
func (m *MockStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("deleting old messages"); err != nil {
		return 0, err
	}

	kept := m.messages[:0]
	var n int64
	for _, msg := range m.messages {
		if msg.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return n, nil
}

// InsertOutput stores an output record and assigns its ID.
func (m *MockStore) InsertOutput(ctx context.Context, out *Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("inserting output"); err != nil {
		return err
	}

	m.nextOut++
	out.ID = m.nextOut
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	m.outputs = append(m.outputs, copyOutput(out))
	return nil
}

// GetLatestOutput returns the newest output for agentID.
func (m *MockStore) GetLatestOutput(ctx context.Context, agentID string) (*Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failed("querying latest output"); err != nil {
		return nil, err
	}

	var latest *Output
	for _, out := range m.outputs {
		if out.AgentID != agentID {
			continue
		}
		if latest == nil || !out.CreatedAt.Before(latest.CreatedAt) {
			latest = out
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyOutput(latest), nil
}

// ListOutputsSince returns outputs created after since, newest first.
func (m *MockStore) ListOutputsSince(ctx context.Context, since time.Time) ([]*Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failed("querying outputs"); err != nil {
		return nil, err
	}

	var result []*Output
	for i := len(m.outputs) - 1; i >= 0; i-- {
		if m.outputs[i].CreatedAt.After(since) {
			result = append(result, copyOutput(m.outputs[i]))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Ping reports the injected failure, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failed("pinging database")
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyAgent(a *Agent) *Agent {
	c := *a
	c.Capabilities = make([]string, len(a.Capabilities))
	copy(c.Capabilities, a.Capabilities)
	return &c
}

func copyOutput(o *Output) *Output {
	c := *o
	c.Metadata = make(map[string]any, len(o.Metadata))
	for k, v := range o.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)
