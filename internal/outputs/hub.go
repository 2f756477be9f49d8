// ABOUTME: In-memory waiter lists keyed by the agent whose output is awaited
// ABOUTME: Drain-and-clear and registration share one mutex so no wakeup is lost

package outputs

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-guardian/internal/store"
)

// waiter is one blocked Wait call. ch has capacity 1 and receives at most
// one value, always while Hub.mu is held.
type waiter struct {
	id string
	ch chan *store.Output
}

// Hub holds the pending waiters for every source agent.
type Hub struct {
	mu      sync.Mutex
	waiters map[string]map[string]*waiter // source agentID -> waiterID -> waiter
	logger  *slog.Logger
}

// NewHub creates an empty hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		waiters: make(map[string]map[string]*waiter),
		logger:  logger.With("component", "output-hub"),
	}
}

// register adds a waiter for agentID.
func (h *Hub) register(agentID string) *waiter {
	w := &waiter{
		id: uuid.New().String(),
		ch: make(chan *store.Output, 1),
	}

	h.mu.Lock()
	if _, ok := h.waiters[agentID]; !ok {
		h.waiters[agentID] = make(map[string]*waiter)
	}
	h.waiters[agentID][w.id] = w
	h.mu.Unlock()

	h.logger.Debug("waiter registered", "from_agent", agentID, "waiter_id", w.id)
	return w
}

// remove deregisters a waiter. It returns false when the waiter was already
// drained by Wake, in which case its channel holds the output.
func (h *Hub) remove(agentID, waiterID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ws, ok := h.waiters[agentID]
	if !ok {
		return false
	}
	if _, exists := ws[waiterID]; !exists {
		return false
	}
	delete(ws, waiterID)
	if len(ws) == 0 {
		delete(h.waiters, agentID)
	}
	return true
}

// Wake resolves and clears every waiter for out.AgentID and returns how many
// were resolved. It never blocks.
func (h *Hub) Wake(out *store.Output) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	ws, ok := h.waiters[out.AgentID]
	if !ok {
		return 0
	}
	delete(h.waiters, out.AgentID)

	for _, w := range ws {
		w.ch <- cloneOutput(out)
	}

	h.logger.Debug("waiters woken", "from_agent", out.AgentID, "count", len(ws), "file_path", out.FilePath)
	return len(ws)
}

// Pending returns the number of waiters blocked on agentID.
func (h *Hub) Pending(agentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[agentID])
}

// Total returns the number of waiters across all agents.
func (h *Hub) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ws := range h.waiters {
		n += len(ws)
	}
	return n
}

func cloneOutput(o *store.Output) *store.Output {
	c := *o
	c.Metadata = make(map[string]any, len(o.Metadata))
	for k, v := range o.Metadata {
		c.Metadata[k] = v
	}
	return &c
}
