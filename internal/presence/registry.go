// ABOUTME: Presence registry tracking which agents exist and their last-known status.
// ABOUTME: Store-backed with an in-memory read-through/write-through cache.

package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/store"
)

// Registry tracks registered agents. The store is the system of record;
// the cache only ever holds rows the store has returned or accepted.
type Registry struct {
	store store.Store

	// syncMu serializes every store access whose result is written into the
	// cache, so a slower read can never overwrite a newer write.
	syncMu sync.Mutex

	mu     sync.RWMutex
	agents map[string]*store.Agent

	logger *slog.Logger
}

// NewRegistry creates a Registry with an empty cache.
func NewRegistry(s store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		agents: make(map[string]*store.Agent),
		logger: logger.With("component", "presence"),
	}
}

// Register upserts an agent. Re-registering an id overwrites its workspace
// and capabilities and resets its status to active.
func (r *Registry) Register(ctx context.Context, id, workspacePath string, capabilities []string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("agent id is required: %w", coord.ErrInvalidArgument)
	}
	if workspacePath == "" {
		return "", fmt.Errorf("workspace path is required: %w", coord.ErrInvalidArgument)
	}

	agent := &store.Agent{
		ID:            id,
		WorkspacePath: workspacePath,
		Capabilities:  append([]string(nil), capabilities...),
	}

	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	if err := r.store.UpsertAgent(ctx, agent); err != nil {
		return "", fmt.Errorf("registering agent %s: %w", id, err)
	}
	r.cache(agent)

	r.logger.Info("=== AGENT REGISTERED ===",
		"agent_id", id,
		"workspace", workspacePath,
		"capabilities", agent.Capabilities,
	)
	return id, nil
}

// UpdateStatus records a new status label and optional detail text.
// Returns coord.ErrUnknownAgent if the store has no such agent.
func (r *Registry) UpdateStatus(ctx context.Context, id, status, details string) error {
	if id == "" {
		return fmt.Errorf("agent id is required: %w", coord.ErrInvalidArgument)
	}
	if status == "" {
		return fmt.Errorf("status is required: %w", coord.ErrInvalidArgument)
	}

	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	err := r.store.UpdateAgentStatus(ctx, id, status, details)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("updating status of %s: %w", id, coord.ErrUnknownAgent)
	}
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}

	// Re-read so the cache carries the store's timestamps, not ours.
	agent, err := r.store.GetAgent(ctx, id)
	if err != nil {
		r.evict(id)
		r.logger.Warn("status updated but reload failed, cache entry dropped", "agent_id", id, "error", err)
	} else {
		r.cache(agent)
	}

	r.logger.Info("agent status changed", "agent_id", id, "status", status, "details", details)
	return nil
}

// Get returns the agent, reading through to the store on a cache miss.
// Returns coord.ErrUnknownAgent if the agent does not exist.
func (r *Registry) Get(ctx context.Context, id string) (*store.Agent, error) {
	r.mu.RLock()
	cached, ok := r.agents[id]
	r.mu.RUnlock()
	if ok {
		return copyAgent(cached), nil
	}

	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	agent, err := r.store.GetAgent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("agent %s: %w", id, coord.ErrUnknownAgent)
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent %s: %w", id, err)
	}
	r.cache(agent)
	return copyAgent(agent), nil
}

// ListAll returns every agent from the store, newest-registered first,
// refreshing the cache as a side effect.
func (r *Registry) ListAll(ctx context.Context) ([]*store.Agent, error) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	r.mu.Lock()
	for _, a := range agents {
		r.agents[a.ID] = copyAgent(a)
	}
	r.mu.Unlock()

	return agents, nil
}

// IsRegistered is a cache-only check and may briefly lag the store.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// ListActive returns cached agents whose status is active or busy,
// newest-registered first.
func (r *Registry) ListActive() []*store.Agent {
	r.mu.RLock()
	active := make([]*store.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if coord.Live(a.Status) {
			active = append(active, copyAgent(a))
		}
	}
	r.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].RegisteredAt.Equal(active[j].RegisteredAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].RegisteredAt.After(active[j].RegisteredAt)
	})
	return active
}

// Count returns the number of cached agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) cache(a *store.Agent) {
	r.mu.Lock()
	r.agents[a.ID] = copyAgent(a)
	r.mu.Unlock()
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	delete(r.agents, id)
	r.mu.Unlock()
}

func copyAgent(a *store.Agent) *store.Agent {
	c := *a
	c.Capabilities = make([]string, len(a.Capabilities))
	copy(c.Capabilities, a.Capabilities)
	return &c
}
