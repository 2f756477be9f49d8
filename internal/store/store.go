// ABOUTME: Store interface and data types for guardian persistence
// ABOUTME: Defines Agent, Message, Output structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps every failure of the underlying database.
// Callers may retry; the store never retries on its own.
var ErrUnavailable = errors.New("store unavailable")

// Message types with meaning to the coordination layer. Any other type is
// an opaque payload passed between agents.
const (
	MessageTypeOutputReady  = "output_ready"
	MessageTypeNotification = "notification"
)

// StatusActive is the status every agent gets on (re-)registration.
const StatusActive = "active"

// Agent is a registered worker process.
type Agent struct {
	ID            string
	WorkspacePath string
	Capabilities  []string
	Status        string
	Details       string // optional free text attached to the last status update
	RegisteredAt  time.Time
	UpdatedAt     time.Time
}

// Message is a single mailbox entry. ReadAt is nil until the recipient
// receives it with mark-read, and is never cleared afterwards.
type Message struct {
	ID          int64
	FromAgentID string
	ToAgentID   string
	Type        string
	Content     string
	FilePath    string
	CreatedAt   time.Time
	ReadAt      *time.Time
}

// Output records an artifact produced by an agent.
type Output struct {
	ID        int64
	AgentID   string
	FilePath  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Store defines the persistence operations used by the coordination layer.
// All operations are read-after-write consistent within one process.
type Store interface {
	// Agents

	// UpsertAgent creates the agent or overwrites workspace and capabilities,
	// resetting status to active and clearing details.
	UpsertAgent(ctx context.Context, agent *Agent) error
	// UpdateAgentStatus returns ErrNotFound when no agent has the id.
	UpdateAgentStatus(ctx context.Context, id, status, details string) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// ListAgents returns agents newest-registered first.
	ListAgents(ctx context.Context) ([]*Agent, error)

	// Messages

	// InsertMessage assigns msg.ID and msg.CreatedAt.
	InsertMessage(ctx context.Context, msg *Message) error
	// ListUnreadMessages returns unread messages for a recipient, oldest first.
	ListUnreadMessages(ctx context.Context, recipient string) ([]*Message, error)
	// MarkMessagesRead sets read_at on the unread messages among ids and
	// returns how many were updated.
	MarkMessagesRead(ctx context.Context, ids []int64) (int64, error)
	// DeleteMessagesBefore removes messages created before cutoff.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Outputs

	// InsertOutput assigns out.ID and out.CreatedAt.
	InsertOutput(ctx context.Context, out *Output) error
	// GetLatestOutput returns ErrNotFound when the agent has no outputs.
	GetLatestOutput(ctx context.Context, agentID string) (*Output, error)
	// ListOutputsSince returns outputs created after since, newest first.
	ListOutputsSince(ctx context.Context, since time.Time) ([]*Output, error)

	Ping(ctx context.Context) error
	Close() error
}
