// ABOUTME: gRPC client for the Coordinator service used by the CLI commands
// ABOUTME: Wraps conn.Invoke with structpb payloads and restores coord error sentinels

package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/coven-guardian/internal/coordinator"
	"github.com/2389/coven-guardian/internal/store"
)

// Client calls a remote Coordinator service.
type Client struct {
	conn  grpc.ClientConnInterface
	close func() error
}

// Dial connects to a guardian gRPC server at addr without transport security.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn, close: conn.Close}, nil
}

// NewClient wraps an existing connection. Close on the returned client is a no-op.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, close: func() error { return nil }}
}

// Close releases the connection if the client owns it.
func (c *Client) Close() error {
	return c.close()
}

func (c *Client) invoke(ctx context.Context, method string, req fields) (fields, error) {
	in, err := encode(req)
	if err != nil {
		return nil, err
	}
	ctx = metadata.AppendToOutgoingContext(ctx, RequestIDKey, uuid.New().String())

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, fromStatus(err)
	}
	return decode(out), nil
}

// RegisterAgent registers or re-registers an agent.
func (c *Client) RegisterAgent(ctx context.Context, agentID, workspacePath string, capabilities []string) (*coordinator.Registration, error) {
	resp, err := c.invoke(ctx, MethodRegisterAgent, fields{
		"agent_id":       agentID,
		"workspace_path": workspacePath,
		"capabilities":   stringsToList(capabilities),
	})
	if err != nil {
		return nil, err
	}
	return &coordinator.Registration{
		AgentID:       resp.str("agent_id"),
		WorkspacePath: resp.str("workspace_path"),
		WatchDir:      resp.str("watch_dir"),
		Watching:      resp.boolean("watching", false),
	}, nil
}

// UpdateStatus records an agent's status label.
func (c *Client) UpdateStatus(ctx context.Context, agentID, status, details string) error {
	_, err := c.invoke(ctx, MethodUpdateStatus, fields{
		"agent_id": agentID,
		"status":   status,
		"details":  details,
	})
	return err
}

// SendMessage delivers a message and returns its id.
func (c *Client) SendMessage(ctx context.Context, from, to, msgType, content, filePath string) (int64, error) {
	resp, err := c.invoke(ctx, MethodSendMessage, fields{
		"from_agent":   from,
		"to_agent":     to,
		"message_type": msgType,
		"content":      content,
		"file_path":    filePath,
	})
	if err != nil {
		return 0, err
	}
	return int64(resp.num("message_id", 0)), nil
}

// CheckMessages returns unread messages for agentID, oldest first.
func (c *Client) CheckMessages(ctx context.Context, agentID string, markRead bool) ([]*store.Message, error) {
	resp, err := c.invoke(ctx, MethodCheckMessages, fields{
		"agent_id":     agentID,
		"mark_as_read": markRead,
	})
	if err != nil {
		return nil, err
	}
	var msgs []*store.Message
	for _, f := range resp.list("messages") {
		msgs = append(msgs, messageFromFields(f))
	}
	return msgs, nil
}

// AnnounceOutput records an output. A non-empty warning means the record
// was kept but the broadcast fell short.
func (c *Client) AnnounceOutput(ctx context.Context, agentID, filePath string, meta map[string]any) (*store.Output, string, error) {
	req := fields{
		"agent_id":  agentID,
		"file_path": filePath,
	}
	if meta != nil {
		req["metadata"] = meta
	}
	resp, err := c.invoke(ctx, MethodAnnounceOutput, req)
	if err != nil {
		return nil, "", err
	}
	out, _ := resp["output"].(map[string]any)
	return outputFromFields(out), resp.str("warning"), nil
}

// WaitForOutput blocks on the server until fromAgent has an output.
func (c *Client) WaitForOutput(ctx context.Context, waitingAgent, fromAgent string, timeout time.Duration) (*store.Output, error) {
	resp, err := c.invoke(ctx, MethodWaitForOutput, fields{
		"waiting_agent": waitingAgent,
		"from_agent":    fromAgent,
		"timeout_ms":    float64(timeout.Milliseconds()),
	})
	if err != nil {
		return nil, err
	}
	out, _ := resp["output"].(map[string]any)
	return outputFromFields(out), nil
}

// ListAgents returns every registered agent, newest first.
func (c *Client) ListAgents(ctx context.Context) ([]*store.Agent, error) {
	resp, err := c.invoke(ctx, MethodListAgents, fields{})
	if err != nil {
		return nil, err
	}
	var agents []*store.Agent
	for _, f := range resp.list("agents") {
		agents = append(agents, agentFromFields(f))
	}
	return agents, nil
}

// OutputsSince lists outputs recorded after since, newest first.
func (c *Client) OutputsSince(ctx context.Context, since time.Time) ([]*store.Output, error) {
	resp, err := c.invoke(ctx, MethodOutputsSince, fields{"since": formatTime(since)})
	if err != nil {
		return nil, err
	}
	var outs []*store.Output
	for _, f := range resp.list("outputs") {
		outs = append(outs, outputFromFields(f))
	}
	return outs, nil
}

// PurgeMessages deletes messages older than maxAge and returns the count.
func (c *Client) PurgeMessages(ctx context.Context, maxAge time.Duration) (int64, error) {
	resp, err := c.invoke(ctx, MethodPurgeMessages, fields{"older_than": maxAge.String()})
	if err != nil {
		return 0, err
	}
	return int64(resp.num("deleted", 0)), nil
}
