// ABOUTME: Round-trip tests for the Coordinator gRPC service over an in-memory listener
// ABOUTME: Verifies payload mapping and that coord error sentinels survive the wire

package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/coordinator"
	"github.com/2389/coven-guardian/internal/outputs"
	"github.com/2389/coven-guardian/internal/store"
)

func newTestClient(t *testing.T) (*Client, *store.MockStore) {
	t.Helper()

	s := store.NewMockStore()
	c := coordinator.NewFromStore(s, nil, coordinator.Options{}, outputs.Options{FallbackPollInterval: -1}, nil)

	lis := bufconn.Listen(1 << 20)
	gs := NewServer(c, nil).NewGRPCServer()
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn), s
}

func TestRPC_RegisterListAndStatus(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := t.Context()

	reg, err := client.RegisterAgent(ctx, "alpha", "/w/alpha", []string{"code", "review"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", reg.AgentID)
	assert.Equal(t, "/w/alpha", reg.WorkspacePath)
	assert.False(t, reg.Watching)

	_, err = client.RegisterAgent(ctx, "beta", "/w/beta", nil)
	require.NoError(t, err)

	require.NoError(t, client.UpdateStatus(ctx, "alpha", "busy", "compiling"))

	agents, err := client.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "beta", agents[0].ID)
	assert.Equal(t, []string{}, agents[0].Capabilities)
	assert.Equal(t, "alpha", agents[1].ID)
	assert.Equal(t, []string{"code", "review"}, agents[1].Capabilities)
	assert.Equal(t, "busy", agents[1].Status)
	assert.Equal(t, "compiling", agents[1].Details)
	assert.False(t, agents[1].RegisteredAt.IsZero())
}

func TestRPC_MessagesExactlyOnce(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := t.Context()
	_, err := client.RegisterAgent(ctx, "alpha", "/w/alpha", nil)
	require.NoError(t, err)
	_, err = client.RegisterAgent(ctx, "beta", "/w/beta", nil)
	require.NoError(t, err)

	id, err := client.SendMessage(ctx, "alpha", "beta", "request", "go", "/w/alpha/x")
	require.NoError(t, err)
	assert.Positive(t, id)

	peek, err := client.CheckMessages(ctx, "beta", false)
	require.NoError(t, err)
	require.Len(t, peek, 1)
	assert.Nil(t, peek[0].ReadAt)

	msgs, err := client.CheckMessages(ctx, "beta", true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "alpha", msgs[0].FromAgentID)
	assert.Equal(t, "request", msgs[0].Type)
	assert.Equal(t, "go", msgs[0].Content)
	assert.Equal(t, "/w/alpha/x", msgs[0].FilePath)

	msgs, err = client.CheckMessages(ctx, "beta", true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRPC_AnnounceWaitAndSince(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := t.Context()
	_, err := client.RegisterAgent(ctx, "alpha", "/w/alpha", nil)
	require.NoError(t, err)
	start := time.Now().Add(-time.Second)

	done := make(chan *store.Output, 1)
	go func() {
		out, err := client.WaitForOutput(ctx, "beta", "alpha", 5*time.Second)
		if err == nil {
			done <- out
		}
		close(done)
	}()

	// give the wait a moment to block; it is correct either way
	time.Sleep(20 * time.Millisecond)

	out, warning, err := client.AnnounceOutput(ctx, "alpha", "/w/alpha/outputs/r.md", map[string]any{"pages": 2.0})
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, "/w/alpha/outputs/r.md", out.FilePath)
	assert.Equal(t, 2.0, out.Metadata["pages"])

	select {
	case got := <-done:
		require.NotNil(t, got)
		assert.Equal(t, out.ID, got.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("wait did not return")
	}

	outs, err := client.OutputsSince(ctx, start)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "alpha", outs[0].AgentID)
}

func TestRPC_ErrorsKeepTheirMeaning(t *testing.T) {
	client, s := newTestClient(t)
	ctx := t.Context()

	err := client.UpdateStatus(ctx, "ghost", "busy", "")
	assert.ErrorIs(t, err, coord.ErrUnknownAgent)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.WaitForOutput(ctx, "a", "b", 10*time.Millisecond)
	assert.ErrorIs(t, err, coord.ErrOutputTimeout)

	_, err = client.RegisterAgent(ctx, "", "/w", nil)
	assert.ErrorIs(t, err, coord.ErrInvalidArgument)

	_, err = client.PurgeMessages(ctx, 0)
	assert.ErrorIs(t, err, coord.ErrInvalidArgument)

	s.SetFailure(errors.New("disk gone"))
	_, err = client.ListAgents(ctx)
	assert.ErrorIs(t, err, coord.ErrStoreUnavailable)
	assert.Equal(t, coord.CodeStoreUnavailable, coord.Code(err))
}

func TestWaitForOutput_HugeTimeoutDoesNotOverflow(t *testing.T) {
	s := store.NewMockStore()
	c := coordinator.NewFromStore(s, nil, coordinator.Options{}, outputs.Options{FallbackPollInterval: -1}, nil)
	srv := NewServer(c, nil)
	ctx := t.Context()

	_, err := c.AnnounceOutput(ctx, "alpha", "/w/alpha/outputs/big.md", nil)
	require.NoError(t, err)

	resp, err := srv.waitForOutput(ctx, fields{
		"waiting_agent": "beta",
		"from_agent":    "alpha",
		"timeout_ms":    1e13,
	})
	require.NoError(t, err)
	out, ok := resp["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/w/alpha/outputs/big.md", out["file_path"])
}

func TestRPC_Purge(t *testing.T) {
	client, s := newTestClient(t)
	ctx := t.Context()

	require.NoError(t, s.InsertMessage(ctx, &store.Message{
		FromAgentID: "a", ToAgentID: "b", Type: "note", Content: "old",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))

	n, err := client.PurgeMessages(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFromStatus_TransportUnavailableIsNotStoreError(t *testing.T) {
	err := fromStatus(status.Error(codes.Unavailable, "connection refused"))
	assert.False(t, errors.Is(err, coord.ErrStoreUnavailable))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{coord.ErrUnknownAgent, codes.NotFound},
		{coord.ErrOutputTimeout, codes.DeadlineExceeded},
		{coord.ErrInvalidArgument, codes.InvalidArgument},
		{store.ErrUnavailable, codes.Unavailable},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), tt.err.Error())
	}
	assert.NoError(t, toStatus(nil))
}
