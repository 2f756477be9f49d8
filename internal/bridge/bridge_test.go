// ABOUTME: Tests for the notification bridge
// ABOUTME: Uses a fake announcer plus one end-to-end run with the real services

package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-guardian/internal/coordinator"
	"github.com/2389/coven-guardian/internal/mailbox"
	"github.com/2389/coven-guardian/internal/outputs"
	"github.com/2389/coven-guardian/internal/presence"
	"github.com/2389/coven-guardian/internal/store"
	"github.com/2389/coven-guardian/internal/watch"
)

type announcement struct {
	from, path string
	metadata   map[string]any
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	calls []announcement
	err   error
}

func (f *fakeAnnouncer) AnnounceOutput(ctx context.Context, from, filePath string, metadata map[string]any) (*store.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, announcement{from, filePath, metadata})
	if f.err != nil {
		return nil, f.err
	}
	return &store.Output{AgentID: from, FilePath: filePath, Metadata: metadata}, nil
}

func (f *fakeAnnouncer) snapshot() []announcement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]announcement(nil), f.calls...)
}

func TestHandle_OnlyCreatedAnnounces(t *testing.T) {
	fa := &fakeAnnouncer{}
	b := New(fa, nil)
	ctx := t.Context()

	b.Handle(ctx, watch.Event{SourceAgent: "a1", FilePath: "/out/new.txt", Kind: watch.KindCreated})
	b.Handle(ctx, watch.Event{SourceAgent: "a1", FilePath: "/out/new.txt", Kind: watch.KindModified})
	b.Handle(ctx, watch.Event{SourceAgent: "a1", Kind: watch.KindError, Err: errors.New("overflow")})

	calls := fa.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "a1", calls[0].from)
	assert.Equal(t, "/out/new.txt", calls[0].path)
	assert.NotNil(t, calls[0].metadata)
	assert.Empty(t, calls[0].metadata)
}

func TestHandle_AnnounceFailureIsSwallowed(t *testing.T) {
	fa := &fakeAnnouncer{err: errors.New("store down")}
	b := New(fa, nil)

	assert.NotPanics(t, func() {
		b.Handle(t.Context(), watch.Event{SourceAgent: "a1", FilePath: "/out/x", Kind: watch.KindCreated})
	})
	assert.Len(t, fa.snapshot(), 1)
}

func TestRun_StopsWhenChannelCloses(t *testing.T) {
	fa := &fakeAnnouncer{}
	b := New(fa, nil)

	events := make(chan watch.Event, 2)
	events <- watch.Event{SourceAgent: "a1", FilePath: "/out/1", Kind: watch.KindCreated}
	events <- watch.Event{SourceAgent: "a2", FilePath: "/out/2", Kind: watch.KindCreated}
	close(events)

	require.NoError(t, b.Run(t.Context(), events))
	assert.Len(t, fa.snapshot(), 2)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	b := New(&fakeAnnouncer{}, nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, make(chan watch.Event)) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEndToEnd_FileDropWakesWaiterAndBroadcasts(t *testing.T) {
	ctx := t.Context()
	s := store.NewMockStore()
	reg := presence.NewRegistry(s, nil)
	hub := outputs.NewHub(nil)
	mail := mailbox.New(s, reg, hub, nil)
	outs := outputs.New(s, hub, mail, reg, outputs.Options{FallbackPollInterval: -1}, nil)
	svc := coordinator.New(reg, mail, outs, nil, coordinator.Options{}, nil)

	for _, id := range []string{"producer", "consumer"} {
		_, err := reg.Register(ctx, id, "/w/"+id, nil)
		require.NoError(t, err)
	}

	watcher := watch.New(watch.Options{
		StabilityThreshold: 20 * time.Millisecond,
		PollInterval:       5 * time.Millisecond,
		CreateDirs:         true,
	}, nil)
	defer watcher.Close()

	dir := filepath.Join(t.TempDir(), "outputs")
	require.NoError(t, watcher.Watch("producer", dir))

	b := New(svc, nil)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = b.Run(runCtx, watcher.Events()) }()

	type result struct {
		out *store.Output
		err error
	}
	waited := make(chan result, 1)
	go func() {
		out, err := outs.Wait(ctx, "consumer", "producer", 5*time.Second)
		waited <- result{out, err}
	}()
	require.Eventually(t, func() bool { return hub.Pending("producer") == 1 }, time.Second, time.Millisecond)

	path := filepath.Join(dir, "report.md")
	require.NoError(t, os.WriteFile(path, []byte("# done"), 0644))

	res := <-waited
	require.NoError(t, res.err)
	assert.Equal(t, path, res.out.FilePath)

	// the broadcast follows the wakeup, so it may land a moment later
	var msgs []*store.Message
	require.Eventually(t, func() bool {
		var err error
		msgs, err = mail.Receive(ctx, "consumer", false)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, store.MessageTypeNotification, msgs[0].Type)
	assert.Equal(t, path, msgs[0].FilePath)
}
