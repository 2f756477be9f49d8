// ABOUTME: Tests for output announcement and waiting
// ABOUTME: Covers every wait/announce ordering, timeouts, broadcasts and the fallback poll

package outputs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/mailbox"
	"github.com/2389/coven-guardian/internal/presence"
	"github.com/2389/coven-guardian/internal/store"
)

type fixture struct {
	store    *store.MockStore
	registry *presence.Registry
	mail     *mailbox.Service
	hub      *Hub
	svc      *Service
}

func newFixture(t *testing.T, poll time.Duration, agents ...string) *fixture {
	t.Helper()
	s := store.NewMockStore()
	reg := presence.NewRegistry(s, nil)
	for _, id := range agents {
		_, err := reg.Register(t.Context(), id, "/w/"+id, nil)
		require.NoError(t, err)
	}
	hub := NewHub(nil)
	mail := mailbox.New(s, reg, hub, nil)
	svc := New(s, hub, mail, reg, Options{FallbackPollInterval: poll}, nil)
	return &fixture{store: s, registry: reg, mail: mail, hub: hub, svc: svc}
}

// waitAsync starts Wait in a goroutine and returns a channel with its result.
func waitAsync(ctx context.Context, svc *Service, waiting, from string, timeout time.Duration) <-chan result {
	ch := make(chan result, 1)
	go func() {
		out, err := svc.Wait(ctx, waiting, from, timeout)
		ch <- result{out, err}
	}()
	return ch
}

type result struct {
	out *store.Output
	err error
}

func TestWait_BeforeAndAfterAnnounceAgree(t *testing.T) {
	f := newFixture(t, -1, "a1", "w1")
	ctx := t.Context()

	pending := waitAsync(ctx, f.svc, "w1", "a1", 5*time.Second)
	require.Eventually(t, func() bool { return f.hub.Pending("a1") == 1 }, time.Second, time.Millisecond)

	announced, err := f.svc.Announce(ctx, "a1", "/out/x.txt", map[string]any{"kind": "report"})
	require.NoError(t, err)

	before := <-pending
	require.NoError(t, before.err)
	assert.Equal(t, announced.ID, before.out.ID)
	assert.Equal(t, "/out/x.txt", before.out.FilePath)
	assert.Equal(t, "a1", before.out.AgentID)

	after, err := f.svc.Wait(ctx, "w1", "a1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, announced.ID, after.ID)
	assert.Equal(t, "/out/x.txt", after.FilePath)
	assert.Equal(t, "report", after.Metadata["kind"])

	assert.Zero(t, f.hub.Total())
}

func TestWait_TimesOutAndLeavesNoWaiter(t *testing.T) {
	f := newFixture(t, -1, "a1", "w1")
	ctx := t.Context()

	start := time.Now()
	out, err := f.svc.Wait(ctx, "w1", "a1", time.Millisecond)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, coord.ErrOutputTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, f.hub.Total())

	_, err = f.svc.Announce(ctx, "a1", "/out/late.txt", nil)
	require.NoError(t, err)
	assert.Zero(t, f.hub.Total())
}

func TestWait_NonPositiveTimeoutFailsFast(t *testing.T) {
	f := newFixture(t, -1, "a1")

	for _, timeout := range []time.Duration{0, -time.Second} {
		t.Run(timeout.String(), func(t *testing.T) {
			_, err := f.svc.Wait(t.Context(), "w1", "a1", timeout)
			assert.ErrorIs(t, err, coord.ErrOutputTimeout)
			assert.ErrorIs(t, err, coord.ErrInvalidArgument)
			assert.Zero(t, f.hub.Total())
		})
	}
}

func TestWait_UnregisteredSourceStillWorks(t *testing.T) {
	f := newFixture(t, -1, "w1")
	ctx := t.Context()

	require.NoError(t, f.store.InsertOutput(ctx, &store.Output{AgentID: "not-yet-registered", FilePath: "/out/early.txt"}))

	out, err := f.svc.Wait(ctx, "w1", "not-yet-registered", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/out/early.txt", out.FilePath)
}

func TestAnnounce_BroadcastsToEveryoneElse(t *testing.T) {
	f := newFixture(t, -1, "a1", "a2", "a3")
	ctx := t.Context()

	out, err := f.svc.Announce(ctx, "a1", "/out/x.txt", map[string]any{})
	require.NoError(t, err)
	assert.Positive(t, out.ID)

	for _, id := range []string{"a2", "a3"} {
		msgs, err := f.mail.Receive(ctx, id, true)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "agent %s", id)
		assert.Equal(t, store.MessageTypeNotification, msgs[0].Type)
		assert.Equal(t, "a1", msgs[0].FromAgentID)
		assert.Equal(t, "/out/x.txt", msgs[0].FilePath)
		assert.Contains(t, msgs[0].Content, "/out/x.txt")
	}

	msgs, err := f.mail.Receive(ctx, "a1", true)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	latest, err := f.store.GetLatestOutput(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, out.ID, latest.ID)
}

func TestAnnounce_UnregisteredSourcePersistsWithoutBroadcast(t *testing.T) {
	f := newFixture(t, -1, "a2")
	ctx := t.Context()

	pending := waitAsync(ctx, f.svc, "a2", "ghost", 5*time.Second)
	require.Eventually(t, func() bool { return f.hub.Pending("ghost") == 1 }, time.Second, time.Millisecond)

	_, err := f.svc.Announce(ctx, "ghost", "/out/g.txt", nil)
	require.NoError(t, err)

	res := <-pending
	require.NoError(t, res.err)
	assert.Equal(t, "/out/g.txt", res.out.FilePath)

	msgs, err := f.mail.Receive(ctx, "a2", true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAnnounce_Validates(t *testing.T) {
	f := newFixture(t, -1, "a1")

	_, err := f.svc.Announce(t.Context(), "", "/out/x", nil)
	assert.ErrorIs(t, err, coord.ErrInvalidArgument)
	_, err = f.svc.Announce(t.Context(), "a1", "", nil)
	assert.ErrorIs(t, err, coord.ErrInvalidArgument)
}

func TestAnnounce_StoreFailureWakesNobody(t *testing.T) {
	f := newFixture(t, -1, "a1", "w1")
	ctx := t.Context()

	pending := waitAsync(ctx, f.svc, "w1", "a1", 5*time.Second)
	require.Eventually(t, func() bool { return f.hub.Pending("a1") == 1 }, time.Second, time.Millisecond)

	f.store.SetFailure(assert.AnError)
	_, err := f.svc.Announce(ctx, "a1", "/out/x.txt", nil)
	assert.ErrorIs(t, err, coord.ErrStoreUnavailable)
	assert.Equal(t, 1, f.hub.Pending("a1"))

	f.store.SetFailure(nil)
	_, err = f.svc.Announce(ctx, "a1", "/out/y.txt", nil)
	require.NoError(t, err)

	res := <-pending
	require.NoError(t, res.err)
	assert.Equal(t, "/out/y.txt", res.out.FilePath)
}

func TestAnnounce_WakesAllConcurrentWaiters(t *testing.T) {
	f := newFixture(t, -1, "a1")
	ctx := t.Context()

	const n = 5
	results := make([]<-chan result, n)
	for i := range results {
		results[i] = waitAsync(ctx, f.svc, fmt.Sprintf("w%d", i), "a1", 5*time.Second)
	}
	require.Eventually(t, func() bool { return f.hub.Pending("a1") == n }, time.Second, time.Millisecond)

	_, err := f.svc.Announce(ctx, "a1", "/out/shared.txt", nil)
	require.NoError(t, err)

	for _, ch := range results {
		res := <-ch
		require.NoError(t, res.err)
		assert.Equal(t, "/out/shared.txt", res.out.FilePath)
	}
	assert.Zero(t, f.hub.Total())
}

func TestWait_OutputReadyMessageBeforeAndAfterAgree(t *testing.T) {
	f := newFixture(t, -1, "a1", "a2", "a3")
	ctx := t.Context()

	pending := waitAsync(ctx, f.svc, "a2", "a1", 5*time.Second)
	require.Eventually(t, func() bool { return f.hub.Pending("a1") == 1 }, time.Second, time.Millisecond)

	_, err := f.mail.Send(ctx, "a1", "a2", store.MessageTypeOutputReady, "done", "/out/msg.txt")
	require.NoError(t, err)

	before := <-pending
	require.NoError(t, before.err)
	assert.Equal(t, "/out/msg.txt", before.out.FilePath)
	assert.Equal(t, "a1", before.out.AgentID)
	assert.Positive(t, before.out.ID)

	after, err := f.svc.Wait(ctx, "a3", "a1", 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, before.out.ID, after.ID)
	assert.Equal(t, "/out/msg.txt", after.FilePath)

	// the message is the only notification; a3 gets no broadcast
	msgs, err := f.mail.Receive(ctx, "a3", true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestWait_FallbackPollFindsUnannouncedRecord(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond, "a1")
	ctx := t.Context()

	pending := waitAsync(ctx, f.svc, "w1", "a1", 5*time.Second)
	require.Eventually(t, func() bool { return f.hub.Pending("a1") == 1 }, time.Second, time.Millisecond)

	// written without going through Announce, so no wakeup is sent
	require.NoError(t, f.store.InsertOutput(ctx, &store.Output{AgentID: "a1", FilePath: "/out/side.txt"}))

	select {
	case res := <-pending:
		require.NoError(t, res.err)
		assert.Equal(t, "/out/side.txt", res.out.FilePath)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback poll never found the record")
	}
	assert.Zero(t, f.hub.Total())
}

func TestWait_ContextCancellation(t *testing.T) {
	f := newFixture(t, -1, "a1")
	ctx, cancel := context.WithCancel(t.Context())

	pending := waitAsync(ctx, f.svc, "w1", "a1", time.Minute)
	require.Eventually(t, func() bool { return f.hub.Pending("a1") == 1 }, time.Second, time.Millisecond)
	cancel()

	res := <-pending
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Zero(t, f.hub.Total())
}

func TestWaitAnnounceRace_NoMissedWakeups(t *testing.T) {
	for i := 0; i < 100; i++ {
		f := newFixture(t, -1, "a1")
		ctx := t.Context()

		var wg sync.WaitGroup
		var waitErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, waitErr = f.svc.Wait(ctx, "w1", "a1", 5*time.Second)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Announce(ctx, "a1", fmt.Sprintf("/out/%d.txt", i), nil)
		}()
		wg.Wait()

		require.NoError(t, waitErr, "iteration %d", i)
		require.Zero(t, f.hub.Total(), "iteration %d", i)
	}
}

func TestSince(t *testing.T) {
	f := newFixture(t, -1, "a1", "a2")
	ctx := t.Context()
	start := time.Now().Add(-time.Millisecond)

	_, err := f.svc.Announce(ctx, "a1", "/out/1", nil)
	require.NoError(t, err)
	_, err = f.svc.Announce(ctx, "a2", "/out/2", nil)
	require.NoError(t, err)

	outs, err := f.svc.Since(ctx, start)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, "/out/2", outs[0].FilePath)
}
