// ABOUTME: Tests for the waiter hub
// ABOUTME: Verifies drain-and-clear, removal semantics and copy-on-wake

package outputs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-guardian/internal/store"
)

func TestHub_WakeWithoutWaiters(t *testing.T) {
	h := NewHub(nil)
	assert.Zero(t, h.Wake(&store.Output{AgentID: "a1", FilePath: "/x"}))
}

func TestHub_WakeDrainsOnlyThatAgent(t *testing.T) {
	h := NewHub(nil)
	w1 := h.register("a1")
	w2 := h.register("a1")
	other := h.register("a2")

	n := h.Wake(&store.Output{AgentID: "a1", FilePath: "/x", Metadata: map[string]any{"k": "v"}})
	assert.Equal(t, 2, n)
	assert.Zero(t, h.Pending("a1"))
	assert.Equal(t, 1, h.Pending("a2"))

	got1 := <-w1.ch
	got2 := <-w2.ch
	assert.Equal(t, "/x", got1.FilePath)
	got1.Metadata["k"] = "changed"
	assert.Equal(t, "v", got2.Metadata["k"])

	// drained waiters report that they were already resolved
	assert.False(t, h.remove("a1", w1.id))
	assert.True(t, h.remove("a2", other.id))
	assert.Zero(t, h.Total())
}

func TestHub_RemoveUnknown(t *testing.T) {
	h := NewHub(nil)
	assert.False(t, h.remove("nobody", "nothing"))

	w := h.register("a1")
	assert.False(t, h.remove("a1", "nothing"))
	assert.True(t, h.remove("a1", w.id))
	assert.False(t, h.remove("a1", w.id))
}

func TestHub_SecondWakeFindsNothing(t *testing.T) {
	h := NewHub(nil)
	w := h.register("a1")

	require.Equal(t, 1, h.Wake(&store.Output{AgentID: "a1", FilePath: "/first"}))
	assert.Zero(t, h.Wake(&store.Output{AgentID: "a1", FilePath: "/second"}))

	got := <-w.ch
	assert.Equal(t, "/first", got.FilePath)
}
