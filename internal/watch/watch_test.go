// ABOUTME: Tests for the directory watch service
// ABOUTME: Exercises real fsnotify watches on temp directories

package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Options{
		StabilityThreshold: 50 * time.Millisecond,
		PollInterval:       10 * time.Millisecond,
		DedupeTTL:          time.Minute,
		CreateDirs:         true,
	}, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nextEvent(t *testing.T, s *Service, kind Kind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "events channel closed")
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", kind)
		}
	}
}

func assertNoCreated(t *testing.T, s *Service, within time.Duration) {
	t.Helper()
	timeout := time.After(within)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == KindCreated {
				t.Fatalf("unexpected created event for %s", ev.FilePath)
			}
		case <-timeout:
			return
		}
	}
}

func TestWatch_ReportsCreatedFileOnce(t *testing.T) {
	s := newTestService(t)
	dir := filepath.Join(t.TempDir(), "outputs")
	require.NoError(t, s.Watch("a1", dir))

	path := filepath.Join(dir, "result.txt")
	require.NoError(t, os.WriteFile(path, []byte("done"), 0644))

	ev := nextEvent(t, s, KindCreated)
	assert.Equal(t, "a1", ev.SourceAgent)
	assert.Equal(t, path, ev.FilePath)
	assert.Equal(t, dir, ev.Dir)

	assertNoCreated(t, s, 200*time.Millisecond)
}

func TestWatch_IgnoresExistingFilesAndDirectories(t *testing.T) {
	s := newTestService(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("x"), 0644))

	require.NoError(t, s.Watch("a1", dir))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	assertNoCreated(t, s, 200*time.Millisecond)
}

func TestWatch_ReplaceMovesToNewDirectory(t *testing.T) {
	s := newTestService(t)
	first := t.TempDir()
	second := t.TempDir()

	require.NoError(t, s.Watch("a1", first))
	require.NoError(t, s.Watch("a1", second))

	dir, ok := s.Dir("a1")
	require.True(t, ok)
	assert.Equal(t, second, dir)

	require.NoError(t, os.WriteFile(filepath.Join(first, "ignored.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "seen.txt"), []byte("x"), 0644))

	ev := nextEvent(t, s, KindCreated)
	assert.Equal(t, filepath.Join(second, "seen.txt"), ev.FilePath)
}

func TestUnwatch(t *testing.T) {
	s := newTestService(t)
	dir := t.TempDir()

	require.NoError(t, s.Watch("a1", dir))
	assert.True(t, s.Unwatch("a1"))
	assert.False(t, s.Unwatch("a1"))

	_, ok := s.Dir("a1")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "after.txt"), []byte("x"), 0644))
	assertNoCreated(t, s, 200*time.Millisecond)
}

func TestWatch_MissingDirWithoutCreate(t *testing.T) {
	s := New(Options{}, nil)
	defer s.Close()

	err := s.Watch("a1", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestClose_ClosesEventsAndRejectsWatch(t *testing.T) {
	s := New(Options{CreateDirs: true}, nil)
	require.NoError(t, s.Watch("a1", t.TempDir()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, ok := <-s.Events()
	assert.False(t, ok)

	assert.ErrorIs(t, s.Watch("a2", t.TempDir()), ErrClosed)
}
