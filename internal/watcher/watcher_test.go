package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers settled events for assertion.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, want int) []Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if evs := c.snapshot(); len(evs) >= want {
			return evs
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %v", want, c.snapshot())
	return nil
}

func startWatcher(t *testing.T, root string) (*Watcher, *collector) {
	t.Helper()
	c := &collector{}
	w, err := New(root, c.add, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})
	return w, c
}

func TestWatcher_CoalescesWriteBursts(t *testing.T) {
	root := t.TempDir()
	_, c := startWatcher(t, root)

	path := filepath.Join(root, "main.go")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	events := c.waitFor(t, 1)
	// Rapid writes inside the debounce window settle as one event.
	assert.Len(t, events, 1)
	assert.Equal(t, path, events[0].Path)
	assert.False(t, events[0].Removed)
}

func TestWatcher_RemovalIsFlagged(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	_, c := startWatcher(t, root)
	require.NoError(t, os.Remove(path))

	events := c.waitFor(t, 1)
	last := events[len(events)-1]
	assert.Equal(t, path, last.Path)
	assert.True(t, last.Removed)
}

func TestWatcher_IgnoresNonSourceFiles(t *testing.T) {
	root := t.TempDir()
	_, c := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte("x = 1\n"), 0o644))

	events := c.waitFor(t, 1)
	for _, ev := range events {
		assert.Equal(t, filepath.Join(root, "app.py"), ev.Path)
	}
}

func TestWatcher_SeesNewDirectories(t *testing.T) {
	root := t.TempDir()
	_, c := startWatcher(t, root)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "util.go"), []byte("package pkg\n"), 0o644))

	events := c.waitFor(t, 1)
	assert.Equal(t, filepath.Join(sub, "util.go"), events[len(events)-1].Path)
}

func TestWatcher_CloseWithoutRun(t *testing.T) {
	w, err := New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
