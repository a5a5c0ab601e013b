package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitWake(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Wake():
	case <-time.After(5 * time.Second):
		t.Fatal("no wake-up received")
	}
}

func startWatcher(t *testing.T, dirs ...string) *Watcher {
	t.Helper()
	w, err := NewWatcher(dirs, 10*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})
	return w
}

func TestWatcher_WakesOnNewFile(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "PL_20240115.m3u"), nil, 0644))
	waitWake(t, w)
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	waitWake(t, w)

	select {
	case <-w.Wake():
		// a late event may have restarted the timer after the first signal
	case <-time.After(100 * time.Millisecond):
	}
	require.Len(t, w.Wake(), 0)
}

func TestWatcher_MissingDirectoryIsPickedUpWhenCreated(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "drop")
	w := startWatcher(t, dir)

	require.NoError(t, os.Mkdir(dir, 0755))
	waitWake(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.m3u"), nil, 0644))
	waitWake(t, w)
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "drop")
	require.NoError(t, os.Mkdir(dir, 0755))
	w := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(parent, "unrelated"), nil, 0644))
	select {
	case <-w.Wake():
		t.Fatal("sibling file must not wake the scheduler")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher([]string{t.TempDir()}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWakeDebounce(t *testing.T) {
	require.Equal(t, DefaultDebounceDelay, WakeDebounce(0))
	require.Greater(t, WakeDebounce(time.Second), time.Second)
	require.Greater(t, WakeDebounce(30*time.Second), 30*time.Second)
}
