package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.NewFile(0, os.DevNull), nil))
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  default_k: 5\n"), 0o644))

	initial, err := Load(dir)
	require.NoError(t, err)

	w, err := NewWatcher(dir, initial, discardLogger())
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Give the watcher a moment to arm before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  default_k: 9\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.Retrieval.DefaultK)
		assert.Equal(t, 9, w.Current().Retrieval.DefaultK)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_KeepsPreviousOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  default_k: 5\n"), 0o644))

	initial, err := Load(dir)
	require.NoError(t, err)

	w, err := NewWatcher(dir, initial, discardLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("retrieval: [broken\n"), 0o644))

	// The broken file must not displace the last good config.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 5, w.Current().Retrieval.DefaultK)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, NewConfig(), discardLogger())
	require.NoError(t, err)

	w.Stop()
	w.Stop()
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  default_k: 5\n"), 0o644))

	initial, err := Load(dir)
	require.NoError(t, err)

	w, err := NewWatcher(dir, initial, discardLogger())
	require.NoError(t, err)
	defer w.Stop()

	var count int
	w.OnReload(func(*Config) { count++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 0, count)
}
