package persona

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherInstallsWrittenDocument(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(Config{Dir: dir})
	r.LoadAll()

	w, err := NewWatcher(r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "nova.yaml"), []byte("id: nova\nname: Nova\n"), 0o644))

	require.Eventually(t, func() bool {
		_, ok := r.Get("nova")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherDropsRemovedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nova.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: nova\nname: Nova\n"), 0o644))

	r := NewRegistry(Config{Dir: dir})
	r.LoadAll()
	_, ok := r.Get("nova")
	require.True(t, ok)

	w, err := NewWatcher(r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, ok := r.Get("nova")
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherKeepsLastGoodSpecOnMalformedWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nova.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: nova\nname: Nova\n"), 0o644))

	r := NewRegistry(Config{Dir: dir})
	r.LoadAll()

	w, err := NewWatcher(r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("id: [broken"), 0o644))

	// Give the watcher a moment to process, then confirm the old spec
	// is still being served.
	time.Sleep(200 * time.Millisecond)
	spec, ok := r.Get("nova")
	require.True(t, ok)
	assert.Equal(t, "Nova", spec.Name)
}
