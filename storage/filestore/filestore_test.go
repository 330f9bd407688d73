package filestore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "gosession:record")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "gosession:record", "one"))
	require.NoError(t, s.Set(ctx, "gosession:record", "two"))

	v, ok, err := s.Get(ctx, "gosession:record")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "two", v)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")

	require.NoError(t, s.Remove(ctx, "gosession:record"))
	require.NoError(t, s.Remove(ctx, "gosession:record"))
	_, ok, err = s.Get(ctx, "gosession:record")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreSharedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := New(dir)
	require.NoError(t, err)
	b, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, "k", "from-a"))
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "from-a", v)
}

func TestKeyFromFile(t *testing.T) {
	key, ok := keyFromFile("/x/" + fileName("gosession:record"))
	require.True(t, ok)
	require.Equal(t, "gosession:record", key)

	_, ok = keyFromFile("/x/.tmp-123")
	require.False(t, ok)
	_, ok = keyFromFile("/x/notes.txt")
	require.False(t, ok)
}

func TestFileStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	watcher, err := New(dir)
	require.NoError(t, err)
	writer, err := New(dir)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	require.NoError(t, watcher.Watch(ctx, func(key string) {
		mu.Lock()
		seen[key]++
		mu.Unlock()
	}))

	require.NoError(t, writer.Set(ctx, "gosession:record", "v"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["gosession:record"] >= 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	before := seen["gosession:record"]
	mu.Unlock()

	require.NoError(t, writer.Remove(ctx, "gosession:record"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["gosession:record"] > before
	}, 2*time.Second, 10*time.Millisecond)
}
