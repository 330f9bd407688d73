package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreGetSetRemove(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, s.Remove(ctx, "k"))
	require.Equal(t, 0, s.Len())
}

func TestStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()

	var seen []string
	require.NoError(t, s.Watch(ctx, func(key string) { seen = append(seen, key) }))

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Remove(ctx, "a"))
	require.NoError(t, s.Remove(ctx, "missing"))

	require.Equal(t, []string{"a", "a"}, seen)
}
