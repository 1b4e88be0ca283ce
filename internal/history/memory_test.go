package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks for both implementations.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PGStore)(nil)
)

func TestMemoryStoreAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Append(ctx, "sess-1", "user", "hello"))
	require.NoError(t, s.Append(ctx, "sess-1", "assistant", "hi there"))
	require.NoError(t, s.Append(ctx, "sess-2", "user", "unrelated"))

	turns, err := s.Recent(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestMemoryStoreRecentLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, "sess", "user", fmt.Sprintf("msg-%d", i)))
	}

	turns, err := s.Recent(ctx, "sess", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "msg-3", turns[0].Content)
	assert.Equal(t, "msg-4", turns[1].Content)
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	turns, err := s.Recent(context.Background(), "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}
