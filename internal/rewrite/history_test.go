package rewrite

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestHistoryStore(t *testing.T, maxTurns int) *RedisHistoryStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisHistoryStore(RedisHistoryConfig{Addr: mr.Addr(), MaxTurns: maxTurns})
}

func TestRedisHistoryStore_AppendAndHistoryRoundTrip(t *testing.T) {
	store := newTestHistoryStore(t, 10)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Append(ctx, "conv1", model.ConversationTurn{Role: model.RoleUser, Content: "hi", TS: now}))
	require.NoError(t, store.Append(ctx, "conv1", model.ConversationTurn{Role: model.RoleAssistant, Content: "hello", TS: now}))

	turns, err := store.History(ctx, "conv1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "hi", turns[0].Content)
	require.Equal(t, "hello", turns[1].Content)
}

func TestRedisHistoryStore_RingIsBoundedToMaxTurns(t *testing.T) {
	store := newTestHistoryStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "conv1", model.ConversationTurn{Role: model.RoleUser, Content: string(rune('a' + i))}))
	}

	turns, err := store.History(ctx, "conv1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	require.Equal(t, "c", turns[0].Content)
	require.Equal(t, "d", turns[1].Content)
	require.Equal(t, "e", turns[2].Content)
}

func TestRedisHistoryStore_UnknownConversationReturnsEmpty(t *testing.T) {
	store := newTestHistoryStore(t, 10)
	turns, err := store.History(context.Background(), "never-seen", 10)
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestRedisHistoryStore_ClearRemovesHistory(t *testing.T) {
	store := newTestHistoryStore(t, 10)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "conv1", model.ConversationTurn{Role: model.RoleUser, Content: "hi"}))

	require.NoError(t, store.Clear(ctx, "conv1"))

	turns, err := store.History(ctx, "conv1", 10)
	require.NoError(t, err)
	require.Empty(t, turns)
}
