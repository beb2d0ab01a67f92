package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) goredis.Cmdable {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
}

func TestAllowSubscribeUnderCap(t *testing.T) {
	client := newTestClient(t)
	rl := New(client, Config{Cap: 2, Window: time.Hour}, nil)
	ctx := context.Background()

	ok, err := rl.AllowSubscribe(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rl.AllowSubscribe(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllowSubscribeBlocksOverCap(t *testing.T) {
	client := newTestClient(t)
	rl := New(client, Config{Cap: 1, Window: time.Hour}, nil)
	ctx := context.Background()

	ok, err := rl.AllowSubscribe(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rl.AllowSubscribe(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllowSubscribeAdminExempt(t *testing.T) {
	client := newTestClient(t)
	rl := New(client, Config{Cap: 1, Window: time.Hour}, func(chatID int64) bool { return chatID == 99 })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := rl.AllowSubscribe(ctx, 99)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestAllowSubscribeIsolatedPerChat(t *testing.T) {
	client := newTestClient(t)
	rl := New(client, Config{Cap: 1, Window: time.Hour}, nil)
	ctx := context.Background()

	ok, err := rl.AllowSubscribe(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rl.AllowSubscribe(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
}
