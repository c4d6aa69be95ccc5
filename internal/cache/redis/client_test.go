package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cot-reflect/backend/internal/storage/models"
)

// newTestClient connects to the redis named by REDIS_TEST_ADDR and skips the
// test when it is unset or unreachable.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("redis at %s unreachable: %v", addr, err)
	}

	c := Wrap(rdb, time.Minute, fmt.Sprintf("test-%d:", time.Now().UnixNano()))
	t.Cleanup(func() {
		c.Flush(context.Background())
		c.Close()
	})
	return c
}

func TestSnapshotCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetSnapshot(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := &models.Snapshot{
		ID:         7,
		Name:       "cached",
		UserPrompt: "q",
		CreatedAt:  time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		Tags:       "a,b",
	}
	require.NoError(t, c.SetSnapshot(ctx, snap))

	got, ok, err := c.GetSnapshot(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Name, got.Name)
	assert.True(t, snap.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, c.DeleteSnapshot(ctx, 7))
	_, ok, err = c.GetSnapshot(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyNamespacing(t *testing.T) {
	c := Wrap(nil, time.Minute, "cot-reflect:")
	assert.Equal(t, "cot-reflect:snapshot:12", c.key(12))
}
