package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baizx98/PaGraph/pkg/store"
)

// Needs a running Redis; point PAGRAPH_TEST_REDIS at it (e.g. 127.0.0.1:6379).
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("PAGRAPH_TEST_REDIS")
	if addr == "" {
		t.Skip("PAGRAPH_TEST_REDIS is not set")
	}
	return addr
}

func TestRedisClient(t *testing.T) {
	ctx := context.Background()
	addr := redisAddr(t)

	rows := [][]float32{{0, 10}, {1, 11}, {2, 12}}
	require.NoError(t, store.PopulateRedis(ctx, addr, "features_test", rows))

	client := store.NewRedisClient(addr)
	defer client.Close()

	t.Run("it fetches populated rows by id", func(t *testing.T) {
		got, err := client.Fetch(ctx, "features_test", []int64{2, 0})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{2, 12}, {0, 10}}, got)
	})

	t.Run("it errors on a missing row", func(t *testing.T) {
		_, err := client.Fetch(ctx, "features_test", []int64{99})
		assert.Error(t, err)
	})
}
