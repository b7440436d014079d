package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

// RedisClient reads tensor rows from a Redis instance populated by
// cmd/pagraph-store in redis mode.
type RedisClient struct {
	rdb *redis.Client
}

func NewRedisClient(addr string) *RedisClient {
	return &RedisClient{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// RowKey is the key of one tensor row.
func RowKey(name string, gid int64) string {
	return fmt.Sprintf("feat:%s:%d", name, gid)
}

func (c *RedisClient) Fetch(ctx context.Context, name string, ids []int64) ([][]float32, error) {
	keys := make([]string, len(ids))
	for nth, gid := range ids {
		keys[nth] = RowKey(name, gid)
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xe.WrapWithNote("redis mget", err)
	}

	rows := make([][]float32, len(ids))
	for nth, val := range vals {
		s, ok := val.(string)
		if !ok {
			return nil, xe.Wrap(fmt.Errorf("tensor %q has no row for node %d", name, ids[nth]))
		}
		row, err := DecodeRow([]byte(s))
		if err != nil {
			return nil, err
		}
		rows[nth] = row
	}
	return rows, nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

// PopulateRedis writes a dense tensor into Redis, one key per row, in
// pipelined chunks. Row nth belongs to global node id nth.
func PopulateRedis(ctx context.Context, addr, name string, rows [][]float32) error {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	const chunk = 2048
	for lo := 0; lo < len(rows); lo += chunk {
		hi := lo + chunk
		if len(rows) < hi {
			hi = len(rows)
		}
		pipe := rdb.Pipeline()
		for nth := lo; nth < hi; nth++ {
			pipe.Set(ctx, RowKey(name, int64(nth)), EncodeRow(rows[nth]), 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return xe.WrapWithNote("redis populate", err)
		}
	}
	return nil
}
