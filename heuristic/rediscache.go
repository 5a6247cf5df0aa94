package heuristic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sor/router-core/graph"
)

// RedisCache is an optional distributed heuristic cache (SPEC_FULL §B),
// used when multiple router instances share a graph topology and want to
// avoid recomputing the same reverse-Dijkstra table per process. No file in
// the reference corpus exercises go-redis directly — only its presence in a
// sibling example's dependency manifest — so this package follows the
// client's own documented API shape rather than a corpus usage pattern; see
// DESIGN.md.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(key Key) string {
	return "sor:heuristic:" + key.String()
}

func (c *RedisCache) Get(key Key) (Table, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	raw, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}

	var encoded map[int32]float64
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, false
	}

	table := make(Table, len(encoded))
	for tokenID, dist := range encoded {
		table[graph.TokenID(tokenID)] = dist
	}
	return table, true
}

func (c *RedisCache) Put(key Key, table Table) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	encoded := make(map[int32]float64, len(table))
	for tokenID, dist := range table {
		encoded[int32(tokenID)] = dist
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return
	}
	// Last writer wins, same as MemCache; errors are swallowed since a miss
	// on the next Get just falls back to recomputation.
	c.client.Set(ctx, redisKey(key), raw, c.ttl)
}

// Invalidate removes every key matching the given (tokenCount, edgeCount)
// shape; see MemCache.Invalidate for the calling contract.
func (c *RedisCache) Invalidate(tokenCount, edgeCount int) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	pattern := fmt.Sprintf("sor:heuristic:%d:%d:*", tokenCount, edgeCount)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}
