// Package redis implements the store interfaces on top of a Redis
// instance. Task and node records are stored as JSON blobs under
// prefixed keys with a set per entity tracking the known IDs, so bulk
// reads pipeline cleanly and listing never scans the whole keyspace.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dialTimeout bounds the initial connectivity check.
const dialTimeout = 5 * time.Second

// NewClient connects to the Redis instance at addr and verifies the
// connection with a ping before returning the client.
func NewClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}
