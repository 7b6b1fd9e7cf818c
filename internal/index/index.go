// Package index mirrors provisioned usernames into Redis so the storefront
// can answer existence probes without a database round trip. The mirror is
// advisory: it is updated best-effort after the account record settles and
// may briefly lag it.
package index

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses a Redis URL, dials, and verifies the connection with a ping.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Printf("[Index] Connected to Redis at %s", opts.Addr)
	return client, nil
}

// Index keeps one set of active usernames per protocol family. The ssh and
// xray families have separate namespaces on the hosts, so a username may
// legitimately appear in both sets.
type Index struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Index {
	return &Index{rdb: rdb}
}

func familyKey(family string) string {
	return "active:" + family
}

// Add marks a username as existing within a protocol family.
func (i *Index) Add(ctx context.Context, family, username string) error {
	if err := i.rdb.SAdd(ctx, familyKey(family), username).Err(); err != nil {
		return fmt.Errorf("index add %s/%s: %w", family, username, err)
	}
	return nil
}

// Remove drops a username from a protocol family.
func (i *Index) Remove(ctx context.Context, family, username string) error {
	if err := i.rdb.SRem(ctx, familyKey(family), username).Err(); err != nil {
		return fmt.Errorf("index remove %s/%s: %w", family, username, err)
	}
	return nil
}

// Contains answers the storefront's existence probe.
func (i *Index) Contains(ctx context.Context, family, username string) (bool, error) {
	exists, err := i.rdb.SIsMember(ctx, familyKey(family), username).Result()
	if err != nil {
		return false, fmt.Errorf("index probe %s/%s: %w", family, username, err)
	}
	return exists, nil
}
