package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NameSource is the backing directory consulted on a cache miss.
type NameSource interface {
	GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// CachedDirectory is a read-through display-name cache. Redis failures fall
// back to the source so a cache outage never breaks a lookup.
type CachedDirectory struct {
	client *redis.Client
	source NameSource
	ttl    time.Duration
}

func NewCachedDirectory(client *redis.Client, source NameSource, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		client: client,
		source: source,
		ttl:    ttl,
	}
}

func nameKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:name:%s", userID.String())
}

func (c *CachedDirectory) GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	key := nameKey(userID)

	name, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return name, nil
	}

	name, srcErr := c.source.GetDisplayName(ctx, userID)
	if srcErr != nil {
		return "", srcErr
	}

	if errors.Is(err, redis.Nil) {
		_ = c.client.Set(ctx, key, name, c.ttl).Err()
	}
	return name, nil
}

