package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
)

const keyPrefix = "catalog:product:"

// ProductLookup fetches a single product by id.
type ProductLookup interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// Cache is a Redis read-through cache in front of a ProductLookup. Entries
// expire after a short TTL so stock read through it stays close to live.
// Redis failures degrade to a direct lookup.
type Cache struct {
	client *redis.Client
	next   ProductLookup
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps next with a Redis cache whose entries live for ttl.
func NewCache(client *redis.Client, next ProductLookup, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, next: next, ttl: ttl, logger: logger}
}

func cacheKey(productID string) string {
	return keyPrefix + productID
}

// GetProduct returns the cached product or loads and caches it.
func (c *Cache) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	key := cacheKey(productID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p productPayload
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil {
			return p.toDomain(), nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable catalog cache entry", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "catalog cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	product, err := c.next.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(payloadFromDomain(product)); err == nil {
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "catalog cache write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return product, nil
}

// Invalidate drops the cached entries for the given products.
func (c *Cache) Invalidate(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = cacheKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
