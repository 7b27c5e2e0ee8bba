package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/rakrong1/ladicare-sub000/pkg/kafka"
)

// Catalog topics whose events make cached product data stale.
var (
	TopicProductUpdated   = pkgkafka.Topic("product", "updated")
	TopicProductDeleted   = pkgkafka.Topic("product", "deleted")
	TopicInventoryUpdated = pkgkafka.Topic("inventory", "updated")
)

// InvalidationTopics lists every topic the cache invalidation consumer follows.
func InvalidationTopics() []string {
	return []string{TopicProductUpdated, TopicProductDeleted, TopicInventoryUpdated}
}

// CacheInvalidator drops cached catalog entries.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, productIDs ...string) error
}

// stockChangedData covers the inventory payload; product events carry the
// product id as their aggregate id.
type stockChangedData struct {
	ProductID string `json:"product_id"`
}

// InvalidationHandler returns a kafka handler that evicts the product an
// event refers to from the catalog cache, so the next cart read sees live
// stock and prices.
func InvalidationHandler(cache CacheInvalidator, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, ev *pkgkafka.Event) error {
		productID := ev.AggregateID
		if ev.AggregateType != "product" {
			var data stockChangedData
			if err := ev.Decode(&data); err == nil && data.ProductID != "" {
				productID = data.ProductID
			}
		}
		if productID == "" {
			logger.WarnContext(ctx, "catalog event without product id, ignoring",
				slog.String("event_type", ev.Type),
				slog.String("event_id", ev.ID),
			)
			return nil
		}

		if err := cache.Invalidate(ctx, productID); err != nil {
			return fmt.Errorf("invalidate product %s: %w", productID, err)
		}

		logger.DebugContext(ctx, "catalog cache entry invalidated",
			slog.String("product_id", productID),
			slog.String("event_type", ev.Type),
		)
		return nil
	}
}
