package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	pkgkafka "github.com/rakrong1/ladicare-sub000/pkg/kafka"
	"github.com/rakrong1/ladicare-sub000/pkg/logger"
)

// Kafka topics for cart domain events.
var (
	TopicCartUpdated = pkgkafka.Topic("cart", "updated")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
)

// Event types carried in the envelope.
const (
	EventCartUpdated = "cart.updated"
	EventCartCleared = "cart.cleared"
)

const (
	AggregateTypeCart = "cart"
	SourceCartService = "cart-service"
)

// Publisher is the subset of pkg/kafka.Producer used to emit events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	OwnerKind   string         `json:"owner_kind"`
	OwnerID     string         `json:"owner_id"`
	Items       []CartItemData `json:"items"`
	ItemCount   int            `json:"item_count"`
	TotalAmount int64          `json:"total_amount"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
}

// Producer publishes cart domain events to Kafka. Events are keyed by
// "kind:id" so every change to one cart lands on the same partition.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the cart service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event carrying the reconciled cart.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Aggregate) error {
	items := make([]CartItemData, len(cart.Entries))
	for i, e := range cart.Entries {
		items[i] = CartItemData{
			ProductID: e.ProductID,
			VariantID: e.VariantID,
			Quantity:  e.Quantity,
			UnitPrice: e.UnitPrice,
		}
	}

	data := CartUpdatedData{
		OwnerKind:   string(cart.Owner.Kind()),
		OwnerID:     cart.Owner.ID(),
		Items:       items,
		ItemCount:   cart.ItemCount(),
		TotalAmount: cart.TotalAmount(),
	}

	if err := p.publish(ctx, TopicCartUpdated, EventCartUpdated, cart.Owner, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("owner", cart.Owner.String()),
		slog.Int("item_count", data.ItemCount),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, owner domain.OwnerKey) error {
	data := CartClearedData{OwnerKind: string(owner.Kind()), OwnerID: owner.ID()}
	if err := p.publish(ctx, TopicCartCleared, EventCartCleared, owner, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.cleared event", slog.String("owner", owner.String()))
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, eventType string, owner domain.OwnerKey, data any) error {
	agg := pkgkafka.Aggregate{Type: AggregateTypeCart, ID: owner.String()}
	event, err := pkgkafka.NewEvent(eventType, agg, SourceCartService, data)
	if err != nil {
		return err
	}
	event.CorrelationID = logger.CorrelationIDFromContext(ctx)

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}
