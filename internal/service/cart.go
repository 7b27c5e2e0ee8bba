package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	"github.com/rakrong1/ladicare-sub000/internal/repository"
	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
)

// DefaultLookupConcurrency bounds parallel catalog lookups per cart read.
const DefaultLookupConcurrency = 8

// ProductCatalog resolves live product data: price, name, image and stock.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// EventPublisher emits cart domain events.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, cart *domain.Aggregate) error
	PublishCartCleared(ctx context.Context, owner domain.OwnerKey) error
}

// UpsertInput holds the parameters for adding a unit to the cart. A nil
// Quantity means 1.
type UpsertInput struct {
	ProductID string `json:"productId" validate:"required"`
	VariantID string `json:"variantId"`
	Quantity  *int   `json:"quantity"`
}

// SyncItem is one entry of a client-held cart snapshot.
type SyncItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// CartService implements the business logic for cart operations.
type CartService struct {
	repo              repository.CartLineRepository
	catalog           ProductCatalog
	events            EventPublisher
	logger            *slog.Logger
	lookupConcurrency int
	now               func() time.Time
}

// NewCartService creates a new cart service. lookupConcurrency <= 0 selects
// DefaultLookupConcurrency.
func NewCartService(
	repo repository.CartLineRepository,
	catalog ProductCatalog,
	events EventPublisher,
	logger *slog.Logger,
	lookupConcurrency int,
) *CartService {
	if lookupConcurrency <= 0 {
		lookupConcurrency = DefaultLookupConcurrency
	}
	return &CartService{
		repo:              repo,
		catalog:           catalog,
		events:            events,
		logger:            logger,
		lookupConcurrency: lookupConcurrency,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// GetCart returns the owner's reconciled cart. A read that had to clamp or
// evict lines announces the new cart like any other change.
func (s *CartService) GetCart(ctx context.Context, owner domain.OwnerKey) (*domain.Aggregate, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	agg, adjusted, err := s.loadAggregate(ctx, owner)
	if err != nil {
		return nil, err
	}
	if adjusted {
		s.publishUpdated(ctx, agg)
	}
	return agg, nil
}

// Upsert creates the line for (product, variant) or overwrites the quantity
// and captured price of the existing one. It never increments.
func (s *CartService) Upsert(ctx context.Context, owner domain.OwnerKey, input UpsertInput) (*domain.Aggregate, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	variantID := strings.TrimSpace(input.VariantID)

	quantity := 1
	if input.Quantity != nil {
		quantity = max(*input.Quantity, 1)
	}
	if quantity > domain.MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", domain.MaxQuantityPerItem))
	}

	offer, err := s.lookupOffer(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	line := &domain.CartLine{
		ID:        uuid.New().String(),
		Owner:     owner,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
		UnitPrice: offer.UnitPrice,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.repo.Upsert(ctx, line); err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}

	s.logger.InfoContext(ctx, "cart line upserted",
		slog.String("product_id", productID),
		slog.String("variant_id", variantID),
		slog.Int("quantity", quantity),
	)

	return s.afterMutation(ctx, owner)
}

// UpdateQuantity sets the quantity of an existing line. Negative quantities
// count as zero and zero removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, owner domain.OwnerKey, productID, variantID string, quantity int) (*domain.Aggregate, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	variantID = strings.TrimSpace(variantID)

	quantity = max(quantity, 0)
	if quantity == 0 {
		return s.Remove(ctx, owner, productID, variantID)
	}
	if quantity > domain.MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", domain.MaxQuantityPerItem))
	}

	key := domain.LineKey{ProductID: productID, VariantID: variantID}
	if err := s.repo.UpdateQuantity(ctx, owner, key, quantity); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("cart item", productID)
		}
		return nil, fmt.Errorf("update cart line quantity: %w", err)
	}

	s.logger.InfoContext(ctx, "cart line quantity updated",
		slog.String("product_id", productID),
		slog.String("variant_id", variantID),
		slog.Int("quantity", quantity),
	)

	return s.afterMutation(ctx, owner)
}

// Remove deletes the line for (product, variant). Removing a line that does
// not exist returns the unchanged cart.
func (s *CartService) Remove(ctx context.Context, owner domain.OwnerKey, productID, variantID string) (*domain.Aggregate, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	key := domain.LineKey{ProductID: productID, VariantID: strings.TrimSpace(variantID)}
	if err := s.repo.Delete(ctx, owner, key); err != nil {
		return nil, fmt.Errorf("remove cart line: %w", err)
	}

	s.logger.InfoContext(ctx, "cart line removed",
		slog.String("product_id", key.ProductID),
		slog.String("variant_id", key.VariantID),
	)

	return s.afterMutation(ctx, owner)
}

// Clear deletes every line of the owner. It is idempotent.
func (s *CartService) Clear(ctx context.Context, owner domain.OwnerKey) (*domain.Aggregate, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	removed, err := s.repo.DeleteAll(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	if removed > 0 {
		if err := s.events.PublishCartCleared(ctx, owner); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "cart cleared", slog.Int64("removed", removed))

	return &domain.Aggregate{Owner: owner, Entries: []domain.AggregateEntry{}}, nil
}

// Sync replaces the owner's cart with items. Items without a product id, with
// a quantity outside 1..MaxQuantityPerItem, or naming an unknown product or
// variant are skipped. Duplicate keys collapse to the last occurrence. The
// replacement is atomic. A catalog outage aborts the sync without touching
// the stored cart.
func (s *CartService) Sync(ctx context.Context, owner domain.OwnerKey, items []SyncItem) (*domain.Aggregate, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	candidates := s.collapseSyncItems(ctx, items)

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ProductID
	}
	products := s.lookupProducts(ctx, ids)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	lines := make([]domain.CartLine, 0, len(candidates))
	for _, c := range candidates {
		res := products[c.ProductID]
		if res.err != nil && !productRefused(res.err) {
			return nil, fmt.Errorf("sync cart: lookup product %s: %w", c.ProductID, res.err)
		}
		var (
			offer domain.Offer
			ok    bool
		)
		if res.err == nil && res.product != nil {
			offer, ok = res.product.Offer(c.VariantID)
		}
		if !ok {
			attrs := []any{
				slog.String("product_id", c.ProductID),
				slog.String("variant_id", c.VariantID),
			}
			reason := "unknown product"
			if res.err != nil && !errors.Is(res.err, apperrors.ErrNotFound) {
				reason = "refused by catalog"
				attrs = append(attrs, slog.String("error", res.err.Error()))
			}
			attrs = append(attrs, slog.String("reason", reason))
			s.logger.WarnContext(ctx, "sync item skipped", attrs...)
			continue
		}

		// Earlier items get later timestamps so the cart reads back in input order.
		createdAt := now.Add(-time.Duration(len(lines)) * time.Microsecond)
		lines = append(lines, domain.CartLine{
			ID:        uuid.New().String(),
			Owner:     owner,
			ProductID: c.ProductID,
			VariantID: c.VariantID,
			Quantity:  c.Quantity,
			UnitPrice: offer.UnitPrice,
			CreatedAt: createdAt,
			UpdatedAt: now,
		})
	}

	if err := s.repo.ReplaceAll(ctx, owner, lines); err != nil {
		return nil, fmt.Errorf("sync cart: %w", err)
	}

	s.logger.InfoContext(ctx, "cart synced",
		slog.Int("requested", len(items)),
		slog.Int("stored", len(lines)),
	)

	return s.afterMutation(ctx, owner)
}

// collapseSyncItems drops invalid items and keeps the last occurrence of each
// key, in first-seen order.
func (s *CartService) collapseSyncItems(ctx context.Context, items []SyncItem) []SyncItem {
	out := make([]SyncItem, 0, len(items))
	index := make(map[domain.LineKey]int, len(items))
	for _, it := range items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		it.VariantID = strings.TrimSpace(it.VariantID)
		if it.ProductID == "" || it.Quantity <= 0 || it.Quantity > domain.MaxQuantityPerItem {
			s.logger.WarnContext(ctx, "sync item skipped: invalid",
				slog.String("product_id", it.ProductID),
				slog.Int("quantity", it.Quantity),
			)
			continue
		}
		key := domain.LineKey{ProductID: it.ProductID, VariantID: it.VariantID}
		if i, ok := index[key]; ok {
			out[i] = it
			continue
		}
		index[key] = len(out)
		out = append(out, it)
	}
	return out
}

func (s *CartService) lookupOffer(ctx context.Context, productID, variantID string) (domain.Offer, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.Offer{}, apperrors.NotFound("product", productID)
		}
		return domain.Offer{}, fmt.Errorf("lookup product %s: %w", productID, err)
	}
	offer, ok := product.Offer(variantID)
	if !ok {
		return domain.Offer{}, apperrors.NotFound("product variant", variantID)
	}
	return offer, nil
}

// afterMutation recomputes the cart and announces the change.
func (s *CartService) afterMutation(ctx context.Context, owner domain.OwnerKey) (*domain.Aggregate, error) {
	agg, _, err := s.loadAggregate(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, agg)
	return agg, nil
}

// publishUpdated emits cart.updated. A failed publish is logged only.
func (s *CartService) publishUpdated(ctx context.Context, agg *domain.Aggregate) {
	if err := s.events.PublishCartUpdated(ctx, agg); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("error", err.Error()),
		)
	}
}

// productRefused reports whether a catalog lookup failed because of the
// product itself (unknown, malformed id, refused) rather than an outage.
// Only an outage aborts a sync.
func productRefused(err error) bool {
	if errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrRejected) {
		return true
	}
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.Status < http.StatusInternalServerError
}

func validateOwner(owner domain.OwnerKey) error {
	if err := owner.Validate(); err != nil {
		return apperrors.InvalidInput("a session or user owner is required")
	}
	return nil
}
