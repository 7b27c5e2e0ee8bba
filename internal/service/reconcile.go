package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
	"github.com/rakrong1/ladicare-sub000/pkg/tracing"
)

type lookupResult struct {
	product *domain.Product
	err     error
}

// lookupProducts fetches every distinct product concurrently, at most
// s.lookupConcurrency at a time. Per-product failures are returned in the
// map rather than aborting the batch.
func (s *CartService) lookupProducts(ctx context.Context, productIDs []string) map[string]lookupResult {
	unique := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	ctx, span := tracing.Tracer("catalog").Start(ctx, "catalog.lookupProducts",
		trace.WithAttributes(attribute.Int("catalog.products", len(unique))),
	)
	defer span.End()

	results := make([]lookupResult, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookupConcurrency)
	for i, id := range unique {
		g.Go(func() error {
			p, err := s.catalog.GetProduct(gctx, id)
			results[i] = lookupResult{product: p, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]lookupResult, len(unique))
	for i, id := range unique {
		out[id] = results[i]
	}
	return out
}

// loadAggregate joins the owner's lines with live catalog data and
// reconciles them against stock. Lines whose unit is out of stock are
// deleted, lines holding more than the live stock are clamped, and both
// changes are persisted before the aggregate is returned; adjusted reports
// whether any were made. Lines whose product cannot be resolved are kept
// and rendered as placeholders.
func (s *CartService) loadAggregate(ctx context.Context, owner domain.OwnerKey) (agg *domain.Aggregate, adjusted bool, err error) {
	lines, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, false, fmt.Errorf("load cart lines: %w", err)
	}

	agg = &domain.Aggregate{Owner: owner, Entries: make([]domain.AggregateEntry, 0, len(lines))}
	if len(lines) == 0 {
		return agg, false, nil
	}

	ids := make([]string, len(lines))
	for i := range lines {
		ids[i] = lines[i].ProductID
	}
	products := s.lookupProducts(ctx, ids)
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	for i := range lines {
		line := &lines[i]
		res := products[line.ProductID]

		offer, ok := s.resolveOffer(ctx, line, res)
		if !ok {
			agg.Entries = append(agg.Entries, placeholderEntry(line))
			continue
		}

		requested := line.Quantity
		keep, err := s.reconcileLine(ctx, owner, line, offer.Stock)
		if err != nil {
			return nil, false, err
		}
		if !keep || line.Quantity != requested {
			adjusted = true
		}
		if !keep {
			continue
		}

		agg.Entries = append(agg.Entries, domain.AggregateEntry{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Name:      offer.Name,
			ImageURL:  offer.ImageURL,
			LiveStock: offer.Stock,
			Available: true,
		})
	}

	return agg, adjusted, nil
}

func (s *CartService) resolveOffer(ctx context.Context, line *domain.CartLine, res lookupResult) (domain.Offer, bool) {
	if res.err != nil || res.product == nil {
		reason := "unavailable"
		if res.err == nil || errors.Is(res.err, apperrors.ErrNotFound) {
			reason = "not_found"
		} else {
			s.logger.WarnContext(ctx, "product lookup failed, rendering placeholder",
				slog.String("product_id", line.ProductID),
				slog.String("error", res.err.Error()),
			)
		}
		catalogLookupFailures.WithLabelValues(reason).Inc()
		return domain.Offer{}, false
	}

	offer, ok := res.product.Offer(line.VariantID)
	if !ok {
		catalogLookupFailures.WithLabelValues("not_found").Inc()
	}
	return offer, ok
}

// reconcileLine applies the stock rules to one line and reports whether it
// stays in the cart.
func (s *CartService) reconcileLine(ctx context.Context, owner domain.OwnerKey, line *domain.CartLine, stock int) (bool, error) {
	switch {
	case stock <= 0:
		if err := s.repo.Delete(ctx, owner, line.Key()); err != nil {
			return false, fmt.Errorf("evict out-of-stock line: %w", err)
		}
		reconcileAdjustments.WithLabelValues(adjustmentEvict).Inc()
		s.logger.InfoContext(ctx, "evicted out-of-stock cart line",
			slog.String("product_id", line.ProductID),
			slog.String("variant_id", line.VariantID),
		)
		return false, nil

	case stock < line.Quantity:
		err := s.repo.UpdateQuantity(ctx, owner, line.Key(), stock)
		if errors.Is(err, apperrors.ErrNotFound) {
			// Removed concurrently.
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("clamp cart line: %w", err)
		}
		reconcileAdjustments.WithLabelValues(adjustmentClamp).Inc()
		s.logger.InfoContext(ctx, "clamped cart line to live stock",
			slog.String("product_id", line.ProductID),
			slog.String("variant_id", line.VariantID),
			slog.Int("from", line.Quantity),
			slog.Int("to", stock),
		)
		line.Quantity = stock
	}
	return true, nil
}

func placeholderEntry(line *domain.CartLine) domain.AggregateEntry {
	return domain.AggregateEntry{
		ProductID: line.ProductID,
		VariantID: line.VariantID,
		Quantity:  line.Quantity,
		UnitPrice: line.UnitPrice,
		Name:      domain.PlaceholderProductName,
		LiveStock: 0,
		Available: false,
	}
}
