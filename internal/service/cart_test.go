package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	"github.com/rakrong1/ladicare-sub000/internal/repository/memory"
	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
)

// ============================================================================
// Test doubles
// ============================================================================

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product
	failures map[string]error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: make(map[string]domain.Product),
		failures: make(map[string]error),
	}
}

func (c *fakeCatalog) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failures[productID]; ok {
		return nil, err
	}
	p, ok := c.products[productID]
	if !ok {
		return nil, apperrors.NotFound("product", productID)
	}
	p.Variants = append([]domain.ProductVariant(nil), p.Variants...)
	return &p, nil
}

func (c *fakeCatalog) put(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *fakeCatalog) setStock(productID string, stock int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.products[productID]
	p.StockQuantity = stock
	c.products[productID] = p
}

func (c *fakeCatalog) setPrice(productID string, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.products[productID]
	p.BasePrice = price
	c.products[productID] = p
}

func (c *fakeCatalog) remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, productID)
}

func (c *fakeCatalog) fail(productID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[productID] = err
}

type recordingEvents struct {
	mu      sync.Mutex
	updated []*domain.Aggregate
	cleared []domain.OwnerKey
	err     error
}

func (r *recordingEvents) PublishCartUpdated(_ context.Context, cart *domain.Aggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, cart)
	return r.err
}

func (r *recordingEvents) updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updated)
}

func (r *recordingEvents) PublishCartCleared(_ context.Context, owner domain.OwnerKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, owner)
	return r.err
}

// ============================================================================
// Helpers
// ============================================================================

type fixture struct {
	svc     *CartService
	repo    *memory.CartLineRepository
	catalog *fakeCatalog
	events  *recordingEvents
}

func setup(t *testing.T) *fixture {
	t.Helper()
	repo := memory.NewCartLineRepository()
	catalog := newFakeCatalog()
	events := &recordingEvents{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		svc:     NewCartService(repo, catalog, events, logger, 4),
		repo:    repo,
		catalog: catalog,
		events:  events,
	}
}

func sessionOwner(t *testing.T, id string) domain.OwnerKey {
	t.Helper()
	o, err := domain.SessionOwner(id)
	require.NoError(t, err)
	return o
}

func userOwner(t *testing.T, id string) domain.OwnerKey {
	t.Helper()
	o, err := domain.UserOwner(id)
	require.NoError(t, err)
	return o
}

func qty(n int) *int { return &n }

func product(id string, price int64, stock int) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, BasePrice: price, ImageURL: id + ".jpg", StockQuantity: stock}
}

// seedLine writes a line straight into the store, bypassing Upsert validation.
func (f *fixture) seedLine(t *testing.T, owner domain.OwnerKey, productID string, quantity int, createdAt time.Time) {
	t.Helper()
	_, err := f.repo.Upsert(context.Background(), &domain.CartLine{
		ID:        fmt.Sprintf("seed-%s", productID),
		Owner:     owner,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: 1000,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})
	require.NoError(t, err)
}

func (f *fixture) storedQuantity(t *testing.T, owner domain.OwnerKey, productID string) (int, bool) {
	t.Helper()
	lines, err := f.repo.ListByOwner(context.Background(), owner)
	require.NoError(t, err)
	for _, l := range lines {
		if l.ProductID == productID {
			return l.Quantity, true
		}
	}
	return 0, false
}

// ============================================================================
// Upsert
// ============================================================================

func TestUpsert_AddThenOverwriteThenClampScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("1", 1500, 5))

	agg, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "1", Quantity: qty(1)})
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, 1, agg.Entries[0].Quantity)

	agg, err = f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "1", Quantity: qty(3)})
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, 3, agg.Entries[0].Quantity, "upsert overwrites, it does not increment")

	f.catalog.setStock("1", 2)

	agg, err = f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, 2, agg.Entries[0].Quantity)
	assert.Equal(t, 2, agg.Entries[0].LiveStock)
}

func TestUpsert_QuantityDefaultsAndFloor(t *testing.T) {
	tests := []struct {
		name     string
		quantity *int
		want     int
	}{
		{"absent defaults to one", nil, 1},
		{"zero floors to one", qty(0), 1},
		{"negative floors to one", qty(-7), 1},
		{"explicit", qty(4), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.catalog.put(product("p-1", 100, 50))
			owner := sessionOwner(t, "s-1")

			agg, err := f.svc.Upsert(context.Background(), owner, UpsertInput{ProductID: "p-1", Quantity: tt.quantity})
			require.NoError(t, err)
			require.Len(t, agg.Entries, 1)
			assert.Equal(t, tt.want, agg.Entries[0].Quantity)
		})
	}
}

func TestUpsert_RejectsQuantityAboveMax(t *testing.T) {
	f := setup(t)
	f.catalog.put(product("p-1", 100, 500))

	_, err := f.svc.Upsert(context.Background(), sessionOwner(t, "s-1"),
		UpsertInput{ProductID: "p-1", Quantity: qty(domain.MaxQuantityPerItem + 1)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUpsert_Validation(t *testing.T) {
	f := setup(t)
	f.catalog.put(product("p-1", 100, 5))

	_, err := f.svc.Upsert(context.Background(), domain.OwnerKey{}, UpsertInput{ProductID: "p-1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.Upsert(context.Background(), sessionOwner(t, "s-1"), UpsertInput{ProductID: "   "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUpsert_UnknownProductOrVariant(t *testing.T) {
	f := setup(t)
	f.catalog.put(product("p-1", 100, 5))
	owner := sessionOwner(t, "s-1")

	_, err := f.svc.Upsert(context.Background(), owner, UpsertInput{ProductID: "p-404"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.Upsert(context.Background(), owner, UpsertInput{ProductID: "p-1", VariantID: "v-404"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	lines, err := f.repo.ListByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestUpsert_CatalogOutageIsNotNotFound(t *testing.T) {
	f := setup(t)
	f.catalog.fail("p-1", apperrors.ServiceUnavailable("product service unavailable"))

	_, err := f.svc.Upsert(context.Background(), sessionOwner(t, "s-1"), UpsertInput{ProductID: "p-1"})
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpsert_CapturesVariantPrice(t *testing.T) {
	f := setup(t)
	price := int64(3200)
	p := product("p-1", 2500, 10)
	p.Variants = []domain.ProductVariant{{ID: "v-30", Name: "30ml", Price: &price, StockQuantity: 6}}
	f.catalog.put(p)

	agg, err := f.svc.Upsert(context.Background(), sessionOwner(t, "s-1"), UpsertInput{ProductID: "p-1", VariantID: "v-30", Quantity: qty(2)})
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	e := agg.Entries[0]
	assert.Equal(t, "v-30", e.VariantID)
	assert.Equal(t, int64(3200), e.UnitPrice)
	assert.Equal(t, "Product p-1 - 30ml", e.Name)
	assert.Equal(t, 6, e.LiveStock)
	assert.Equal(t, int64(6400), agg.TotalAmount())
}

func TestUpsert_UnitPriceIsCapturedAtWriteTime(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 1000, 10))

	_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1"})
	require.NoError(t, err)

	f.catalog.setPrice("p-1", 1500)
	agg, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), agg.Entries[0].UnitPrice)

	agg, err = f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1", Quantity: qty(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), agg.Entries[0].UnitPrice)
}

func TestUpsert_ConcurrentSameKeyNeverDuplicates(t *testing.T) {
	f := setup(t)
	f.catalog.put(product("p-1", 100, 100))
	owner := sessionOwner(t, "s-1")

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.svc.Upsert(context.Background(), owner, UpsertInput{ProductID: "p-1", Quantity: qty(n)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	lines, err := f.repo.ListByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestUpsert_PublishesCartUpdated(t *testing.T) {
	f := setup(t)
	f.catalog.put(product("p-1", 100, 5))
	f.events.err = errors.New("broker down")

	agg, err := f.svc.Upsert(context.Background(), sessionOwner(t, "s-1"), UpsertInput{ProductID: "p-1"})
	require.NoError(t, err, "event failures never fail the mutation")
	require.Len(t, f.events.updated, 1)
	assert.Same(t, agg, f.events.updated[0])
}

// ============================================================================
// UpdateQuantity / Remove / Clear
// ============================================================================

func TestUpdateQuantity_UpdatesExistingLine(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 10))
	_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1"})
	require.NoError(t, err)

	agg, err := f.svc.UpdateQuantity(ctx, owner, "p-1", "", 6)
	require.NoError(t, err)
	assert.Equal(t, 6, agg.Entries[0].Quantity)
}

func TestUpdateQuantity_ZeroAndNegativeRemove(t *testing.T) {
	for _, q := range []int{0, -3} {
		t.Run(fmt.Sprintf("quantity %d", q), func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			owner := sessionOwner(t, "s-1")
			f.catalog.put(product("p-1", 100, 10))
			f.catalog.put(product("p-2", 100, 10))
			_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1"})
			require.NoError(t, err)
			_, err = f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-2"})
			require.NoError(t, err)

			viaUpdate, err := f.svc.UpdateQuantity(ctx, owner, "p-1", "", q)
			require.NoError(t, err)
			viaRemove, err := f.svc.Remove(ctx, owner, "p-1", "")
			require.NoError(t, err)

			assert.Equal(t, viaRemove.Entries, viaUpdate.Entries)
			_, found := viaUpdate.Find("p-1", "")
			assert.False(t, found)
		})
	}
}

func TestUpdateQuantity_MissingLineIsNotFound(t *testing.T) {
	f := setup(t)

	_, err := f.svc.UpdateQuantity(context.Background(), sessionOwner(t, "s-1"), "p-1", "", 2)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateQuantity_AboveMax(t *testing.T) {
	f := setup(t)

	_, err := f.svc.UpdateQuantity(context.Background(), sessionOwner(t, "s-1"), "p-1", "", 1000)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRemove_IsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 10))
	before, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1", Quantity: qty(2)})
	require.NoError(t, err)

	after, err := f.svc.Remove(ctx, owner, "p-missing", "")
	require.NoError(t, err)
	assert.Equal(t, before.Entries, after.Entries)
}

func TestRemove_OnlyTargetsVariant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	p := product("p-1", 100, 10)
	p.Variants = []domain.ProductVariant{{ID: "v-1", StockQuantity: 10}}
	f.catalog.put(p)
	_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1"})
	require.NoError(t, err)
	_, err = f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1", VariantID: "v-1"})
	require.NoError(t, err)

	agg, err := f.svc.Remove(ctx, owner, "p-1", "v-1")
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Empty(t, agg.Entries[0].VariantID)
}

func TestClear(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 10))
	_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1"})
	require.NoError(t, err)

	agg, err := f.svc.Clear(ctx, owner)
	require.NoError(t, err)
	assert.NotNil(t, agg.Entries)
	assert.Empty(t, agg.Entries)
	assert.Equal(t, []domain.OwnerKey{owner}, f.events.cleared)

	agg, err = f.svc.Clear(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, agg.Entries)
	assert.Len(t, f.events.cleared, 1, "clearing an empty cart publishes nothing")
}

// ============================================================================
// Reconciliation
// ============================================================================

func TestGetCart_ClampsAndPersists(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 4))
	f.seedLine(t, owner, "p-1", 10, time.Now())
	clampsBefore := testutil.ToFloat64(reconcileAdjustments.WithLabelValues(adjustmentClamp))

	agg, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, 4, agg.Entries[0].Quantity)

	stored, ok := f.storedQuantity(t, owner, "p-1")
	require.True(t, ok)
	assert.Equal(t, 4, stored)

	again, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 4, again.Entries[0].Quantity)
	assert.Equal(t, clampsBefore+1, testutil.ToFloat64(reconcileAdjustments.WithLabelValues(adjustmentClamp)))
}

func TestGetCart_EvictsZeroStock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 0))
	f.catalog.put(product("p-2", 100, 3))
	f.seedLine(t, owner, "p-1", 2, time.Now())
	f.seedLine(t, owner, "p-2", 1, time.Now())

	agg, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, "p-2", agg.Entries[0].ProductID)

	_, ok := f.storedQuantity(t, owner, "p-1")
	assert.False(t, ok)

	again, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	_, found := again.Find("p-1", "")
	assert.False(t, found)
}

func TestGetCart_PublishesOnlyWhenReconcileChangedLines(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 10))
	f.catalog.put(product("p-2", 100, 10))
	f.seedLine(t, owner, "p-1", 5, time.Now())
	f.seedLine(t, owner, "p-2", 1, time.Now())

	_, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, f.events.updates(), "nothing to reconcile")

	f.catalog.setStock("p-1", 2)
	f.catalog.setStock("p-2", 0)
	agg, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, f.events.updates())
	assert.Same(t, agg, f.events.updated[0])
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, 2, agg.Entries[0].Quantity)

	_, err = f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.updates(), "adjustments are persisted once")
}

func TestGetCart_PublishFailureStillReturnsCart(t *testing.T) {
	f := setup(t)
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 1))
	f.seedLine(t, owner, "p-1", 3, time.Now())
	f.events.err = errors.New("broker down")

	agg, err := f.svc.GetCart(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, 1, agg.Entries[0].Quantity)
}

func TestUpsert_ZeroStockLineIsEvictedFromResult(t *testing.T) {
	f := setup(t)
	f.catalog.put(product("p-1", 100, 0))

	agg, err := f.svc.Upsert(context.Background(), sessionOwner(t, "s-1"), UpsertInput{ProductID: "p-1"})
	require.NoError(t, err)
	assert.Empty(t, agg.Entries)
}

func TestGetCart_MissingProductIsPlaceholder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 5))
	_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1", Quantity: qty(2)})
	require.NoError(t, err)

	f.catalog.remove("p-1")

	agg, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	e := agg.Entries[0]
	assert.False(t, e.Available)
	assert.Equal(t, domain.PlaceholderProductName, e.Name)
	assert.Empty(t, e.ImageURL)
	assert.Zero(t, e.LiveStock)
	assert.Equal(t, 2, e.Quantity)

	stored, ok := f.storedQuantity(t, owner, "p-1")
	require.True(t, ok, "placeholder lines are not evicted")
	assert.Equal(t, 2, stored)
}

func TestGetCart_CatalogOutageDegradesPerLine(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 5))
	f.catalog.put(product("p-2", 100, 5))
	f.seedLine(t, owner, "p-1", 1, time.Now())
	f.seedLine(t, owner, "p-2", 1, time.Now())
	f.catalog.fail("p-1", errors.New("timeout"))

	agg, err := f.svc.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, agg.Entries, 2)

	p1, _ := agg.Find("p-1", "")
	p2, _ := agg.Find("p-2", "")
	assert.False(t, p1.Available)
	assert.True(t, p2.Available)
}

func TestGetCart_NewestFirst(t *testing.T) {
	f := setup(t)
	owner := sessionOwner(t, "s-1")
	base := time.Now()
	for i, id := range []string{"p-1", "p-2", "p-3"} {
		f.catalog.put(product(id, 100, 5))
		f.seedLine(t, owner, id, 1, base.Add(time.Duration(i)*time.Second))
	}

	agg, err := f.svc.GetCart(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, agg.Entries, 3)
	assert.Equal(t, "p-3", agg.Entries[0].ProductID)
	assert.Equal(t, "p-1", agg.Entries[2].ProductID)
}

func TestGetCart_CanceledContext(t *testing.T) {
	f := setup(t)
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 5))
	f.seedLine(t, owner, "p-1", 1, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.GetCart(ctx, owner)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Sync
// ============================================================================

func TestSync_ReplacesCart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	for _, id := range []string{"1", "2", "3", "5"} {
		f.catalog.put(product(id, 100, 10))
	}
	for _, id := range []string{"1", "2", "3"} {
		_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: id})
		require.NoError(t, err)
	}

	agg, err := f.svc.Sync(ctx, owner, []SyncItem{{ProductID: "5", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, "5", agg.Entries[0].ProductID)
	assert.Equal(t, 2, agg.Entries[0].Quantity)
}

func TestSync_EmptyClears(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 10))
	_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1"})
	require.NoError(t, err)

	agg, err := f.svc.Sync(ctx, owner, nil)
	require.NoError(t, err)
	assert.Empty(t, agg.Entries)
}

func TestSync_SkipsInvalidAndCollapsesDuplicates(t *testing.T) {
	f := setup(t)
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 50))
	f.catalog.put(product("p-2", 100, 50))

	agg, err := f.svc.Sync(context.Background(), owner, []SyncItem{
		{ProductID: "p-1", Quantity: 1},
		{ProductID: "", Quantity: 3},
		{ProductID: "p-2", Quantity: 0},
		{ProductID: "p-2", Quantity: -1},
		{ProductID: "p-unknown", Quantity: 1},
		{ProductID: "p-2", Quantity: domain.MaxQuantityPerItem + 1},
		{ProductID: "p-1", VariantID: "v-missing", Quantity: 1},
		{ProductID: "p-2", Quantity: 4},
		{ProductID: "p-1", Quantity: 7},
	})
	require.NoError(t, err)
	require.Len(t, agg.Entries, 2)
	assert.Equal(t, "p-1", agg.Entries[0].ProductID, "input order is preserved")
	assert.Equal(t, 7, agg.Entries[0].Quantity, "last duplicate wins")
	assert.Equal(t, "p-2", agg.Entries[1].ProductID)
	assert.Equal(t, 4, agg.Entries[1].Quantity)
}

func TestSync_ReconcilesAgainstStock(t *testing.T) {
	f := setup(t)
	f.catalog.put(product("p-1", 100, 3))

	agg, err := f.svc.Sync(context.Background(), sessionOwner(t, "s-1"), []SyncItem{{ProductID: "p-1", Quantity: 9}})
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Entries[0].Quantity)
}

func TestSync_CatalogOutageKeepsStoredCart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 10))
	_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1"})
	require.NoError(t, err)
	f.catalog.fail("p-2", apperrors.ServiceUnavailable("product service unavailable"))

	_, err = f.svc.Sync(ctx, owner, []SyncItem{{ProductID: "p-2", Quantity: 1}})
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)

	_, ok := f.storedQuantity(t, owner, "p-1")
	assert.True(t, ok)
}

func TestSync_InvalidCatalogItemIsSkipped(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid input", apperrors.InvalidInput("product service: bad id")},
		{"rejected", apperrors.Rejected("product service: forbidden (status 403)")},
		{"wrapped not found", fmt.Errorf("lookup: %w", apperrors.NotFound("product", "p-2"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			owner := sessionOwner(t, "s-1")
			f.catalog.put(product("p-1", 100, 10))
			f.catalog.fail("p-2", tt.err)

			agg, err := f.svc.Sync(context.Background(), owner, []SyncItem{
				{ProductID: "p-1", Quantity: 2},
				{ProductID: "p-2", Quantity: 1},
			})
			require.NoError(t, err)
			require.Len(t, agg.Entries, 1)
			assert.Equal(t, "p-1", agg.Entries[0].ProductID)

			_, ok := f.storedQuantity(t, owner, "p-2")
			assert.False(t, ok)
		})
	}
}

func TestSync_TransportErrorAborts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := sessionOwner(t, "s-1")
	f.catalog.put(product("p-1", 100, 10))
	_, err := f.svc.Upsert(ctx, owner, UpsertInput{ProductID: "p-1"})
	require.NoError(t, err)
	cause := errors.New("read tcp: connection reset by peer")
	f.catalog.fail("p-2", cause)

	_, err = f.svc.Sync(ctx, owner, []SyncItem{{ProductID: "p-2", Quantity: 1}})
	assert.ErrorIs(t, err, cause)

	_, ok := f.storedQuantity(t, owner, "p-1")
	assert.True(t, ok)
}

func TestSync_RequiresOwner(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Sync(context.Background(), domain.OwnerKey{}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// ============================================================================
// Owner isolation
// ============================================================================

func TestOwnerIsolation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := sessionOwner(t, "shared-id")
	b := userOwner(t, "shared-id")
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		f.catalog.put(product(id, 100, 10))
	}

	_, err := f.svc.Upsert(ctx, b, UpsertInput{ProductID: "p-1", Quantity: qty(5)})
	require.NoError(t, err)
	before, err := f.svc.GetCart(ctx, b)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.svc.Upsert(ctx, a, UpsertInput{ProductID: "p-1", Quantity: qty(2)})
		_, _ = f.svc.Upsert(ctx, a, UpsertInput{ProductID: "p-2"})
		_, _ = f.svc.UpdateQuantity(ctx, a, "p-1", "", 9)
		_, _ = f.svc.Remove(ctx, a, "p-1", "")
	}()
	go func() {
		defer wg.Done()
		_, _ = f.svc.Sync(ctx, a, []SyncItem{{ProductID: "p-3", Quantity: 1}})
		_, _ = f.svc.Clear(ctx, a)
	}()
	wg.Wait()

	after, err := f.svc.GetCart(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, before.Entries, after.Entries)
}
