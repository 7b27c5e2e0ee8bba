package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
)

func owner(t *testing.T, kind, id string) domain.OwnerKey {
	t.Helper()
	o, err := domain.ParseOwner(kind, id)
	require.NoError(t, err)
	return o
}

func line(o domain.OwnerKey, productID, variantID string, qty int, at time.Time) *domain.CartLine {
	return &domain.CartLine{
		ID:        fmt.Sprintf("%s-%s-%s", o.ID(), productID, variantID),
		Owner:     o,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  qty,
		UnitPrice: 1000,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestUpsert_OverwritesExistingLine(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	o := owner(t, "session", "s-1")
	now := time.Now()

	first, err := repo.Upsert(ctx, line(o, "p-1", "", 1, now))
	require.NoError(t, err)

	second := line(o, "p-1", "", 3, now.Add(time.Second))
	second.ID = "another-id"
	second.UnitPrice = 1200
	got, err := repo.Upsert(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 3, got.Quantity)
	assert.Equal(t, int64(1200), got.UnitPrice)

	lines, err := repo.ListByOwner(ctx, o)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestUpsert_VariantsAreDistinctLines(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	o := owner(t, "user", "u-1")
	now := time.Now()

	_, err := repo.Upsert(ctx, line(o, "p-1", "", 1, now))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, line(o, "p-1", "v-red", 1, now))
	require.NoError(t, err)

	lines, err := repo.ListByOwner(ctx, o)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestUpsert_ConcurrentSameKeyKeepsOneLine(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	o := owner(t, "session", "s-1")
	now := time.Now()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			_, _ = repo.Upsert(ctx, line(o, "p-1", "", qty, now))
		}(i)
	}
	wg.Wait()

	lines, err := repo.ListByOwner(ctx, o)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestListByOwner_NewestFirst(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	o := owner(t, "session", "s-1")
	now := time.Now()

	_, _ = repo.Upsert(ctx, line(o, "p-old", "", 1, now.Add(-time.Minute)))
	_, _ = repo.Upsert(ctx, line(o, "p-a", "", 1, now))
	_, _ = repo.Upsert(ctx, line(o, "p-b", "", 1, now))

	lines, err := repo.ListByOwner(ctx, o)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "p-b", lines[0].ProductID)
	assert.Equal(t, "p-a", lines[1].ProductID)
	assert.Equal(t, "p-old", lines[2].ProductID)
}

func TestUpdateQuantity(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	o := owner(t, "session", "s-1")
	_, _ = repo.Upsert(ctx, line(o, "p-1", "", 1, time.Now()))

	require.NoError(t, repo.UpdateQuantity(ctx, o, domain.LineKey{ProductID: "p-1"}, 7))
	lines, _ := repo.ListByOwner(ctx, o)
	assert.Equal(t, 7, lines[0].Quantity)

	err := repo.UpdateQuantity(ctx, o, domain.LineKey{ProductID: "p-2"}, 7)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateQuantity_TouchesUpdatedAt(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	o := owner(t, "session", "s-1")
	created := time.Now().Add(-time.Hour).UTC()
	_, err := repo.Upsert(ctx, line(o, "p-1", "", 1, created))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateQuantity(ctx, o, domain.LineKey{ProductID: "p-1"}, 3))

	lines, err := repo.ListByOwner(ctx, o)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, created.Equal(lines[0].CreatedAt))
	assert.True(t, lines[0].UpdatedAt.After(created))
}

func TestDelete_IsIdempotent(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	o := owner(t, "session", "s-1")
	_, _ = repo.Upsert(ctx, line(o, "p-1", "", 1, time.Now()))

	key := domain.LineKey{ProductID: "p-1"}
	require.NoError(t, repo.Delete(ctx, o, key))
	require.NoError(t, repo.Delete(ctx, o, key))

	other := owner(t, "session", "never-seen")
	assert.NoError(t, repo.Delete(ctx, other, key))
}

func TestOwnerIsolation(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	a := owner(t, "session", "same-id")
	b := owner(t, "user", "same-id")
	now := time.Now()

	_, _ = repo.Upsert(ctx, line(a, "p-1", "", 1, now))
	_, _ = repo.Upsert(ctx, line(b, "p-1", "", 5, now))

	n, err := repo.DeleteAll(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	lines, err := repo.ListByOwner(ctx, b)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)
}

func TestReplaceAll(t *testing.T) {
	repo := NewCartLineRepository()
	ctx := context.Background()
	o := owner(t, "session", "s-1")
	now := time.Now()
	for _, p := range []string{"p-1", "p-2", "p-3"} {
		_, _ = repo.Upsert(ctx, line(o, p, "", 1, now))
	}

	require.NoError(t, repo.ReplaceAll(ctx, o, []domain.CartLine{*line(o, "p-5", "", 2, now)}))
	lines, err := repo.ListByOwner(ctx, o)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "p-5", lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)

	require.NoError(t, repo.ReplaceAll(ctx, o, nil))
	lines, err = repo.ListByOwner(ctx, o)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
