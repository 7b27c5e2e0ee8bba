package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
)

type storedLine struct {
	line domain.CartLine
	seq  uint64
}

// CartLineRepository is an in-process implementation of
// repository.CartLineRepository for local development and tests. A single
// mutex serialises all writes, which gives Upsert the same uniqueness
// guarantee as the unique index in Postgres.
type CartLineRepository struct {
	mu     sync.RWMutex
	seq    uint64
	owners map[domain.OwnerKey]map[domain.LineKey]*storedLine
}

// NewCartLineRepository creates an empty in-memory repository.
func NewCartLineRepository() *CartLineRepository {
	return &CartLineRepository{
		owners: make(map[domain.OwnerKey]map[domain.LineKey]*storedLine),
	}
}

func (r *CartLineRepository) Upsert(_ context.Context, line *domain.CartLine) (*domain.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := r.linesFor(line.Owner, true)
	if existing, ok := lines[line.Key()]; ok {
		existing.line.Quantity = line.Quantity
		existing.line.UnitPrice = line.UnitPrice
		existing.line.UpdatedAt = line.UpdatedAt
		out := existing.line
		return &out, nil
	}

	r.seq++
	lines[line.Key()] = &storedLine{line: *line, seq: r.seq}
	out := *line
	return &out, nil
}

func (r *CartLineRepository) UpdateQuantity(_ context.Context, owner domain.OwnerKey, key domain.LineKey, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.linesFor(owner, false)[key]
	if !ok {
		return apperrors.NotFound("cart line", key.ProductID)
	}
	existing.line.Quantity = quantity
	existing.line.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CartLineRepository) Delete(_ context.Context, owner domain.OwnerKey, key domain.LineKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lines := r.linesFor(owner, false); lines != nil {
		delete(lines, key)
	}
	return nil
}

func (r *CartLineRepository) DeleteAll(_ context.Context, owner domain.OwnerKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int64(len(r.owners[owner]))
	delete(r.owners, owner)
	return n, nil
}

func (r *CartLineRepository) ListByOwner(_ context.Context, owner domain.OwnerKey) ([]domain.CartLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := make([]*storedLine, 0, len(r.owners[owner]))
	for _, s := range r.owners[owner] {
		stored = append(stored, s)
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.line.CreatedAt.Equal(b.line.CreatedAt) {
			return a.line.CreatedAt.After(b.line.CreatedAt)
		}
		return a.seq > b.seq
	})

	lines := make([]domain.CartLine, len(stored))
	for i, s := range stored {
		lines[i] = s.line
	}
	return lines, nil
}

func (r *CartLineRepository) ReplaceAll(_ context.Context, owner domain.OwnerKey, lines []domain.CartLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := make(map[domain.LineKey]*storedLine, len(lines))
	for _, l := range lines {
		l.Owner = owner
		r.seq++
		replaced[l.Key()] = &storedLine{line: l, seq: r.seq}
	}
	if len(replaced) == 0 {
		delete(r.owners, owner)
		return nil
	}
	r.owners[owner] = replaced
	return nil
}

func (r *CartLineRepository) linesFor(owner domain.OwnerKey, create bool) map[domain.LineKey]*storedLine {
	lines, ok := r.owners[owner]
	if !ok && create {
		lines = make(map[domain.LineKey]*storedLine)
		r.owners[owner] = lines
	}
	return lines
}
