package repository

import (
	"context"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
)

// CartLineRepository persists cart lines. Every method is scoped to a single
// owner and must never read or modify another owner's lines.
type CartLineRepository interface {
	// Upsert creates the line for (owner, product, variant) or, when it already
	// exists, overwrites its quantity and unit price. It is atomic: concurrent
	// calls for the same key never produce two rows.
	Upsert(ctx context.Context, line *domain.CartLine) (*domain.CartLine, error)

	// UpdateQuantity sets the quantity of an existing line. It returns a
	// NotFound error when the line does not exist.
	UpdateQuantity(ctx context.Context, owner domain.OwnerKey, key domain.LineKey, quantity int) error

	// Delete removes a line. Deleting a missing line is not an error.
	Delete(ctx context.Context, owner domain.OwnerKey, key domain.LineKey) error

	// DeleteAll removes every line of the owner and returns how many were removed.
	DeleteAll(ctx context.Context, owner domain.OwnerKey) (int64, error)

	// ListByOwner returns the owner's lines, most recently created first.
	ListByOwner(ctx context.Context, owner domain.OwnerKey) ([]domain.CartLine, error)

	// ReplaceAll atomically swaps the owner's lines for lines.
	ReplaceAll(ctx context.Context, owner domain.OwnerKey, lines []domain.CartLine) error
}
