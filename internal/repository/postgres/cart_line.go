package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	"github.com/rakrong1/ladicare-sub000/pkg/database"
	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
)

const lineColumns = `id, owner_kind, owner_id, product_id, variant_id, quantity, unit_price, created_at, updated_at`

const (
	upsertSQL = `
		INSERT INTO cart_lines (` + lineColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_kind, owner_id, product_id, variant_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + lineColumns

	updateQuantitySQL = `
		UPDATE cart_lines SET quantity = $1, updated_at = NOW()
		WHERE owner_kind = $2 AND owner_id = $3 AND product_id = $4 AND variant_id = $5`

	deleteSQL = `
		DELETE FROM cart_lines
		WHERE owner_kind = $1 AND owner_id = $2 AND product_id = $3 AND variant_id = $4`

	deleteAllSQL = `DELETE FROM cart_lines WHERE owner_kind = $1 AND owner_id = $2`

	listSQL = `
		SELECT ` + lineColumns + `
		FROM cart_lines
		WHERE owner_kind = $1 AND owner_id = $2
		ORDER BY created_at DESC, id DESC`

	insertSQL = `
		INSERT INTO cart_lines (` + lineColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

// CartLineRepository implements repository.CartLineRepository using PostgreSQL.
type CartLineRepository struct {
	pool database.DBTX
	obs  *database.Observer
}

// NewCartLineRepository creates a new PostgreSQL-backed cart line repository.
// obs may be nil.
func NewCartLineRepository(pool database.DBTX, obs *database.Observer) *CartLineRepository {
	return &CartLineRepository{pool: pool, obs: obs}
}

// Upsert inserts the line or overwrites quantity and unit price of the
// existing line with the same owner, product and variant.
func (r *CartLineRepository) Upsert(ctx context.Context, line *domain.CartLine) (result *domain.CartLine, err error) {
	ctx, end := r.obs.Start(ctx, "UpsertCartLine", upsertSQL)
	defer func() { end(err) }()

	row := r.pool.QueryRow(ctx, upsertSQL,
		line.ID,
		string(line.Owner.Kind()),
		line.Owner.ID(),
		line.ProductID,
		line.VariantID,
		line.Quantity,
		line.UnitPrice,
		line.CreatedAt,
		line.UpdatedAt,
	)
	result, err = scanLine(row)
	if err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}
	return result, nil
}

// UpdateQuantity sets the quantity of an existing line.
func (r *CartLineRepository) UpdateQuantity(ctx context.Context, owner domain.OwnerKey, key domain.LineKey, quantity int) (err error) {
	ctx, end := r.obs.Start(ctx, "UpdateCartLineQuantity", updateQuantitySQL)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, updateQuantitySQL, quantity, string(owner.Kind()), owner.ID(), key.ProductID, key.VariantID)
	if err != nil {
		return fmt.Errorf("update cart line quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("cart line", key.ProductID)
	}
	return nil
}

// Delete removes a line if present.
func (r *CartLineRepository) Delete(ctx context.Context, owner domain.OwnerKey, key domain.LineKey) (err error) {
	ctx, end := r.obs.Start(ctx, "DeleteCartLine", deleteSQL)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, deleteSQL, string(owner.Kind()), owner.ID(), key.ProductID, key.VariantID); err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

// DeleteAll removes every line of the owner.
func (r *CartLineRepository) DeleteAll(ctx context.Context, owner domain.OwnerKey) (n int64, err error) {
	ctx, end := r.obs.Start(ctx, "DeleteCartLines", deleteAllSQL)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, deleteAllSQL, string(owner.Kind()), owner.ID())
	if err != nil {
		return 0, fmt.Errorf("delete cart lines: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByOwner returns the owner's lines, newest first.
func (r *CartLineRepository) ListByOwner(ctx context.Context, owner domain.OwnerKey) (lines []domain.CartLine, err error) {
	ctx, end := r.obs.Start(ctx, "ListCartLines", listSQL)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, listSQL, string(owner.Kind()), owner.ID())
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	lines = make([]domain.CartLine, 0)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

// ReplaceAll deletes the owner's lines and inserts lines in one transaction.
func (r *CartLineRepository) ReplaceAll(ctx context.Context, owner domain.OwnerKey, lines []domain.CartLine) (err error) {
	ctx, end := r.obs.Start(ctx, "ReplaceCartLines", deleteAllSQL)
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, deleteAllSQL, string(owner.Kind()), owner.ID()); err != nil {
		return fmt.Errorf("delete cart lines: %w", err)
	}

	for i := range lines {
		l := &lines[i]
		if _, err = tx.Exec(ctx, insertSQL,
			l.ID,
			string(owner.Kind()),
			owner.ID(),
			l.ProductID,
			l.VariantID,
			l.Quantity,
			l.UnitPrice,
			l.CreatedAt,
			l.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert cart line %s: %w", l.ProductID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanLine(row pgx.Row) (*domain.CartLine, error) {
	var (
		l         domain.CartLine
		ownerKind string
		ownerID   string
	)
	if err := row.Scan(
		&l.ID,
		&ownerKind,
		&ownerID,
		&l.ProductID,
		&l.VariantID,
		&l.Quantity,
		&l.UnitPrice,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return nil, err
	}

	owner, err := domain.ParseOwner(ownerKind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("cart line %s: %w", l.ID, err)
	}
	l.Owner = owner
	return &l, nil
}
