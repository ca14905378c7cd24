package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVariantNotFound   = errors.New("product variant not found")
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, sku, image_url, price, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.SKU,
		&p.ImageURL,
		&p.Price,
		&p.Stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	variantsQuery := `
		SELECT id, product_id, sku, price, stock, created_at, updated_at
		FROM product_variants
		WHERE product_id = $1
		ORDER BY sku
	`

	rows, err := r.db.Query(ctx, variantsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query variants for product %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Price, &v.Stock, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan variant for product %s: %w", id, err)
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating variants for product %s: %w", id, err)
	}

	return &p, nil
}

// DecrementStock reduces product stock inside the caller's transaction.
// When variantSKU is set, the variant row is decremented alongside the
// parent product, so both counters stay consistent. The guarded UPDATE
// fails with ErrInsufficientStock instead of letting stock go negative.
func DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, variantSKU string, qty int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("repository: failed to decrement stock for product %s: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s", ErrInsufficientStock, productID)
	}

	if variantSKU == "" {
		return nil
	}

	tag, err = tx.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock - $3, updated_at = now()
		WHERE product_id = $1 AND sku = $2 AND stock >= $3
	`, productID, variantSKU, qty)
	if err != nil {
		return fmt.Errorf("repository: failed to decrement variant stock %s/%s: %w", productID, variantSKU, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: variant %s of product %s", ErrInsufficientStock, variantSKU, productID)
	}

	return nil
}
