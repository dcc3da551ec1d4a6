package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/models"
)

const productColumns = `id, sku, name, slug, description, price, currency, stock_quantity, created_at, updated_at, version`

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Slug,
		&product.Description,
		&product.Price,
		&product.Currency,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func (p *Postgres) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}

	query := `
		INSERT INTO products (id, sku, name, slug, description, price, currency, stock_quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	err := scanProduct(p.db.QueryRowContext(ctx, query,
		product.ID, product.SKU, product.Name, product.Slug, product.Description,
		product.Price, product.Currency, product.StockQuantity), product)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}

	return nil
}

func (p *Postgres) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	err := scanProduct(p.db.QueryRowContext(ctx, query, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// lockProducts takes row locks in id order so that two checkouts over the same products
// cannot deadlock. A lock held elsewhere fails immediately instead of queueing.
func lockProducts(ctx context.Context, q querier, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	keys := make([]string, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			keys = append(keys, id.String())
		}
	}
	sort.Strings(keys)

	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE NOWAIT`

	rows, err := q.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		if database.IsLockNotAvailable(err) {
			return nil, fmt.Errorf("%w: %w", database.ErrLockTimeout, err)
		}
		return nil, fmt.Errorf("lock products (nowait): %w", err)
	}
	defer rows.Close()

	products := make(map[uuid.UUID]*models.Product, len(keys))
	for rows.Next() {
		product := &models.Product{}
		if err := scanProduct(rows, product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		if database.IsLockNotAvailable(err) {
			return nil, fmt.Errorf("%w: %w", database.ErrLockTimeout, err)
		}
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(products) != len(keys) {
		return nil, database.ErrProductNotFound
	}

	return products, nil
}

func decrementStock(ctx context.Context, q querier, productID uuid.UUID, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func incrementStock(ctx context.Context, q querier, productID uuid.UUID, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}
