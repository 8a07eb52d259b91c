package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Currency string
	Active   bool
}

// Purchasable reports whether the product may be sold right now.
func (p *Product) Purchasable() bool {
	return p != nil && p.Active
}

type Catalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]*Product, error)
}

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// GetProducts returns the products found among ids. Missing ids are simply
// absent from the result.
func (c *PostgresCatalog) GetProducts(ctx context.Context, ids []string) (map[string]*Product, error) {
	products := make(map[string]*Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query := `SELECT id, name, price, currency, active FROM products WHERE id = ANY($1)`
	rows, err := c.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return products, nil
}
