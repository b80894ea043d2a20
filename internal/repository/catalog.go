package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/repricer/internal/domain"
)

// SaveProduct upserts a product and replaces its listings.
func (r *SQLRepository) SaveProduct(ctx context.Context, sellerID string, p *domain.Product) error {
	if err := requireSeller(sellerID); err != nil {
		return err
	}
	if p == nil || p.SKU == "" {
		return fmt.Errorf("%w: sku is required", ErrInvalidInput)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidInput)
	}
	if p.Cost != nil && *p.Cost < 0 {
		return fmt.Errorf("%w: cost must not be negative", ErrInvalidInput)
	}
	for _, l := range p.Listings {
		if !l.Marketplace.Valid() {
			return fmt.Errorf("%w: unknown marketplace %q", ErrInvalidInput, l.Marketplace)
		}
	}

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	var cost sql.NullFloat64
	if p.Cost != nil {
		cost = sql.NullFloat64{Float64: *p.Cost, Valid: true}
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO products (sku, seller_id, name, brand, stock, cost, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(seller_id, sku) DO UPDATE SET
				name = excluded.name,
				brand = excluded.brand,
				stock = excluded.stock,
				cost = excluded.cost,
				updated_at = excluded.updated_at
		`
		if _, err := tx.ExecContext(ctx, r.rebind(query),
			p.SKU, sellerID, p.Name, p.Brand, p.Stock, cost, p.UpdatedAt,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM listings WHERE seller_id = ? AND sku = ?`), sellerID, p.SKU); err != nil {
			return err
		}

		for _, l := range p.Listings {
			var margin sql.NullFloat64
			if l.Margin != nil {
				margin = sql.NullFloat64{Float64: *l.Margin, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, r.rebind(`
				INSERT INTO listings (seller_id, sku, marketplace, price, margin)
				VALUES (?, ?, ?, ?, ?)
			`), sellerID, p.SKU, string(l.Marketplace), l.Price, margin); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListProducts returns every product of a seller with its listings, ordered by SKU.
func (r *SQLRepository) ListProducts(ctx context.Context, sellerID string) ([]*domain.Product, error) {
	if err := requireSeller(sellerID); err != nil {
		return nil, err
	}

	query := `
		SELECT sku, seller_id, name, brand, stock, cost, updated_at
		FROM products
		WHERE seller_id = ?
		ORDER BY sku
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*domain.Product
	bySku := make(map[string]*domain.Product)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
		bySku[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	listings, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT sku, marketplace, price, margin
		FROM listings
		WHERE seller_id = ?
		ORDER BY sku, marketplace
	`), sellerID)
	if err != nil {
		return nil, err
	}
	defer listings.Close()

	for listings.Next() {
		var sku string
		l, err := scanListing(listings, &sku)
		if err != nil {
			return nil, err
		}
		if p, ok := bySku[sku]; ok {
			p.Listings = append(p.Listings, l)
		}
	}

	return products, listings.Err()
}

// FindBySku returns a product, or nil, nil when the SKU is unknown.
func (r *SQLRepository) FindBySku(ctx context.Context, sellerID string, sku string) (*domain.Product, error) {
	if err := requireSeller(sellerID); err != nil {
		return nil, err
	}

	query := `
		SELECT sku, seller_id, name, brand, stock, cost, updated_at
		FROM products
		WHERE seller_id = ? AND sku = ?
	`

	p, err := scanProduct(r.db.QueryRowContext(ctx, r.rebind(query), sellerID, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT sku, marketplace, price, margin
		FROM listings
		WHERE seller_id = ? AND sku = ?
		ORDER BY marketplace
	`), sellerID, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s string
		l, err := scanListing(rows, &s)
		if err != nil {
			return nil, err
		}
		p.Listings = append(p.Listings, l)
	}

	return p, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*domain.Product, error) {
	var p domain.Product
	var cost sql.NullFloat64
	if err := s.Scan(&p.SKU, &p.SellerID, &p.Name, &p.Brand, &p.Stock, &cost, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if cost.Valid {
		c := cost.Float64
		p.Cost = &c
	}
	return &p, nil
}

func scanListing(s scanner, sku *string) (domain.Listing, error) {
	var l domain.Listing
	var marketplace string
	var margin sql.NullFloat64
	if err := s.Scan(sku, &marketplace, &l.Price, &margin); err != nil {
		return l, err
	}
	l.Marketplace = domain.Marketplace(marketplace)
	if margin.Valid {
		m := margin.Float64
		l.Margin = &m
	}
	return l, nil
}

// SaveCompetitorPrices inserts observations in one transaction. Missing IDs are generated.
func (r *SQLRepository) SaveCompetitorPrices(ctx context.Context, sellerID string, prices []domain.CompetitorPrice) error {
	if err := requireSeller(sellerID); err != nil {
		return err
	}
	for _, p := range prices {
		if p.SKU == "" || !(p.Price > 0) {
			return fmt.Errorf("%w: competitor price needs a sku and a positive price", ErrInvalidInput)
		}
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := r.rebind(`
			INSERT INTO competitor_prices (id, seller_id, sku, competitor_name, price, marketplace, captured_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		for i := range prices {
			p := &prices[i]
			if p.ID == "" {
				p.ID = uuid.New().String()
			}
			if p.CapturedAt.IsZero() {
				p.CapturedAt = time.Now().UTC()
			}
			p.SellerID = sellerID
			if _, err := tx.ExecContext(ctx, query,
				p.ID, sellerID, p.SKU, p.CompetitorName, p.Price, string(p.Marketplace), p.CapturedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// PricesForSku returns observations for a SKU, newest first.
func (r *SQLRepository) PricesForSku(ctx context.Context, sellerID string, sku string) ([]domain.CompetitorPrice, error) {
	if err := requireSeller(sellerID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, seller_id, sku, competitor_name, price, marketplace, captured_at
		FROM competitor_prices
		WHERE seller_id = ? AND sku = ?
		ORDER BY captured_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sellerID, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := []domain.CompetitorPrice{}
	for rows.Next() {
		var p domain.CompetitorPrice
		var marketplace string
		if err := rows.Scan(&p.ID, &p.SellerID, &p.SKU, &p.CompetitorName, &p.Price, &marketplace, &p.CapturedAt); err != nil {
			return nil, err
		}
		p.Marketplace = domain.Marketplace(marketplace)
		prices = append(prices, p)
	}

	return prices, rows.Err()
}

// ClearCompetitorPrices removes every observation of a seller.
func (r *SQLRepository) ClearCompetitorPrices(ctx context.Context, sellerID string) error {
	if err := requireSeller(sellerID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM competitor_prices WHERE seller_id = ?`), sellerID)
	return err
}
