package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/opensource-finance/repricer/internal/domain"
)

// PriceWriter stores parsed observations.
type PriceWriter interface {
	SaveCompetitorPrices(ctx context.Context, sellerID string, prices []domain.CompetitorPrice) error
}

// Invalidator drops cached observations for the imported SKUs.
type Invalidator interface {
	Invalidate(ctx context.Context, sellerID string, skus ...string) error
}

// Importer parses a CSV export and saves the valid rows.
type Importer struct {
	parser *Parser
	store  PriceWriter
	cache  Invalidator
}

// NewImporter creates an importer. cache may be nil.
func NewImporter(store PriceWriter, cache Invalidator) *Importer {
	return &Importer{parser: NewParser(), store: store, cache: cache}
}

// Import saves every valid row in one write. Row errors are returned in the
// result; the call only fails when the file or the write fails.
func (i *Importer) Import(ctx context.Context, sellerID string, r io.Reader) (*ParseResult, error) {
	result, err := i.parser.Parse(r)
	if err != nil {
		return nil, err
	}

	if len(result.Prices) > 0 {
		if err := i.store.SaveCompetitorPrices(ctx, sellerID, result.Prices); err != nil {
			return nil, fmt.Errorf("save competitor prices: %w", err)
		}
		if i.cache != nil {
			if err := i.cache.Invalidate(ctx, sellerID, uniqueSkus(result.Prices)...); err != nil {
				slog.Warn("failed to invalidate competitor price cache",
					"seller_id", sellerID,
					"error", err,
				)
			}
		}
	}

	slog.Info("competitor prices imported",
		"seller_id", sellerID,
		"total_rows", result.TotalRows,
		"valid_rows", result.ValidRows,
		"error_rows", len(result.Errors),
	)

	return result, nil
}

func uniqueSkus(prices []domain.CompetitorPrice) []string {
	seen := make(map[string]bool, len(prices))
	skus := make([]string, 0, len(prices))
	for _, p := range prices {
		if !seen[p.SKU] {
			seen[p.SKU] = true
			skus = append(skus, p.SKU)
		}
	}
	return skus
}
