// Package selector resolves a rule's SKU selection against the catalog.
package selector

import (
	"strings"

	"github.com/opensource-finance/repricer/internal/domain"
)

// Target is one selected product together with the listings a rule should price.
type Target struct {
	Product  *domain.Product
	Listings []domain.Listing
}

// Resolve returns the catalog products a selection targets, in catalog order.
func Resolve(sel domain.SkuSelection, catalog []*domain.Product) []*domain.Product {
	targets := Targets(sel, catalog)
	out := make([]*domain.Product, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Product)
	}
	return out
}

// Targets resolves the selection and narrows each product to the listings in scope.
// A marketplace filter restricts listings; otherwise every listing is in scope.
func Targets(sel domain.SkuSelection, catalog []*domain.Product) []Target {
	switch sel.Type {
	case domain.SelectionManual:
		return manual(sel.ManualSkus, catalog)
	case domain.SelectionFilter:
		return filter(sel.Filters, catalog)
	default:
		return nil
	}
}

// MissingSkus returns manual SKUs that are not in the catalog, deduplicated, in list order.
func MissingSkus(sel domain.SkuSelection, catalog []*domain.Product) []string {
	if sel.Type != domain.SelectionManual {
		return nil
	}
	known := make(map[string]bool, len(catalog))
	for _, p := range catalog {
		known[p.SKU] = true
	}
	var missing []string
	seen := make(map[string]bool)
	for _, sku := range sel.ManualSkus {
		if known[sku] || seen[sku] {
			continue
		}
		seen[sku] = true
		missing = append(missing, sku)
	}
	return missing
}

func manual(skus []string, catalog []*domain.Product) []Target {
	if len(skus) == 0 {
		return nil
	}
	want := make(map[string]bool, len(skus))
	for _, sku := range skus {
		want[sku] = true
	}
	var out []Target
	for _, p := range catalog {
		if want[p.SKU] {
			out = append(out, Target{Product: p, Listings: p.Listings})
		}
	}
	return out
}

func filter(f *domain.SkuFilter, catalog []*domain.Product) []Target {
	if f == nil {
		f = &domain.SkuFilter{}
	}

	// A malformed range matches nothing.
	for _, rg := range []*domain.Range{f.PriceRange, f.MarginRange, f.StockRange} {
		if rg != nil && !rg.Valid() {
			return nil
		}
	}

	brands := make(map[string]bool, len(f.Brands))
	for _, b := range f.Brands {
		brands[strings.ToLower(strings.TrimSpace(b))] = true
	}
	markets := make(map[domain.Marketplace]bool, len(f.Marketplaces))
	for _, m := range f.Marketplaces {
		markets[m] = true
	}

	var out []Target
	for _, p := range catalog {
		if len(brands) > 0 && !brands[strings.ToLower(strings.TrimSpace(p.Brand))] {
			continue
		}
		if f.StockRange != nil && !f.StockRange.Contains(float64(p.Stock)) {
			continue
		}

		listings := p.Listings
		if len(markets) > 0 {
			listings = nil
			for _, l := range p.Listings {
				if markets[l.Marketplace] {
					listings = append(listings, l)
				}
			}
			if len(listings) == 0 {
				continue
			}
		}

		if f.PriceRange != nil && !anyListing(listings, func(l domain.Listing) bool {
			return f.PriceRange.Contains(l.Price)
		}) {
			continue
		}
		if f.MarginRange != nil && !anyListing(listings, func(l domain.Listing) bool {
			m, ok := p.MarginAt(l)
			return ok && f.MarginRange.Contains(m)
		}) {
			continue
		}

		out = append(out, Target{Product: p, Listings: listings})
	}
	return out
}

func anyListing(listings []domain.Listing, pred func(domain.Listing) bool) bool {
	for _, l := range listings {
		if pred(l) {
			return true
		}
	}
	return false
}
