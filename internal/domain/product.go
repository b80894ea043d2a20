package domain

import (
	"math"
	"time"
)

// Marketplace identifies a sales channel a product is listed on.
type Marketplace string

const (
	MarketplaceMLClassico Marketplace = "mercadolivre_classico"
	MarketplaceMLPremium  Marketplace = "mercadolivre_premium"
	MarketplaceMagalu     Marketplace = "magalu"
	MarketplaceAmazon     Marketplace = "amazon"
	MarketplaceShopee     Marketplace = "shopee"
)

// Marketplaces lists every supported marketplace.
func Marketplaces() []Marketplace {
	return []Marketplace{
		MarketplaceMLClassico,
		MarketplaceMLPremium,
		MarketplaceMagalu,
		MarketplaceAmazon,
		MarketplaceShopee,
	}
}

// Valid reports whether m is a known marketplace.
func (m Marketplace) Valid() bool {
	for _, known := range Marketplaces() {
		if m == known {
			return true
		}
	}
	return false
}

// Product is a catalog entry. The engine only reads it.
type Product struct {
	SKU      string `json:"sku"`
	SellerID string `json:"sellerId,omitempty"`
	Name     string `json:"name"`
	Brand    string `json:"brand"`
	Stock    int    `json:"stock"`

	// Cost is nil when the catalog has no cost basis for the SKU.
	Cost *float64 `json:"cost,omitempty"`

	// Listings holds the current price per marketplace.
	Listings []Listing `json:"listings"`

	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Listing is the current offer of a product on one marketplace.
type Listing struct {
	Marketplace Marketplace `json:"marketplace"`
	Price       float64     `json:"price"`

	// Margin is the net margin percent reported by the catalog, if known.
	Margin *float64 `json:"margin,omitempty"`
}

// ListingFor returns the listing for a marketplace.
func (p *Product) ListingFor(m Marketplace) (Listing, bool) {
	for _, l := range p.Listings {
		if l.Marketplace == m {
			return l, true
		}
	}
	return Listing{}, false
}

// ValidCost returns the unit cost if it is present, finite and non-negative.
func (p *Product) ValidCost() (float64, bool) {
	if p.Cost == nil {
		return 0, false
	}
	c := *p.Cost
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
		return 0, false
	}
	return c, true
}

// MarginAt returns the net margin percent of a listing: the stored value when the
// catalog provides one, else (price - cost) / price * 100.
func (p *Product) MarginAt(l Listing) (float64, bool) {
	if l.Margin != nil {
		return *l.Margin, true
	}
	cost, ok := p.ValidCost()
	if !ok || l.Price <= 0 {
		return 0, false
	}
	return (l.Price - cost) / l.Price * 100, true
}

// CompetitorPrice is one observation of a competitor offer. Immutable once captured.
type CompetitorPrice struct {
	ID             string      `json:"id"`
	SellerID       string      `json:"sellerId,omitempty"`
	SKU            string      `json:"sku"`
	CompetitorName string      `json:"competitorName"`
	Price          float64     `json:"competitorPrice"`
	Marketplace    Marketplace `json:"marketplace"`
	CapturedAt     time.Time   `json:"capturedAt"`
}

// ListingKey identifies one evaluated target: a SKU on a marketplace.
type ListingKey struct {
	SKU         string      `json:"sku"`
	Marketplace Marketplace `json:"marketplace"`
}

func (k ListingKey) String() string {
	return k.SKU + "@" + string(k.Marketplace)
}
