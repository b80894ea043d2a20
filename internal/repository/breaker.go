package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-finance/repricer/internal/domain"
)

// BreakerCatalog guards catalog reads with a circuit breaker so a failing
// database fails runs fast instead of stalling every worker.
type BreakerCatalog struct {
	inner domain.ProductCatalog
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerCatalog trips after the given number of consecutive failures and
// probes again after timeout.
func NewBreakerCatalog(inner domain.ProductCatalog, failures uint32, timeout time.Duration) *BreakerCatalog {
	st := gobreaker.Settings{Name: "catalog"}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= failures }
	st.Timeout = timeout
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
	}
	return &BreakerCatalog{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

// ListProducts implements domain.ProductCatalog.
func (b *BreakerCatalog) ListProducts(ctx context.Context, sellerID string) ([]*domain.Product, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.ListProducts(ctx, sellerID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Product), nil
}

// FindBySku implements domain.ProductCatalog.
func (b *BreakerCatalog) FindBySku(ctx context.Context, sellerID string, sku string) (*domain.Product, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.FindBySku(ctx, sellerID, sku)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Product), nil
}

// State reports the breaker state for readiness checks.
func (b *BreakerCatalog) State() gobreaker.State {
	return b.cb.State()
}

var _ domain.ProductCatalog = (*BreakerCatalog)(nil)
