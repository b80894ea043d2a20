package safeguard

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/strategy"
)

func ptr(v float64) *float64 { return &v }

func product(cost float64) *domain.Product {
	return &domain.Product{SKU: "SKU-001", Name: "Fone Bluetooth", Cost: ptr(cost)}
}

func TestUndercutClippedByMaxChange(t *testing.T) {
	sg := domain.DefaultSafeguards() // minMargin 10, maxDiscount 15, maxChange 5

	res, err := New(0).Apply(142.10, product(100), sg, 150, "undercut")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWillChange, res.Status)
	assert.InDelta(t, 142.50, res.FinalPrice, 1e-9)
	assert.InDelta(t, -5.0, res.ChangePercent, 1e-9)
	assert.Contains(t, res.Reason, "undercut")
	assert.Contains(t, res.Reason, "max change")
}

func TestBlockedByMarginFloor(t *testing.T) {
	sg := domain.Safeguards{MinMargin: 25, MaxDiscount: 15, MaxChangePercent: 5}

	res, err := New(0).Apply(115, product(100), sg, 120, "undercut")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, res.Status)
	assert.Equal(t, 120.0, res.FinalPrice)
	assert.Contains(t, res.BlockReason, "margin floor 125.00")
	assert.Zero(t, res.ChangePercent)
}

func TestStockDiscountPassesThrough(t *testing.T) {
	sg := domain.Safeguards{MinMargin: 10, MaxDiscount: 15, MaxChangePercent: 10}

	res, err := New(0).Apply(190, product(100), sg, 200, "high stock")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWillChange, res.Status)
	assert.Equal(t, 190.0, res.FinalPrice)
	assert.Equal(t, "high stock", res.Reason)
}

func TestMaxDiscountClip(t *testing.T) {
	sg := domain.Safeguards{MinMargin: 0, MaxDiscount: 10, MaxChangePercent: 50}

	res, err := New(0).Apply(70, product(10), sg, 100, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWillChange, res.Status)
	assert.Equal(t, 90.0, res.FinalPrice)
}

func TestAbsoluteBounds(t *testing.T) {
	t.Run("min price raises", func(t *testing.T) {
		sg := domain.Safeguards{MaxDiscount: 50, MaxChangePercent: 50, MinPrice: ptr(95)}
		res, err := New(0).Apply(90, product(10), sg, 100, "")
		require.NoError(t, err)
		assert.Equal(t, 95.0, res.FinalPrice)
		assert.Equal(t, domain.StatusWillChange, res.Status)
	})

	t.Run("max price lowers", func(t *testing.T) {
		sg := domain.Safeguards{MaxDiscount: 50, MaxChangePercent: 50, MaxPrice: ptr(105)}
		res, err := New(0).Apply(120, product(10), sg, 100, "")
		require.NoError(t, err)
		assert.Equal(t, 105.0, res.FinalPrice)
	})

	t.Run("max price below floor blocks", func(t *testing.T) {
		sg := domain.Safeguards{MinMargin: 10, MaxDiscount: 50, MaxChangePercent: 50, MaxPrice: ptr(100)}
		res, err := New(0).Apply(130, product(100), sg, 120, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusBlocked, res.Status)
		assert.Equal(t, 120.0, res.FinalPrice)
	})
}

func TestNoChange(t *testing.T) {
	sg := domain.DefaultSafeguards()

	t.Run("candidate equals current", func(t *testing.T) {
		res, err := New(0).Apply(150, product(100), sg, 150, "match")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusNoChange, res.Status)
		assert.Equal(t, 150.0, res.FinalPrice)
	})

	t.Run("zero max change pins the price", func(t *testing.T) {
		res, err := New(0).Apply(140, product(100), domain.Safeguards{MaxDiscount: 15}, 150, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusNoChange, res.Status)
		assert.Equal(t, 150.0, res.FinalPrice)
	})
}

func TestClampBelowFloorBlocks(t *testing.T) {
	// Current price already below the floor; the variation clamp cannot reach it.
	sg := domain.Safeguards{MinMargin: 10, MaxDiscount: 15, MaxChangePercent: 5}
	res, err := New(0).Apply(120, product(100), sg, 100, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, res.Status)
	assert.Equal(t, 100.0, res.FinalPrice)
}

func TestFloorBlockWinsOverVariationClamp(t *testing.T) {
	// Floor 110; the 5% clamp alone would lift 100 to 142.50.
	sg := domain.Safeguards{MinMargin: 10, MaxDiscount: 50, MaxChangePercent: 5}
	res, err := New(0).Apply(100, product(100), sg, 150, "undercut")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, res.Status)
	assert.Equal(t, 150.0, res.FinalPrice)
	assert.Zero(t, res.ChangePercent)
	assert.NotContains(t, res.Reason, "max change")
}

func TestFloorComparedAtCentPrecision(t *testing.T) {
	// Exact floor 110.0011, listable floor 110.01.
	sg := domain.Safeguards{MinMargin: 10, MaxDiscount: 50, MaxChangePercent: 50}

	res, err := New(0).Apply(110.005, product(100.001), sg, 120, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWillChange, res.Status)
	assert.Equal(t, 110.01, res.FinalPrice)
	assert.GreaterOrEqual(t, res.FinalPrice, 100.001*1.1)

	res, err = New(0).Apply(110.004, product(100.001), sg, 120, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, res.Status)
}

func TestInvalidInputs(t *testing.T) {
	sg := domain.DefaultSafeguards()

	_, err := New(0).Apply(100, &domain.Product{SKU: "x"}, sg, 100, "")
	assert.ErrorIs(t, err, strategy.ErrInvalidProduct)

	_, err = New(0).Apply(100, product(10), sg, 0, "")
	assert.ErrorIs(t, err, strategy.ErrInvalidProduct)
}

func TestMarginFloor(t *testing.T) {
	assert.Equal(t, 110.0, MarginFloor(100, 10))
	assert.Equal(t, 125.0, MarginFloor(100, 25))
	assert.Equal(t, 11.24, MarginFloor(10.21, 10)) // 11.231 rounds up
}

func TestSafeguardInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	clamp := New(0)

	for i := 0; i < 5000; i++ {
		cost := strategy.RoundPrice(1 + rng.Float64()*200)
		current := strategy.RoundPrice(1 + rng.Float64()*400)
		candidate := strategy.RoundPrice(current * (0.5 + rng.Float64()))
		sg := domain.Safeguards{
			MinMargin:        float64(rng.Intn(30)),
			MaxDiscount:      float64(rng.Intn(50)),
			MaxChangePercent: float64(rng.Intn(20)),
		}

		res, err := clamp.Apply(candidate, product(cost), sg, current, "")
		require.NoError(t, err)

		if res.Status == domain.StatusBlocked {
			require.Equal(t, current, res.FinalPrice)
			continue
		}
		require.GreaterOrEqual(t, res.FinalPrice, cost*(1+sg.MinMargin/100)-1e-9)

		if res.Status == domain.StatusWillChange {
			require.GreaterOrEqual(t, res.FinalPrice, current*(1-sg.MaxDiscount/100)-1e-9)
			diff := res.FinalPrice - current
			if diff < 0 {
				diff = -diff
			}
			require.LessOrEqual(t, diff, current*sg.MaxChangePercent/100+1e-9)
			require.InDelta(t, (res.FinalPrice-current)/current*100, res.ChangePercent, 1e-9)
		}
	}
}
