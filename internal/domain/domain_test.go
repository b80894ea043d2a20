package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-06-18 is a Tuesday.
var tuesday = time.Date(2024, 6, 18, 10, 30, 0, 0, time.UTC)

func TestScheduleNext(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		from     time.Time
		want     time.Time
	}{
		{"Realtime", Schedule{Frequency: FrequencyRealtime}, tuesday, tuesday},
		{"Hourly", Schedule{Frequency: FrequencyHourly}, tuesday, time.Date(2024, 6, 18, 11, 0, 0, 0, time.UTC)},
		{"DailyLaterToday", Schedule{Frequency: FrequencyDaily, SpecificTime: "14:00"}, tuesday, time.Date(2024, 6, 18, 14, 0, 0, 0, time.UTC)},
		{"DailyTomorrow", Schedule{Frequency: FrequencyDaily, SpecificTime: "09:00"}, tuesday, time.Date(2024, 6, 19, 9, 0, 0, 0, time.UTC)},
		{"DailyMidnight", Schedule{Frequency: FrequencyDaily}, tuesday, time.Date(2024, 6, 19, 0, 0, 0, 0, time.UTC)},
		{"WeeklyNextMonday", Schedule{Frequency: FrequencyWeekly, SpecificTime: "09:00", WeekDays: []int{1}}, tuesday, time.Date(2024, 6, 24, 9, 0, 0, 0, time.UTC)},
		{"WeeklySameDay", Schedule{Frequency: FrequencyWeekly, SpecificTime: "18:00", WeekDays: []int{2, 5}}, tuesday, time.Date(2024, 6, 18, 18, 0, 0, 0, time.UTC)},
		{"WeeklyLaterInWeek", Schedule{Frequency: FrequencyWeekly, SpecificTime: "08:00", WeekDays: []int{2, 5}}, tuesday, time.Date(2024, 6, 21, 8, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.schedule.Next(tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleDue(t *testing.T) {
	daily := Schedule{Frequency: FrequencyDaily, SpecificTime: "09:00"}
	last := time.Date(2024, 6, 17, 9, 0, 0, 0, time.UTC)

	assert.True(t, daily.Due(nil, tuesday), "never executed rules are due")
	assert.False(t, daily.Due(&last, time.Date(2024, 6, 18, 8, 59, 0, 0, time.UTC)))
	assert.True(t, daily.Due(&last, time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)))
	assert.True(t, Schedule{Frequency: FrequencyRealtime}.Due(&last, last))
	assert.False(t, Schedule{Frequency: "monthly"}.Due(&last, tuesday))
}

func TestScheduleValidate(t *testing.T) {
	invalid := map[string]Schedule{
		"UnknownFrequency": {Frequency: "monthly"},
		"WeeklyNoDays":     {Frequency: FrequencyWeekly},
		"WeekdayRange":     {Frequency: FrequencyWeekly, WeekDays: []int{7}},
		"BadClock":         {Frequency: FrequencyDaily, SpecificTime: "25:00"},
	}
	for name, s := range invalid {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Validate())
			_, err := s.Next(tuesday)
			assert.Error(t, err)
		})
	}

	assert.NoError(t, Schedule{Frequency: FrequencyWeekly, SpecificTime: "07:15", WeekDays: []int{0, 6}}.Validate())
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, NewRule("Margin floor", RuleMarginBased).Validate())

	tests := []struct {
		name   string
		mutate func(*PricingRule)
	}{
		{"ShortName", func(r *PricingRule) { r.Name = " ab " }},
		{"Status", func(r *PricingRule) { r.Status = "archived" }},
		{"PriorityLow", func(r *PricingRule) { r.Priority = 0 }},
		{"PriorityHigh", func(r *PricingRule) { r.Priority = 101 }},
		{"RangeInverted", func(r *PricingRule) { r.SkuSelection.Filters.PriceRange = &Range{Min: 200, Max: 100} }},
		{"FilterMarketplace", func(r *PricingRule) { r.SkuSelection.Filters.Marketplaces = []Marketplace{"ebay"} }},
		{"SelectionType", func(r *PricingRule) { r.SkuSelection.Type = "random" }},
		{"ParamsMismatch", func(r *PricingRule) { r.RuleParameters = DefaultParameters(RuleStockBased) }},
		{"NegativeMinMargin", func(r *PricingRule) { r.Safeguards.MinMargin = -1 }},
		{"MaxDiscountRange", func(r *PricingRule) { r.Safeguards.MaxDiscount = 120 }},
		{"Schedule", func(r *PricingRule) { r.Schedule = Schedule{Frequency: FrequencyWeekly} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := NewRule("Margin floor", RuleMarginBased)
			tt.mutate(rule)
			assert.ErrorIs(t, rule.Validate(), ErrInvalidRule)
		})
	}
}

func TestRuleDefaults(t *testing.T) {
	rule := NewRule("Undercut", RuleCompetitorBased)

	assert.Equal(t, RuleDraft, rule.Status)
	assert.Equal(t, DefaultPriority, rule.Priority)
	assert.Equal(t, SelectionFilter, rule.SkuSelection.Type)
	assert.Equal(t, DefaultSafeguards(), rule.Safeguards)
	assert.False(t, rule.CanExecute())

	params, err := rule.RuleParameters.For(RuleCompetitorBased)
	require.NoError(t, err)
	assert.Equal(t, RuleCompetitorBased, params.RuleType())

	_, err = rule.RuleParameters.For(RuleMarginBased)
	assert.Error(t, err, "only the block matching the rule type is present")
}

func TestProductMargins(t *testing.T) {
	cost := 50.0
	p := &Product{SKU: "SKU-1", Cost: &cost}

	margin, ok := p.MarginAt(Listing{Price: 100})
	require.True(t, ok)
	assert.InDelta(t, 50.0, margin, 0.0001)

	stored := 12.0
	margin, ok = p.MarginAt(Listing{Price: 100, Margin: &stored})
	require.True(t, ok)
	assert.Equal(t, 12.0, margin)

	_, ok = p.MarginAt(Listing{Price: 0})
	assert.False(t, ok)

	for _, bad := range []float64{-1, math.NaN(), math.Inf(1)} {
		p.Cost = &bad
		_, ok := p.ValidCost()
		assert.False(t, ok, "cost %v", bad)
	}
	p.Cost = nil
	_, ok = p.MarginAt(Listing{Price: 100})
	assert.False(t, ok)
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, ExecutionSuccess, DeriveStatus(ExecutionSummary{TotalSkusAnalyzed: 3}))
	assert.Equal(t, ExecutionPartial, DeriveStatus(ExecutionSummary{TotalSkusAnalyzed: 3, Errors: 1}))
	assert.Equal(t, ExecutionFailed, DeriveStatus(ExecutionSummary{TotalSkusAnalyzed: 3, Errors: 3}))
	assert.Equal(t, ExecutionSuccess, DeriveStatus(ExecutionSummary{}))
}

func TestMarketplaceValid(t *testing.T) {
	for _, m := range Marketplaces() {
		assert.True(t, m.Valid(), string(m))
	}
	assert.False(t, Marketplace("ebay").Valid())
	assert.Equal(t, "SKU-1@magalu", ListingKey{SKU: "SKU-1", Marketplace: MarketplaceMagalu}.String())
}
