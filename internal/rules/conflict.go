package rules

import (
	"sort"
	"time"

	"github.com/opensource-finance/repricer/internal/domain"
)

// Candidate is one rule's output for a listing within a batch run.
type Candidate struct {
	RuleID    string
	Priority  int
	UpdatedAt time.Time
	Price     float64
	Result    domain.SimulationResult
}

// ConflictResolver picks one authoritative price per listing when rules overlap.
type ConflictResolver struct{}

// NewConflictResolver creates a resolver.
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

// Resolve returns the winning candidate per listing: highest priority, then the most
// recently updated rule, then the smallest rule id.
func (r *ConflictResolver) Resolve(candidates map[domain.ListingKey][]Candidate) map[domain.ListingKey]Candidate {
	winners := make(map[domain.ListingKey]Candidate, len(candidates))
	for key, list := range candidates {
		if len(list) == 0 {
			continue
		}
		best := list[0]
		for _, c := range list[1:] {
			if beats(c, best) {
				best = c
			}
		}
		winners[key] = best
	}
	return winners
}

// Prices flattens winners to a listing -> price map.
func (r *ConflictResolver) Prices(winners map[domain.ListingKey]Candidate) map[domain.ListingKey]float64 {
	out := make(map[domain.ListingKey]float64, len(winners))
	for k, c := range winners {
		out[k] = c.Price
	}
	return out
}

func beats(a, b Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.RuleID < b.RuleID
}

// ResolvedPrice is the authoritative outcome for one listing in a batch run.
type ResolvedPrice struct {
	SKU         string              `json:"sku"`
	Marketplace domain.Marketplace  `json:"marketplace"`
	RuleID      string              `json:"ruleId"`
	Price       float64             `json:"price"`
	Status      domain.ResultStatus `json:"status"`
	Contenders  int                 `json:"contenders"`
}

func sortedResolved(winners map[domain.ListingKey]Candidate, candidates map[domain.ListingKey][]Candidate) []ResolvedPrice {
	out := make([]ResolvedPrice, 0, len(winners))
	for k, c := range winners {
		out = append(out, ResolvedPrice{
			SKU:         k.SKU,
			Marketplace: k.Marketplace,
			RuleID:      c.RuleID,
			Price:       c.Price,
			Status:      c.Result.Status,
			Contenders:  len(candidates[k]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		return out[i].Marketplace < out[j].Marketplace
	})
	return out
}
