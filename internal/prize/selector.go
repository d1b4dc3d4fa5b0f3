package prize

import (
	"math/rand/v2"

	"daily-reward-api/internal/models"
	"daily-reward-api/internal/money"
)

// Selector draws a reward tier weighted by Weight.
type Selector struct {
	draw func() float64
}

// NewSelector returns a selector drawing from rnd, which must return values in
// [0, 1). A nil rnd uses the global math/rand/v2 source.
func NewSelector(rnd func() float64) *Selector {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Selector{draw: rnd}
}

// Affordable keeps tiers with positive weight whose value fits in remaining
// subunits, preserving configured order.
func Affordable(tiers []models.RewardTier, remaining int64) []models.RewardTier {
	var out []models.RewardTier
	for _, t := range tiers {
		if t.Weight <= 0 {
			continue
		}
		if money.ToSubunits(t.Value) > remaining {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Select picks an affordable tier. ok is false when nothing fits the budget.
func (s *Selector) Select(tiers []models.RewardTier, remaining int64) (models.RewardTier, bool) {
	candidates := Affordable(tiers, remaining)
	if len(candidates) == 0 {
		return models.RewardTier{}, false
	}

	var total float64
	for _, t := range candidates {
		total += t.Weight
	}

	r := s.draw() * total
	for _, t := range candidates {
		r -= t.Weight
		if r <= 0 {
			return t, true
		}
	}
	// Floating point residue.
	return candidates[len(candidates)-1], true
}
