// Package reward maps terminal trade outcomes to crown tiers and applies
// the 3-for-1 promotion cascade to a crown inventory.
package reward

import (
	"fmt"
	"time"

	"perp-ritual-lab/internal/domain"
)

// promoteAt is the unit count that converts into one unit of the next tier.
const promoteAt = 3

// TierThreshold pairs a tier with the minimum take-profit multiple that
// earns it. Thresholds are sorted ascending by multiple.
type TierThreshold struct {
	ID          domain.CrownTierID
	MinMultiple float64
}

// Thresholds is the award table, lowest tier first.
var Thresholds = []TierThreshold{
	{domain.TierFragment, 0},
	{domain.TierGreen, 0.5},
	{domain.TierBlue, 1},
	{domain.TierPurple, 2},
	{domain.TierOrange, 5},
	{domain.TierPrism, 10},
}

// TierForMultiple selects the highest tier whose threshold does not exceed
// the multiple. Floor selection: a 0.9 multiple earns green, never blue.
func TierForMultiple(multiple float64) domain.CrownTierID {
	selected := Thresholds[0].ID
	for _, th := range Thresholds {
		if multiple >= th.MinMultiple {
			selected = th.ID
		}
	}
	return selected
}

// TierForOutcome maps a terminal session outcome to the awarded tier.
// Only a successful run earns the multiple-based tier; a failed or aborted
// run is consoled with a single fragment.
func TierForOutcome(status domain.SessionStatus, multiple float64) domain.CrownTierID {
	if status == domain.StatusSuccess {
		return TierForMultiple(multiple)
	}
	return domain.TierFragment
}

func tierIndex(id domain.CrownTierID) int {
	for i, t := range domain.TierOrder {
		if t == id {
			return i
		}
	}
	// An unknown tier id is a programming error, not a recoverable input.
	panic(fmt.Sprintf("reward: unknown crown tier %q", id))
}

// Apply increments the awarded tier by one unit and runs the promotion
// cascade: from the lowest tier upward (excluding the top tier), every
// group of three units converts into one unit of the next tier. Returns
// the new inventory and the ordered list of tiers gained via promotion.
// The directly awarded unit is not reported as a promotion.
//
// Apply is deterministic and does not mutate its input.
func Apply(inv domain.CrownInventory, awarded domain.CrownTierID) (domain.CrownInventory, []domain.CrownTierID) {
	idx := tierIndex(awarded) // validates the id before touching the inventory
	_ = idx

	next := inv.Clone()
	for _, id := range domain.TierOrder {
		if _, ok := next[id]; !ok {
			next[id] = 0
		}
	}
	next[awarded]++

	var promotions []domain.CrownTierID
	for i := 0; i < len(domain.TierOrder)-1; i++ {
		id := domain.TierOrder[i]
		up := domain.TierOrder[i+1]
		for next[id] >= promoteAt {
			next[id] -= promoteAt
			next[up]++
			promotions = append(promotions, up)
		}
	}
	return next, promotions
}

// Award applies a reward for a settled session and records it as a crown
// event. now is injected so events stay reproducible in tests.
func Award(inv domain.CrownInventory, status domain.SessionStatus, multiple float64, now time.Time) (domain.CrownInventory, *domain.CrownEvent) {
	tier := TierForOutcome(status, multiple)
	next, promotions := Apply(inv, tier)
	event := &domain.CrownEvent{
		AwardedTierID: tier,
		AwardedCount:  1,
		Upgrades:      promotions,
		CreatedAt:     now.UnixMilli(),
	}
	return next, event
}
