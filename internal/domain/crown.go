package domain

// CrownTierID identifies one reward tier. Tiers are strictly ordered by
// value; TierOrder lists them lowest first.
type CrownTierID string

const (
	TierFragment CrownTierID = "fragment"
	TierGreen    CrownTierID = "green"
	TierBlue     CrownTierID = "blue"
	TierPurple   CrownTierID = "purple"
	TierOrange   CrownTierID = "orange"
	TierPrism    CrownTierID = "prism"
)

// TierOrder is the canonical tier ordering, lowest value first.
var TierOrder = []CrownTierID{
	TierFragment,
	TierGreen,
	TierBlue,
	TierPurple,
	TierOrange,
	TierPrism,
}

// CrownInventory maps tier id to a non-negative unit count.
// After any reward application no tier below prism holds 3 or more units.
type CrownInventory map[CrownTierID]int

// NewCrownInventory returns an inventory with every tier at zero.
func NewCrownInventory() CrownInventory {
	inv := make(CrownInventory, len(TierOrder))
	for _, id := range TierOrder {
		inv[id] = 0
	}
	return inv
}

// Clone returns a deep copy of the inventory.
func (inv CrownInventory) Clone() CrownInventory {
	out := make(CrownInventory, len(inv))
	for id, n := range inv {
		out[id] = n
	}
	return out
}

// Total returns the unit count across all tiers.
func (inv CrownInventory) Total() int {
	sum := 0
	for _, n := range inv {
		sum += n
	}
	return sum
}

// CrownEvent records the outcome of one reward application. It is
// immutable; the next award supersedes it rather than mutating it.
type CrownEvent struct {
	AwardedTierID CrownTierID
	AwardedCount  int
	Upgrades      []CrownTierID // tiers gained via promotion, in order
	CreatedAt     int64         // unix ms
}
