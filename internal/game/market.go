package game

import "math/rand"

// Market is a player-vs-market exchange for tower specs. Prices drift each
// tick by a bounded random walk, and trades pay a spread around the mid
// price.
type Market struct {
	rng *rand.Rand
	// mid price per tower id, in coins.
	mid map[string]float64
	// spreadPct is the half-spread applied to each side of a trade.
	spreadPct float64
	// driftPct bounds the per-tick random walk step.
	driftPct float64
}

// NewMarket creates a seeded market priced off the catalog costs.
func NewMarket(seed int64) *Market {
	m := &Market{
		rng:       rand.New(rand.NewSource(seed)),
		mid:       make(map[string]float64, len(TowerCatalog)),
		spreadPct: 0.08,
		driftPct:  0.03,
	}
	for _, spec := range TowerCatalog {
		m.mid[spec.ID] = float64(spec.Cost)
	}
	return m
}

// Drift advances every price by one random-walk step. Prices never fall
// below half the catalog cost.
func (m *Market) Drift() {
	for _, spec := range TowerCatalog {
		step := (m.rng.Float64()*2 - 1) * m.driftPct
		price := m.mid[spec.ID] * (1 + step)
		floor := float64(spec.Cost) / 2
		if price < floor {
			price = floor
		}
		m.mid[spec.ID] = price
	}
}

// BuyPrice is what the player pays for a tower: mid plus spread.
func (m *Market) BuyPrice(towerID string) (int, bool) {
	mid, ok := m.mid[towerID]
	if !ok {
		return 0, false
	}
	return int(mid * (1 + m.spreadPct)), true
}

// SellPrice is what the player receives for a tower: mid minus spread.
func (m *Market) SellPrice(towerID string) (int, bool) {
	mid, ok := m.mid[towerID]
	if !ok {
		return 0, false
	}
	return int(mid * (1 - m.spreadPct)), true
}
