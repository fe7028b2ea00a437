package game

import "math/rand"

// Gacha draws towers over rarity weights with a pity counter: after
// pityThreshold draws without an epic or better, the next draw is forced to
// at least epic.
//
// Draws consume the provided rand.Rand, so two players seeding identical
// generators and drawing in the same order receive identical results.
type Gacha struct {
	rng  *rand.Rand
	pity int
}

// pityThreshold is the number of consecutive sub-epic draws before a
// guaranteed epic-or-better.
const pityThreshold = 20

// rarityWeights are the relative draw weights per tier.
var rarityWeights = map[Rarity]int{
	RarityCommon:    70,
	RarityRare:      22,
	RarityEpic:      7,
	RarityLegendary: 1,
}

// NewGacha creates a seeded gacha.
func NewGacha(seed int64) *Gacha {
	return &Gacha{rng: rand.New(rand.NewSource(seed))}
}

// Pity returns the current pity counter.
func (g *Gacha) Pity() int { return g.pity }

// Draw returns one tower spec.
func (g *Gacha) Draw() TowerSpec {
	rarity := g.rollRarity()
	if g.pity >= pityThreshold && rarity != RarityEpic && rarity != RarityLegendary {
		rarity = RarityEpic
	}

	if rarity == RarityEpic || rarity == RarityLegendary {
		g.pity = 0
	} else {
		g.pity++
	}

	pool := towersOfRarity(rarity)
	return pool[g.rng.Intn(len(pool))]
}

func (g *Gacha) rollRarity() Rarity {
	total := 0
	for _, w := range rarityWeights {
		total += w
	}
	roll := g.rng.Intn(total)

	// Fixed iteration order; map iteration would break determinism.
	for _, rarity := range []Rarity{RarityCommon, RarityRare, RarityEpic, RarityLegendary} {
		roll -= rarityWeights[rarity]
		if roll < 0 {
			return rarity
		}
	}
	return RarityCommon
}

func towersOfRarity(rarity Rarity) []TowerSpec {
	var pool []TowerSpec
	for _, spec := range TowerCatalog {
		if spec.Rarity == rarity {
			pool = append(pool, spec)
		}
	}
	if len(pool) == 0 {
		return TowerCatalog
	}
	return pool
}
