// Package game is the headless tower-defense simulation. Everything here is
// pure and seedable so the same inputs always produce the same match, which
// is what lets squad members run the simulation locally and stay in sync
// from a shared game-start seed.
package game

// Rarity tiers for tower archetypes.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// TowerSpec is a tower archetype.
type TowerSpec struct {
	ID     string
	Name   string
	Rarity Rarity
	// Damage per shot.
	Damage int
	// Range in path units.
	Range float64
	// Cooldown in ticks between shots.
	Cooldown int
	// Cost in coins.
	Cost int
}

// EnemySpec is an enemy archetype. HP scales per wave; see waves.go.
type EnemySpec struct {
	ID   string
	Name string
	HP   int
	// Speed in path units per tick.
	Speed float64
	// Bounty in coins on kill.
	Bounty int
}

// TowerCatalog is the base tower set. Balance values are placeholders the
// game client overrides with its own data.
var TowerCatalog = []TowerSpec{
	{ID: "archer", Name: "Archer", Rarity: RarityCommon, Damage: 4, Range: 6, Cooldown: 4, Cost: 50},
	{ID: "cannon", Name: "Cannon", Rarity: RarityCommon, Damage: 12, Range: 5, Cooldown: 12, Cost: 90},
	{ID: "frost", Name: "Frost Spire", Rarity: RarityRare, Damage: 6, Range: 7, Cooldown: 6, Cost: 140},
	{ID: "tesla", Name: "Tesla Coil", Rarity: RarityRare, Damage: 9, Range: 5, Cooldown: 5, Cost: 160},
	{ID: "inferno", Name: "Inferno", Rarity: RarityEpic, Damage: 20, Range: 8, Cooldown: 10, Cost: 260},
	{ID: "void", Name: "Void Lance", Rarity: RarityLegendary, Damage: 45, Range: 10, Cooldown: 14, Cost: 420},
}

// EnemyCatalog is the base enemy set.
var EnemyCatalog = []EnemySpec{
	{ID: "runner", Name: "Runner", HP: 10, Speed: 0.6, Bounty: 2},
	{ID: "brute", Name: "Brute", HP: 40, Speed: 0.3, Bounty: 6},
	{ID: "swarm", Name: "Swarmling", HP: 4, Speed: 0.9, Bounty: 1},
	{ID: "warlord", Name: "Warlord", HP: 160, Speed: 0.25, Bounty: 25},
}

// TowerByID looks up a tower spec, returning false when unknown.
func TowerByID(id string) (TowerSpec, bool) {
	for _, spec := range TowerCatalog {
		if spec.ID == id {
			return spec, true
		}
	}
	return TowerSpec{}, false
}

// EnemyByID looks up an enemy spec, returning false when unknown.
func EnemyByID(id string) (EnemySpec, bool) {
	for _, spec := range EnemyCatalog {
		if spec.ID == id {
			return spec, true
		}
	}
	return EnemySpec{}, false
}
