package game

// Spawn is one group of enemies within a wave.
type Spawn struct {
	Enemy EnemySpec
	Count int
	// SpacingTicks between individual spawns in the group.
	SpacingTicks int
}

// Wave is a full wave composition.
type Wave struct {
	Number int
	Spawns []Spawn
}

// ComposeWave builds the composition for a wave number. Composition is a
// pure function of the wave number: every client derives the same wave.
//
// Enemy HP scales by 15% per wave (integer math, floor); counts grow
// stepwise; every fifth wave appends a warlord.
func ComposeWave(number int) Wave {
	if number < 1 {
		number = 1
	}

	wave := Wave{Number: number}
	runner, _ := EnemyByID("runner")
	swarm, _ := EnemyByID("swarm")
	brute, _ := EnemyByID("brute")
	warlord, _ := EnemyByID("warlord")

	wave.Spawns = append(wave.Spawns, Spawn{
		Enemy:        scaleHP(runner, number),
		Count:        4 + number,
		SpacingTicks: 6,
	})
	if number >= 3 {
		wave.Spawns = append(wave.Spawns, Spawn{
			Enemy:        scaleHP(swarm, number),
			Count:        6 + 2*number,
			SpacingTicks: 2,
		})
	}
	if number >= 5 {
		wave.Spawns = append(wave.Spawns, Spawn{
			Enemy:        scaleHP(brute, number),
			Count:        1 + number/4,
			SpacingTicks: 14,
		})
	}
	if number%5 == 0 {
		wave.Spawns = append(wave.Spawns, Spawn{
			Enemy:        scaleHP(warlord, number),
			Count:        number / 5,
			SpacingTicks: 30,
		})
	}
	return wave
}

func scaleHP(spec EnemySpec, wave int) EnemySpec {
	hp := spec.HP
	for i := 1; i < wave; i++ {
		hp += hp * 15 / 100
	}
	spec.HP = hp
	return spec
}

// TotalEnemies is the enemy count across all spawns in a wave.
func (w Wave) TotalEnemies() int {
	total := 0
	for _, s := range w.Spawns {
		total += s.Count
	}
	return total
}
