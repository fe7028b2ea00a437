package game

// Tower is a placed tower instance in a running simulation.
type Tower struct {
	Spec TowerSpec
	Mode TargetMode
	// Position along the path the tower covers.
	Position float64
	// cooldown ticks remaining until the next shot.
	cooldown int
}

// Sim is a fixed-tick combat simulation for one defense lane.
//
// Step order within a tick is fixed (spawn, fire, move, cull) so replaying
// the same wave against the same towers always yields the same outcome.
type Sim struct {
	PathLength float64
	Lives      int
	Coins      int

	towers  []*Tower
	enemies []*Enemy

	wave     Wave
	spawnIdx int
	// spawnCountdown ticks until the next spawn in the current group.
	spawnCountdown int
	spawnedInGroup int

	tick int
}

// NewSim creates a simulation over a path of the given length.
func NewSim(pathLength float64, lives, coins int) *Sim {
	return &Sim{
		PathLength: pathLength,
		Lives:      lives,
		Coins:      coins,
	}
}

// PlaceTower adds a tower if the player can afford it. Returns false when
// coins are insufficient.
func (s *Sim) PlaceTower(spec TowerSpec, mode TargetMode, position float64) bool {
	if s.Coins < spec.Cost {
		return false
	}
	s.Coins -= spec.Cost
	s.towers = append(s.towers, &Tower{Spec: spec, Mode: mode, Position: position})
	return true
}

// StartWave begins spawning a wave. Any enemies still alive keep running.
func (s *Sim) StartWave(wave Wave) {
	s.wave = wave
	s.spawnIdx = 0
	s.spawnCountdown = 0
	s.spawnedInGroup = 0
}

// WaveActive reports whether spawns remain or enemies are still alive.
func (s *Sim) WaveActive() bool {
	return s.spawnIdx < len(s.wave.Spawns) || len(s.enemies) > 0
}

// Enemies returns the live enemies, in spawn order.
func (s *Sim) Enemies() []*Enemy { return s.enemies }

// Tick returns the current tick count.
func (s *Sim) Tick() int { return s.tick }

// Step advances the simulation by one tick.
func (s *Sim) Step() {
	s.tick++
	s.spawnStep()
	s.fireStep()
	s.moveStep()
	s.cullStep()
}

func (s *Sim) spawnStep() {
	if s.spawnIdx >= len(s.wave.Spawns) {
		return
	}
	if s.spawnCountdown > 0 {
		s.spawnCountdown--
		return
	}
	group := s.wave.Spawns[s.spawnIdx]
	s.enemies = append(s.enemies, &Enemy{Spec: group.Enemy, HP: group.Enemy.HP})
	s.spawnedInGroup++
	if s.spawnedInGroup >= group.Count {
		s.spawnIdx++
		s.spawnedInGroup = 0
	}
	s.spawnCountdown = group.SpacingTicks
}

func (s *Sim) fireStep() {
	for _, t := range s.towers {
		if t.cooldown > 0 {
			t.cooldown--
			continue
		}
		target := SelectTarget(t.Mode, t.Position, t.Spec.Range, s.enemies)
		if target == nil {
			continue
		}
		target.HP -= t.Spec.Damage
		if target.HP < 0 {
			target.HP = 0
		}
		t.cooldown = t.Spec.Cooldown
	}
}

func (s *Sim) moveStep() {
	for _, e := range s.enemies {
		if e.Alive() {
			e.Progress += e.Spec.Speed
		}
	}
}

// cullStep removes dead enemies (paying bounty) and leaked enemies
// (costing a life).
func (s *Sim) cullStep() {
	kept := s.enemies[:0]
	for _, e := range s.enemies {
		if !e.Alive() {
			s.Coins += e.Spec.Bounty
			continue
		}
		if e.Progress >= s.PathLength {
			s.Lives--
			continue
		}
		kept = append(kept, e)
	}
	s.enemies = kept
}

// Defeated reports whether the defense has fallen.
func (s *Sim) Defeated() bool { return s.Lives <= 0 }
