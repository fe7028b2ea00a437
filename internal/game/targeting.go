package game

import "math"

// TargetMode selects which enemy in range a tower shoots.
type TargetMode string

const (
	// TargetFirst picks the enemy furthest along the path.
	TargetFirst TargetMode = "first"
	// TargetLast picks the enemy least far along the path.
	TargetLast TargetMode = "last"
	// TargetStrongest picks the highest-HP enemy.
	TargetStrongest TargetMode = "strongest"
	// TargetNearest picks the enemy closest to the tower.
	TargetNearest TargetMode = "nearest"
)

// Enemy is a live enemy instance in a running simulation.
type Enemy struct {
	Spec EnemySpec
	HP   int
	// Progress is the distance traveled along the path.
	Progress float64
}

// Alive reports whether the enemy is still in play.
func (e *Enemy) Alive() bool { return e.HP > 0 }

// SelectTarget picks a target for a tower at towerPos among in-range
// enemies, or nil when none qualify. Ties resolve to the earlier enemy in
// the slice, which is spawn order, so target selection is deterministic.
func SelectTarget(mode TargetMode, towerPos, towerRange float64, enemies []*Enemy) *Enemy {
	var best *Enemy
	for _, e := range enemies {
		if !e.Alive() {
			continue
		}
		if math.Abs(e.Progress-towerPos) > towerRange {
			continue
		}
		if best == nil || better(mode, towerPos, e, best) {
			best = e
		}
	}
	return best
}

func better(mode TargetMode, towerPos float64, candidate, best *Enemy) bool {
	switch mode {
	case TargetLast:
		return candidate.Progress < best.Progress
	case TargetStrongest:
		return candidate.HP > best.HP
	case TargetNearest:
		return math.Abs(candidate.Progress-towerPos) < math.Abs(best.Progress-towerPos)
	default: // TargetFirst
		return candidate.Progress > best.Progress
	}
}
