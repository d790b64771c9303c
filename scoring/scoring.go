// Package scoring holds the pure cycle-length and points rules.
package scoring

import "math"

const (
	// SkipPenalty is subtracted from the next cycle of a player who never
	// pressed during their previous turn.
	SkipPenalty = 2.0
	// MinCycleDuration is the floor for any cycle, in seconds.
	MinCycleDuration = 3.0

	SuccessBonus   = 7
	LongCycleBonus = 10
	// LongCycleThreshold is compared against the configured cycle length,
	// not the hold time.
	LongCycleThreshold = 15.0
	PointsPerSecond    = 3.0

	EliminationPenalty   = 20
	EmergencyStopPenalty = 10
	// StreakLimit is the number of consecutive failures that eliminates a
	// player outside hardcore mode.
	StreakLimit = 3
)

// CycleParams are the inputs of CycleDuration.
type CycleParams struct {
	InitialDuration float64
	Increment       float64
	Round           int
	Cycle           int
	Hardcore        bool
	SkippedLastTurn bool
}

// CycleDuration returns the hold length in seconds for the next cycle.
// Hardcore grows per cycle, normal mode grows per round.
func CycleDuration(p CycleParams) float64 {
	n := p.Round
	if p.Hardcore {
		n = p.Cycle
	}
	if n < 1 {
		n = 1
	}
	d := p.InitialDuration + p.Increment*float64(n-1)
	if p.SkippedLastTurn {
		d -= SkipPenalty
	}
	return math.Max(d, MinCycleDuration)
}

// PrepDuration returns the preparation countdown in seconds. It grows at a
// quarter of the cycle increment, once per round.
func PrepDuration(prepTime, increment float64, round int) float64 {
	if round < 1 {
		round = 1
	}
	return prepTime + (increment/4)*float64(round-1)
}

// Result is the scored outcome of one cycle.
type Result struct {
	Points  int
	Skipped bool
}

// Score applies the points rules. holdSeconds is ignored on success beyond
// its floor; a failure with no hold time is a skip.
func Score(success bool, holdSeconds, cycleDuration float64) Result {
	if holdSeconds < 0 {
		holdSeconds = 0
	}
	base := int(math.Floor(holdSeconds * PointsPerSecond))
	switch {
	case success:
		pts := base + SuccessBonus
		if cycleDuration > LongCycleThreshold {
			pts += LongCycleBonus
		}
		return Result{Points: pts}
	case holdSeconds > 0:
		return Result{Points: base}
	default:
		return Result{Skipped: true}
	}
}

// ShouldEliminate reports whether a failure eliminates the player.
func ShouldEliminate(hardcore bool, consecutiveFailures int) bool {
	return hardcore || consecutiveFailures >= StreakLimit
}
