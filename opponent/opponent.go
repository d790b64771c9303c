// opponent/opponent.go
package opponent

import (
	"math/rand"
)

// Outcome probabilities for a synthetic turn.
const (
	SuccessChance      = 0.70
	EarlyReleaseChance = 0.20
	// the remaining 10% never press

	minReleaseFraction = 0.3
	maxReleaseFraction = 0.9
)

// Plan is a synthetic player's turn decided before the turn starts.
type Plan struct {
	Success     bool
	HoldSeconds float64
}

// Pressed reports whether the opponent holds at all.
func (p Plan) Pressed() bool {
	return p.Success || p.HoldSeconds > 0
}

// ReleaseAt returns how long into the hold the opponent lets go. A
// successful plan never releases early.
func (p Plan) ReleaseAt() (float64, bool) {
	if p.Success || !p.Pressed() {
		return 0, false
	}
	return p.HoldSeconds, true
}

// Opponent draws synthetic turn outcomes from a fixed distribution.
type Opponent struct {
	rng *rand.Rand
}

func New(rng *rand.Rand) *Opponent {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Opponent{rng: rng}
}

// NewSeeded is New with a deterministic source.
func NewSeeded(seed int64) *Opponent {
	return New(rand.New(rand.NewSource(seed)))
}

// Plan draws an outcome for a cycle of the given length in seconds.
func (o *Opponent) Plan(cycleDuration float64) Plan {
	roll := o.rng.Float64()
	switch {
	case roll < SuccessChance:
		return Plan{Success: true, HoldSeconds: cycleDuration}
	case roll < SuccessChance+EarlyReleaseChance:
		fraction := minReleaseFraction + o.rng.Float64()*(maxReleaseFraction-minReleaseFraction)
		return Plan{HoldSeconds: cycleDuration * fraction}
	default:
		return Plan{}
	}
}
