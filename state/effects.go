package state

import "github.com/wfunc/holdgame/device"

type EffectKind int

const (
	// EffectSetGate tells the coordinator which commands the new phase permits.
	EffectSetGate EffectKind = iota
	// EffectForcePumpStop ends any pump activity, bypassing the hold lock.
	EffectForcePumpStop
	// EffectCancelTimers drops every pending display, pause and priming timer.
	EffectCancelTimers
	// EffectCommitScores submits the final standings.
	EffectCommitScores
)

func (k EffectKind) String() string {
	switch k {
	case EffectSetGate:
		return "set_gate"
	case EffectForcePumpStop:
		return "force_pump_stop"
	case EffectCancelTimers:
		return "cancel_timers"
	case EffectCommitScores:
		return "commit_scores"
	default:
		return "unknown"
	}
}

type Effect struct {
	Kind EffectKind
	Gate device.Gate
}

// pumpMayRun is true for phases in which the pump can be running: the
// priming pulse while waiting, and the hold itself.
func pumpMayRun(p Phase) bool {
	return p == WaitingForTemperature || p == Preparation || p == Active
}

// Effects lists, in execution order, the side effects of moving from one
// phase to another.
func Effects(from, to Phase) []Effect {
	effects := []Effect{{Kind: EffectSetGate, Gate: to.Gate()}}

	switch to {
	case Completed, Failed:
		// every cycle ends here exactly once
		effects = append(effects, Effect{Kind: EffectForcePumpStop})
	case Setup:
		if from.Running() {
			if pumpMayRun(from) {
				effects = append(effects, Effect{Kind: EffectForcePumpStop})
			}
			effects = append(effects, Effect{Kind: EffectCancelTimers})
		}
	case WaitingForTemperature:
		if from != Setup {
			if pumpMayRun(from) {
				effects = append(effects, Effect{Kind: EffectForcePumpStop})
			}
			effects = append(effects, Effect{Kind: EffectCancelTimers})
		}
	case Finished:
		if pumpMayRun(from) {
			effects = append(effects, Effect{Kind: EffectForcePumpStop})
		}
		effects = append(effects, Effect{Kind: EffectCancelTimers}, Effect{Kind: EffectCommitScores})
	}
	return effects
}

// Has reports whether effects contains kind.
func Has(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
