package state

import (
	"errors"
	"fmt"

	"github.com/wfunc/holdgame/device"
)

// Phase is the session's game phase.
type Phase string

const (
	Setup                 Phase = "setup"
	WaitingForTemperature Phase = "waiting_for_temperature"
	Preparation           Phase = "preparation"
	Active                Phase = "active"
	Completed             Phase = "completed"
	Failed                Phase = "failed"
	Eliminated            Phase = "eliminated"
	Paused                Phase = "paused"
	Finished              Phase = "finished"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{Setup, WaitingForTemperature, Preparation, Active, Completed, Failed, Eliminated, Paused, Finished}

// Running reports whether a game is in progress.
func (p Phase) Running() bool {
	return p != Setup && p != Finished
}

// Gate returns the device gate for the phase. Heater commands are only safe
// while no turn is in progress.
func (p Phase) Gate() device.Gate {
	switch p {
	case Setup, Finished, WaitingForTemperature:
		return device.GateOpen
	default:
		return device.GateTurnActive
	}
}

// ErrTransitionNotAllowed is returned when a phase change is not in the table.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Machine tracks the current phase and rejects transitions the game rules do
// not allow. It is owned by the session and not locked.
type Machine struct {
	current     Phase
	transitions map[Phase]map[Phase]bool
}

func NewMachine() *Machine {
	m := &Machine{
		current:     Setup,
		transitions: make(map[Phase]map[Phase]bool),
	}
	m.AddTransition(Setup, WaitingForTemperature)
	m.AddTransition(Setup, Preparation)
	m.AddTransition(WaitingForTemperature, Preparation)
	m.AddTransition(Preparation, Active)
	m.AddTransition(Preparation, Failed)
	m.AddTransition(Active, Completed)
	m.AddTransition(Active, Failed)
	m.AddTransition(Failed, Eliminated)
	for _, from := range []Phase{Completed, Failed, Eliminated} {
		m.AddTransition(from, Paused)
	}
	m.AddTransition(Paused, Preparation)
	m.AddTransition(Paused, Finished)
	m.AddTransition(Finished, Setup)

	for _, p := range Phases {
		if p.Running() {
			// cancel, emergency stop and invariant failures
			m.AddTransition(p, Setup)
			m.AddTransition(p, Finished)
		}
		// device loss
		switch p {
		case Preparation, Active, Completed, Failed, Eliminated, Paused:
			m.AddTransition(p, WaitingForTemperature)
		}
	}
	return m
}

func (m *Machine) AddTransition(from, to Phase) {
	if _, ok := m.transitions[from]; !ok {
		m.transitions[from] = make(map[Phase]bool)
	}
	m.transitions[from][to] = true
}

func (m *Machine) Allowed(from, to Phase) bool {
	return m.transitions[from][to]
}

func (m *Machine) Current() Phase { return m.current }

// Change moves to next and returns the side effects the owner must run.
func (m *Machine) Change(next Phase) ([]Effect, error) {
	from := m.current
	if !m.Allowed(from, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, from, next)
	}
	m.current = next
	return Effects(from, next), nil
}

// Reset forces the machine back to Setup without consulting the table.
func (m *Machine) Reset() {
	m.current = Setup
}
