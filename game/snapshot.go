// game/snapshot.go
package game

import "github.com/wfunc/holdgame/state"

// DeviceStatus is the appliance part of a snapshot.
type DeviceStatus struct {
	Connected     bool    `json:"connected"`
	HeaterOn      bool    `json:"heater_on"`
	PumpOn        bool    `json:"pump_on"`
	Temperature   float64 `json:"temperature"`
	Target        int     `json:"target"`
	Ready         bool    `json:"ready"`
	HeaterSuspect bool    `json:"heater_suspect"`
}

// Snapshot is a copy of everything the UI shows.
type Snapshot struct {
	Phase         state.Phase  `json:"phase"`
	Round         int          `json:"round"`
	Rounds        int          `json:"rounds"`
	TurnsInRound  int          `json:"turns_in_round"`
	Cycle         int          `json:"cycle"`
	CycleDuration float64      `json:"cycle_duration"`
	PrepDuration  float64      `json:"prep_duration"`
	TimeRemaining float64      `json:"time_remaining"`
	Holding       bool         `json:"holding"`
	Priming       bool         `json:"priming"`
	CurrentPlayer *Player      `json:"current_player,omitempty"`
	Players       []Player     `json:"players"`
	Settings      Settings     `json:"settings"`
	LastTurn      *TurnResult  `json:"last_turn,omitempty"`
	Device        DeviceStatus `json:"device"`
	Version       uint64       `json:"version"`
}

func (s *Session) Snapshot() Snapshot {
	st := s.dev.State()
	snap := Snapshot{
		Phase:         s.Phase(),
		Round:         s.currentRound,
		Rounds:        s.settings.Rounds,
		TurnsInRound:  s.turnsInRound,
		Cycle:         s.currentCycle,
		CycleDuration: s.cycleDuration,
		PrepDuration:  s.prepDuration,
		TimeRemaining: s.timeRemaining.Seconds(),
		Holding:       s.holding,
		Priming:       s.priming,
		Players:       s.Players(),
		Settings:      s.settings,
		Device: DeviceStatus{
			Connected:     st.Connected,
			HeaterOn:      st.HeaterOn,
			PumpOn:        st.PumpOn,
			Temperature:   st.LastTemperature,
			Target:        st.TargetTemperature,
			Ready:         s.dev.TemperatureReady(),
			HeaterSuspect: st.HeaterSuspect,
		},
		Version: s.version,
	}
	if s.Phase().Running() {
		if p := s.current(); p != nil {
			cp := *p
			snap.CurrentPlayer = &cp
		}
	}
	if s.lastTurn != nil {
		lt := *s.lastTurn
		snap.LastTurn = &lt
	}
	return snap
}
