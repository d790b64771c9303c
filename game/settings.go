// game/settings.go
package game

import (
	"fmt"

	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/scoring"
)

// Settings are fixed for the length of a game. Durations are in seconds.
type Settings struct {
	InitialDuration   float64 `json:"initial_duration"`
	Increment         float64 `json:"increment"`
	PrepTime          float64 `json:"prep_time"`
	TargetTemperature int     `json:"target_temperature"`
	Rounds            int     `json:"rounds"`
	Hardcore          bool    `json:"hardcore"`
	SinglePlayer      bool    `json:"single_player"`
}

func DefaultSettings() Settings {
	return Settings{
		InitialDuration:   5,
		Increment:         2,
		PrepTime:          3,
		TargetTemperature: 185,
		Rounds:            5,
	}
}

// Validate returns s with the target clamped to the appliance range, or
// ErrInvalidSettings.
func (s Settings) Validate() (Settings, error) {
	switch {
	case s.InitialDuration < scoring.MinCycleDuration:
		return s, fmt.Errorf("%w: initial duration %.1fs is below %.0fs", ErrInvalidSettings, s.InitialDuration, scoring.MinCycleDuration)
	case s.Increment < 0:
		return s, fmt.Errorf("%w: negative increment", ErrInvalidSettings)
	case s.PrepTime < 0:
		return s, fmt.Errorf("%w: negative prep time", ErrInvalidSettings)
	case s.Rounds < 1:
		return s, fmt.Errorf("%w: at least one round is required", ErrInvalidSettings)
	}
	s.TargetTemperature = device.ClampTarget(s.TargetTemperature)
	return s, nil
}
