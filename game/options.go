// game/options.go
package game

import (
	"time"

	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/opponent"
	"github.com/wfunc/holdgame/state"
	"go.uber.org/zap"
)

// Timing constants for the fixed delays between phases.
const (
	DefaultTick             = 100 * time.Millisecond
	DisplayDelay            = 2 * time.Second
	EliminatedDelay         = 4 * time.Second
	PauseDelay              = 1 * time.Second
	PrimingTicks            = 5
	DefaultHeaterRetryTicks = 10
)

// Device is the part of the coordinator the session drives.
type Device interface {
	SetGate(g device.Gate)
	LockPumpStop()
	RequestPump(on bool) device.Outcome
	ForcePumpStop() device.Outcome
	RequestHeater(on bool) device.Outcome
	RequestTemperature(celsius int) device.Outcome
	ResyncHeater()
	TemperatureReady() bool
	Connected() bool
	State() device.State
}

// Result is one leaderboard submission.
type Result struct {
	Name   string
	Score  float64
	Rounds int
}

// ResultSink receives final standings when a game finishes. Submit must not
// block; implementations hand the work to another goroutine.
type ResultSink interface {
	Submit(r Result)
}

// Observer is notified of phase changes and scored turns.
type Observer interface {
	ObservePhase(from, to state.Phase)
	ObserveTurn(t TurnResult)
}

type nopSink struct{}

func (nopSink) Submit(Result) {}

type nopObserver struct{}

func (nopObserver) ObservePhase(state.Phase, state.Phase) {}
func (nopObserver) ObserveTurn(TurnResult)                {}

type options struct {
	log         *zap.SugaredLogger
	sink        ResultSink
	observer    Observer
	opponent    *opponent.Opponent
	tick        time.Duration
	settings    Settings
	heaterRetry int
}

// Option configures a Session.
type Option func(*options)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func WithResultSink(sink ResultSink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithOpponent injects the synthetic player's random source.
func WithOpponent(opp *opponent.Opponent) Option {
	return func(o *options) {
		if opp != nil {
			o.opponent = opp
		}
	}
}

// WithTick sets how much virtual time each Tick advances.
func WithTick(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tick = d
		}
	}
}

// WithSettings sets the initial settings. Invalid settings are ignored.
func WithSettings(s Settings) Option {
	return func(o *options) {
		if v, err := s.Validate(); err == nil {
			o.settings = v
		}
	}
}

// WithHeaterRetry sets how many ticks apart the session re-requests the
// heater while waiting for temperature.
func WithHeaterRetry(ticks int) Option {
	return func(o *options) {
		if ticks > 0 {
			o.heaterRetry = ticks
		}
	}
}
