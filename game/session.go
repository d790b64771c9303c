// game/session.go
package game

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/opponent"
	"github.com/wfunc/holdgame/scoring"
	"github.com/wfunc/holdgame/state"
	"github.com/wfunc/holdgame/timer"
	"go.uber.org/zap"
)

// turnTimers holds every delay that belongs to the game in progress.
const turnTimers timer.Group = "turn"

// TurnResult describes a scored turn.
type TurnResult struct {
	PlayerID      string  `json:"player_id"`
	Name          string  `json:"name"`
	Synthetic     bool    `json:"synthetic"`
	Success       bool    `json:"success"`
	HoldSeconds   float64 `json:"hold_seconds"`
	CycleDuration float64 `json:"cycle_duration"`
	Points        int     `json:"points"`
	Skipped       bool    `json:"skipped"`
	Eliminated    bool    `json:"eliminated"`
	Round         int     `json:"round"`
	Cycle         int     `json:"cycle"`
}

// Session is the turn, round and scoring state machine. It is not safe for
// concurrent use: one goroutine (the room controller) calls every method.
// Time only moves when Tick is called.
type Session struct {
	opts    options
	log     *zap.SugaredLogger
	dev     Device
	machine *state.Machine
	timers  *timer.Scheduler
	now     time.Time

	players  []*Player
	settings Settings
	rotation int

	currentIndex int
	currentRound int
	turnsInRound int
	roundSize    int
	currentCycle int

	cycleDuration float64
	prepDuration  float64
	timeRemaining time.Duration

	holding       bool
	holdStartedAt time.Time
	plan          *opponent.Plan

	priming      bool
	primingLeft  int
	waitingTicks int

	lastTurn *TurnResult
	games    int
	version  uint64
}

func NewSession(dev Device, opts ...Option) *Session {
	o := options{
		log:         zap.NewNop().Sugar(),
		sink:        nopSink{},
		observer:    nopObserver{},
		tick:        DefaultTick,
		settings:    DefaultSettings(),
		heaterRetry: DefaultHeaterRetryTicks,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.opponent == nil {
		o.opponent = opponent.NewSeeded(time.Now().UnixNano())
	}
	s := &Session{
		opts:         o,
		log:          o.log,
		dev:          dev,
		machine:      state.NewMachine(),
		timers:       timer.NewScheduler(),
		settings:     o.settings,
		currentRound: 1,
		currentCycle: 1,
	}
	dev.SetGate(s.machine.Current().Gate())
	return s
}

// --- read accessors ---

func (s *Session) Phase() state.Phase { return s.machine.Current() }

func (s *Session) Settings() Settings { return s.settings }

// Version increases on every observable change.
func (s *Session) Version() uint64 { return s.version }

// GamesFinished counts transitions into Finished.
func (s *Session) GamesFinished() int { return s.games }

// Now is the session's virtual clock.
func (s *Session) Now() time.Time { return s.now }

func (s *Session) Players() []Player {
	out := make([]Player, len(s.players))
	for i, p := range s.players {
		out[i] = *p
	}
	return out
}

// Rankings returns the players by points, highest first, ties by name.
func (s *Session) Rankings() []Player {
	return Rank(s.Players())
}

func (s *Session) current() *Player {
	if s.currentIndex < 0 || s.currentIndex >= len(s.players) {
		return nil
	}
	return s.players[s.currentIndex]
}

func (s *Session) activeCount() int {
	n := 0
	for _, p := range s.players {
		if !p.Eliminated {
			n++
		}
	}
	return n
}

func (s *Session) touch() { s.version++ }

// --- roster and settings ---

// AddPlayer adds a human player to the roster. Only allowed in Setup.
func (s *Session) AddPlayer(name string) (Player, error) {
	if s.Phase() != state.Setup {
		return Player{}, fmt.Errorf("add player: %w", ErrInvalidPhase)
	}
	name = normalizeName(name)
	if name == "" {
		return Player{}, ErrEmptyName
	}
	for _, p := range s.players {
		if strings.EqualFold(p.Name, name) {
			return Player{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	p := newPlayer(name, false)
	s.players = append(s.players, p)
	s.touch()
	s.log.Infow("player added", "id", p.ID, "name", p.Name)
	return *p, nil
}

// RemovePlayer removes a player by id. Only allowed in Setup.
func (s *Session) RemovePlayer(id string) error {
	if s.Phase() != state.Setup {
		return fmt.Errorf("remove player: %w", ErrInvalidPhase)
	}
	for i, p := range s.players {
		if p.ID == id {
			s.players = append(s.players[:i], s.players[i+1:]...)
			s.currentIndex = 0
			s.touch()
			s.log.Infow("player removed", "id", id, "name", p.Name)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
}

// SetSettings replaces the game settings. Only allowed in Setup.
func (s *Session) SetSettings(settings Settings) error {
	if s.Phase() != state.Setup {
		return fmt.Errorf("set settings: %w", ErrInvalidPhase)
	}
	v, err := settings.Validate()
	if err != nil {
		return err
	}
	s.settings = v
	s.touch()
	return nil
}

// --- game lifecycle ---

// StartGame begins a game with the current roster. A synthetic opponent
// joins when there is a single human or single-player mode is set, and the
// order is rotated so a human always plays first.
func (s *Session) StartGame() error {
	if s.Phase() != state.Setup {
		return fmt.Errorf("start game: %w", ErrInvalidPhase)
	}
	roster := make([]*Player, 0, len(s.players)+1)
	for _, p := range s.players {
		if !p.Synthetic {
			p.resetStats()
			roster = append(roster, p)
		}
	}
	if len(roster) == 0 {
		return ErrNoHumanPlayers
	}
	if len(roster) == 1 || s.settings.SinglePlayer {
		roster = append(roster, newPlayer(SyntheticName, true))
	}

	offset := s.rotation % len(roster)
	for roster[offset].Synthetic {
		offset = (offset + 1) % len(roster)
	}
	s.players = append(append(make([]*Player, 0, len(roster)), roster[offset:]...), roster[:offset]...)
	s.rotation++

	s.currentIndex = 0
	s.currentRound = 1
	s.currentCycle = 1
	s.turnsInRound = 0
	s.roundSize = s.activeCount()
	s.lastTurn = nil
	s.clearTurn()
	s.timers.Reset()
	s.touch()

	s.log.Infow("game started",
		"players", len(s.players),
		"first", s.players[0].Name,
		"rounds", s.settings.Rounds,
		"hardcore", s.settings.Hardcore)

	s.requestHeat()
	if s.ready() {
		s.beginTurn()
		return nil
	}
	s.enterWaiting()
	return nil
}

// SetHold records the hold signal. The next tick reads the latest value.
// Input is ignored while the synthetic opponent plays.
func (s *Session) SetHold(holding bool) {
	if p := s.current(); p != nil && p.Synthetic && s.Phase().Running() {
		return
	}
	if s.holding != holding {
		s.holding = holding
		s.touch()
	}
}

// CompleteTurn scores the current turn from outside the tick, for example
// from a UI that measures the hold itself.
func (s *Session) CompleteTurn(success bool, holdSeconds float64) error {
	switch s.Phase() {
	case state.Active:
	case state.Preparation:
		if success {
			return fmt.Errorf("complete turn before the hold started: %w", ErrInvalidPhase)
		}
	default:
		return fmt.Errorf("complete turn: %w", ErrInvalidPhase)
	}
	s.completeTurn(success, math.Max(holdSeconds, 0))
	return nil
}

// Reset abandons any game in progress and returns to Setup. No points are
// deducted.
func (s *Session) Reset() {
	if s.Phase() == state.Setup {
		return
	}
	s.log.Infow("session reset", "phase", s.Phase())
	s.transition(state.Setup)
	s.clearTurn()
}

// EmergencyStop deducts a penalty from the active player, stops the pump
// and the heater, and returns to Setup. While the game is still waiting for
// temperature no turn has begun and nobody is charged.
func (s *Session) EmergencyStop() error {
	if !s.Phase().Running() {
		return fmt.Errorf("emergency stop: %w", ErrInvalidPhase)
	}
	if p := s.current(); p != nil && s.Phase() != state.WaitingForTemperature {
		p.Points -= scoring.EmergencyStopPenalty
		s.log.Warnw("emergency stop", "player", p.Name, "phase", s.Phase(), "points", p.Points)
	}
	s.transition(state.Setup)
	s.clearTurn()
	s.dev.RequestHeater(false)
	return nil
}

// HandleDeviceLost moves a game that needs the appliance back to
// WaitingForTemperature. A turn in progress restarts unscored once the
// device is ready again.
func (s *Session) HandleDeviceLost() {
	switch s.Phase() {
	case state.Preparation, state.Active, state.Paused:
	case state.Completed, state.Failed, state.Eliminated:
		// already scored: pick the next player now since the pause timer
		// is about to be cancelled
		s.timers.CancelGroup(turnTimers)
		if !s.advance() {
			s.finish()
			return
		}
	case state.WaitingForTemperature:
		if s.priming {
			s.priming = false
			s.touch()
		}
		return
	default:
		return
	}
	s.log.Warnw("device lost during game", "phase", s.Phase(), "player", s.current().Name)
	s.plan = nil
	if s.current().Synthetic {
		s.holding = false
	}
	s.enterWaiting()
}

// Tick advances virtual time by one tick, runs the current phase and then
// any timers that came due.
func (s *Session) Tick() {
	s.now = s.now.Add(s.opts.tick)

	switch s.Phase() {
	case state.WaitingForTemperature:
		s.tickWaiting()
	case state.Preparation:
		s.tickPreparation()
	case state.Active:
		s.tickActive()
	}

	s.timers.Poll(s.now)
}

// --- transitions ---

func (s *Session) transition(next state.Phase) bool {
	from := s.machine.Current()
	effects, err := s.machine.Change(next)
	if err != nil {
		s.abandon(err)
		return false
	}
	s.log.Debugw("phase changed", "from", from, "to", next)
	s.opts.observer.ObservePhase(from, next)
	s.apply(effects)
	s.touch()
	return true
}

// abandon ends the current game after a broken invariant.
func (s *Session) abandon(err error) {
	from := s.machine.Current()
	s.log.Errorw("abandoning game", "phase", from, "error", err)
	s.machine.Reset()
	s.opts.observer.ObservePhase(from, state.Setup)
	s.apply(state.Effects(from, state.Setup))
	s.clearTurn()
	s.touch()
}

func (s *Session) apply(effects []state.Effect) {
	for _, e := range effects {
		switch e.Kind {
		case state.EffectSetGate:
			s.dev.SetGate(e.Gate)
		case state.EffectForcePumpStop:
			s.dev.ForcePumpStop()
		case state.EffectCancelTimers:
			s.timers.CancelGroup(turnTimers)
		case state.EffectCommitScores:
			s.commit()
		}
	}
}

func (s *Session) clearTurn() {
	s.holding = false
	s.plan = nil
	s.priming = false
	s.primingLeft = 0
	s.waitingTicks = 0
	s.timeRemaining = 0
}

func (s *Session) requestHeat() {
	if s.dev.State().HeaterSuspect {
		s.dev.ResyncHeater()
	}
	s.dev.RequestTemperature(s.settings.TargetTemperature)
	s.dev.RequestHeater(true)
}

// ready reports whether the appliance is at the game's target.
func (s *Session) ready() bool {
	st := s.dev.State()
	return st.Connected && st.TargetTemperature == s.settings.TargetTemperature && s.dev.TemperatureReady()
}

func (s *Session) enterWaiting() {
	if s.Phase() != state.WaitingForTemperature && !s.transition(state.WaitingForTemperature) {
		return
	}
	s.priming = false
	s.waitingTicks = 0
	s.requestHeat()
}

func (s *Session) tickWaiting() {
	if s.priming {
		if !s.dev.Connected() {
			s.priming = false
			s.touch()
			return
		}
		s.primingLeft--
		if s.primingLeft > 0 {
			return
		}
		s.priming = false
		s.dev.RequestPump(false)
		s.beginTurn()
		return
	}
	if !s.dev.Connected() {
		return
	}
	if s.ready() {
		if s.dev.RequestPump(true) == device.NotConnected {
			return
		}
		s.priming = true
		s.primingLeft = PrimingTicks
		s.touch()
		s.log.Debugw("temperature reached, priming pump", "target", s.settings.TargetTemperature)
		return
	}
	s.waitingTicks++
	if s.waitingTicks%s.opts.heaterRetry == 0 {
		s.requestHeat()
	}
}

// beginTurn enters Preparation for the current player.
func (s *Session) beginTurn() {
	if !s.dev.Connected() {
		s.enterWaiting()
		return
	}
	p := s.current()
	s.cycleDuration = scoring.CycleDuration(scoring.CycleParams{
		InitialDuration: s.settings.InitialDuration,
		Increment:       s.settings.Increment,
		Round:           s.currentRound,
		Cycle:           s.currentCycle,
		Hardcore:        s.settings.Hardcore,
		SkippedLastTurn: p.SkippedLastTurn,
	})
	s.prepDuration = scoring.PrepDuration(s.settings.PrepTime, s.settings.Increment, s.currentRound)
	if !s.transition(state.Preparation) {
		return
	}
	s.timeRemaining = seconds(s.prepDuration)
	s.plan = nil
	if p.Synthetic {
		plan := s.opts.opponent.Plan(s.cycleDuration)
		s.plan = &plan
		s.holding = plan.Pressed()
	}
	s.log.Infow("turn started",
		"player", p.Name,
		"round", s.currentRound,
		"cycle", s.currentCycle,
		"duration", s.cycleDuration,
		"prep", s.prepDuration)
}

func (s *Session) tickPreparation() {
	if !s.dev.Connected() {
		s.HandleDeviceLost()
		return
	}
	s.timeRemaining -= s.opts.tick
	if s.timeRemaining > 0 {
		return
	}
	s.timeRemaining = 0
	if !s.holding {
		s.completeTurn(false, 0)
		return
	}
	if !s.transition(state.Active) {
		return
	}
	if s.dev.RequestPump(true) == device.NotConnected {
		s.HandleDeviceLost()
		return
	}
	s.dev.LockPumpStop()
	s.holdStartedAt = s.now
	s.timeRemaining = seconds(s.cycleDuration)
}

func (s *Session) tickActive() {
	if !s.dev.Connected() {
		s.HandleDeviceLost()
		return
	}
	s.timeRemaining -= s.opts.tick
	if s.timeRemaining < 0 {
		s.timeRemaining = 0
	}
	elapsed := math.Min(s.now.Sub(s.holdStartedAt).Seconds(), s.cycleDuration)
	if s.plan != nil {
		if at, ok := s.plan.ReleaseAt(); ok && elapsed >= at {
			s.holding = false
			elapsed = at
		}
	}
	if !s.holding {
		s.completeTurn(false, elapsed)
		return
	}
	if s.timeRemaining == 0 {
		s.completeTurn(true, s.cycleDuration)
	}
}

// completeTurn scores the current player and schedules the pause.
func (s *Session) completeTurn(success bool, holdSeconds float64) {
	p := s.current()
	if p == nil || p.Eliminated {
		s.abandon(fmt.Errorf("%w: no active player to score", ErrInvalidPhase))
		return
	}
	next := state.Failed
	if success {
		next = state.Completed
	}
	if !s.transition(next) {
		return
	}

	res := scoring.Score(success, holdSeconds, s.cycleDuration)
	p.Points += res.Points
	if success {
		p.CompletedCycles++
		p.ConsecutiveFailures = 0
		p.SkippedLastTurn = false
	} else {
		p.FailedCycles++
		p.ConsecutiveFailures++
		p.SkippedLastTurn = res.Skipped
	}
	turn := TurnResult{
		PlayerID:      p.ID,
		Name:          p.Name,
		Synthetic:     p.Synthetic,
		Success:       success,
		HoldSeconds:   holdSeconds,
		CycleDuration: s.cycleDuration,
		Points:        res.Points,
		Skipped:       res.Skipped,
		Round:         s.currentRound,
		Cycle:         s.currentCycle,
	}

	delay := DisplayDelay
	if !success && scoring.ShouldEliminate(s.settings.Hardcore, p.ConsecutiveFailures) {
		if !s.transition(state.Eliminated) {
			return
		}
		p.Points -= scoring.EliminationPenalty
		p.Eliminated = true
		turn.Eliminated = true
		delay = EliminatedDelay
		s.log.Infow("player eliminated", "player", p.Name, "points", p.Points)
	}

	s.holding = false
	s.plan = nil
	s.lastTurn = &turn
	s.currentCycle++
	s.turnsInRound++
	if s.turnsInRound >= s.roundSize {
		s.turnsInRound = 0
		s.currentRound++
		s.roundSize = s.activeCount()
	}
	s.opts.observer.ObserveTurn(turn)
	s.log.Infow("turn scored",
		"player", p.Name,
		"success", success,
		"hold", holdSeconds,
		"points", res.Points,
		"total", p.Points)

	s.timers.After(s.now, delay, turnTimers, s.enterPause)
	s.touch()
}

func (s *Session) enterPause() {
	if !s.transition(state.Paused) {
		return
	}
	if !s.advance() {
		s.finish()
		return
	}
	s.timers.After(s.now, PauseDelay, turnTimers, s.beginTurn)
}

// advance selects the next active player. It returns false when the game
// is over.
func (s *Session) advance() bool {
	if s.activeCount() < 2 || s.currentRound > s.settings.Rounds {
		return false
	}
	for i := 1; i <= len(s.players); i++ {
		idx := (s.currentIndex + i) % len(s.players)
		if !s.players[idx].Eliminated {
			s.currentIndex = idx
			s.touch()
			return true
		}
	}
	return false
}

func (s *Session) finish() {
	if !s.transition(state.Finished) {
		return
	}
	s.games++
	s.log.Infow("game finished", "rounds", s.currentRound-1, "active", s.activeCount())
}

// commit submits every human's average points per configured round.
func (s *Session) commit() {
	rounds := s.settings.Rounds
	for _, p := range s.players {
		if p.Synthetic {
			continue
		}
		s.opts.sink.Submit(Result{
			Name:   p.Name,
			Score:  float64(p.Points) / float64(rounds),
			Rounds: rounds,
		})
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
