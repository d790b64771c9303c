// room/room.go
package room

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/models"
	"github.com/wfunc/holdgame/network"
	"github.com/wfunc/holdgame/state"
	"go.uber.org/zap"
)

// ErrClosed is returned for commands sent after Close.
var ErrClosed = errors.New("controller closed")

const (
	defaultInterval       = 100 * time.Millisecond
	defaultPollTicks      = 10
	defaultBroadcastEvery = 2
	notifyBuffer          = 64
)

type command struct {
	fn    func() error
	reply chan error
}

type notification struct {
	cmd        device.Command
	payload    []byte
	connection bool
	connected  bool
}

// Controller owns the game session and the device coordinator. Every
// mutation of either runs on its loop goroutine: the ticker, commands from
// the UI boundary and notifications from the device link.
type Controller struct {
	session     *game.Session
	coord       *device.Coordinator
	broadcaster Broadcaster
	ticks       TickObserver
	log         *zap.SugaredLogger

	interval       time.Duration
	pollTicks      int
	broadcastEvery int

	commands  chan command
	notifies  chan notification
	closeChan chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	tickCount   int
	lastVersion uint64
	lastPhase   state.Phase
	snapshot    atomic.Pointer[game.Snapshot]
}

type Option func(*Controller)

func WithBroadcaster(b Broadcaster) Option {
	return func(c *Controller) {
		if b != nil {
			c.broadcaster = b
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

func WithTickObserver(o TickObserver) Option {
	return func(c *Controller) {
		if o != nil {
			c.ticks = o
		}
	}
}

// WithInterval sets the wall-clock ticker period.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithPollTicks sets how often the temperature is read on links that do
// not push notifications.
func WithPollTicks(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.pollTicks = n
		}
	}
}

// WithBroadcastEvery sets how many ticks apart unchanged snapshots are
// pushed, so countdowns and temperatures stay live.
func WithBroadcastEvery(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.broadcastEvery = n
		}
	}
}

// NewController wires sess and coord together. The caller registers the
// controller as the link's handler.
func NewController(sess *game.Session, coord *device.Coordinator, opts ...Option) *Controller {
	c := &Controller{
		session:        sess,
		coord:          coord,
		broadcaster:    nopBroadcaster{},
		ticks:          nopTickObserver{},
		log:            zap.NewNop().Sugar(),
		interval:       defaultInterval,
		pollTicks:      defaultPollTicks,
		broadcastEvery: defaultBroadcastEvery,
		commands:       make(chan command),
		notifies:       make(chan notification, notifyBuffer),
		closeChan:      make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	snap := sess.Snapshot()
	c.snapshot.Store(&snap)
	c.lastPhase = snap.Phase
	return c
}

// Start launches the loop.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		go c.loop()
	})
}

// Close stops the loop and waits for it to exit.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
	})
	c.startOnce.Do(func() { close(c.done) })
	<-c.done
}

func (c *Controller) loop() {
	ticker := time.NewTicker(c.interval)
	defer func() {
		ticker.Stop()
		close(c.done)
	}()
	for {
		select {
		case <-ticker.C:
			c.Update()
		case cmd := <-c.commands:
			err := cmd.fn()
			c.publish(false)
			cmd.reply <- err
		case n := <-c.notifies:
			c.applyNotification(n)
			c.publish(false)
		case <-c.closeChan:
			return
		}
	}
}

// Update runs one tick. It is called by the loop; tests that do not start
// the loop may call it directly.
func (c *Controller) Update() {
	started := time.Now()
	c.tickCount++
	if !c.coord.SupportsNotify() && c.tickCount%c.pollTicks == 0 {
		c.coord.ReadTemperature()
	}
	c.session.Tick()
	c.publish(c.tickCount%c.broadcastEvery == 0)
	c.ticks.ObserveTick(time.Since(started))
}

func (c *Controller) applyNotification(n notification) {
	if !n.connection {
		c.coord.HandleNotify(n.cmd, n.payload)
		return
	}
	c.coord.HandleConnection(n.connected)
	if !n.connected {
		c.session.HandleDeviceLost()
	}
}

// publish stores a fresh snapshot and pushes it when something changed.
func (c *Controller) publish(force bool) {
	snap := c.session.Snapshot()
	c.snapshot.Store(&snap)
	if snap.Version == c.lastVersion && !force {
		return
	}
	c.lastVersion = snap.Version
	c.send(network.MsgTypeSnapshot, snap)

	if snap.Phase == state.Finished && c.lastPhase != state.Finished {
		c.send(network.MsgTypeRankings, RankingsMessage(snap))
	}
	c.lastPhase = snap.Phase
}

func (c *Controller) send(msgID uint16, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Errorw("encode broadcast", "msg", msgID, "error", err)
		return
	}
	if err := c.broadcaster.BroadcastToAll(msgID, data); err != nil {
		c.log.Warnw("broadcast failed", "msg", msgID, "error", err)
	}
}

// --- device.Handler, called from the link's goroutine ---

func (c *Controller) HandleNotify(cmd device.Command, payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.enqueue(notification{cmd: cmd, payload: buf})
}

func (c *Controller) HandleConnection(connected bool) {
	c.enqueue(notification{connection: true, connected: connected})
}

func (c *Controller) enqueue(n notification) {
	select {
	case c.notifies <- n:
	case <-c.closeChan:
	}
}

// --- boundary commands, safe from any goroutine ---

// Do runs fn on the loop goroutine and returns its error.
func (c *Controller) Do(fn func(*game.Session) error) error {
	cmd := command{
		fn:    func() error { return fn(c.session) },
		reply: make(chan error, 1),
	}
	select {
	case c.commands <- cmd:
	case <-c.closeChan:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) AddPlayer(name string) (game.Player, error) {
	var p game.Player
	err := c.Do(func(s *game.Session) error {
		var err error
		p, err = s.AddPlayer(name)
		return err
	})
	return p, err
}

func (c *Controller) RemovePlayer(id string) error {
	return c.Do(func(s *game.Session) error { return s.RemovePlayer(id) })
}

func (c *Controller) SetSettings(settings game.Settings) error {
	return c.Do(func(s *game.Session) error { return s.SetSettings(settings) })
}

func (c *Controller) StartGame() error {
	return c.Do(func(s *game.Session) error { return s.StartGame() })
}

func (c *Controller) SetHold(holding bool) error {
	return c.Do(func(s *game.Session) error {
		s.SetHold(holding)
		return nil
	})
}

func (c *Controller) CompleteTurn(success bool, holdSeconds float64) error {
	return c.Do(func(s *game.Session) error { return s.CompleteTurn(success, holdSeconds) })
}

func (c *Controller) Reset() error {
	return c.Do(func(s *game.Session) error {
		s.Reset()
		return nil
	})
}

func (c *Controller) EmergencyStop() error {
	return c.Do(func(s *game.Session) error { return s.EmergencyStop() })
}

// SetBrightness forwards to the coordinator on the loop goroutine.
func (c *Controller) SetBrightness(percent int) (device.Outcome, error) {
	var out device.Outcome
	err := c.Do(func(*game.Session) error {
		out = c.coord.RequestBrightness(percent)
		return nil
	})
	return out, err
}

// Snapshot returns the most recently published snapshot without touching
// the loop.
func (c *Controller) Snapshot() game.Snapshot {
	return *c.snapshot.Load()
}

func (c *Controller) Rankings() []game.Player {
	return game.Rank(c.Snapshot().Players)
}

// RankingsMessage builds the final standings payload for snap. Score is
// points per round, the figure submitted to the leaderboard.
func RankingsMessage(snap game.Snapshot) models.RankingsMessage {
	ranked := game.Rank(snap.Players)
	msg := models.RankingsMessage{Rounds: snap.Settings.Rounds, Rankings: make([]models.Ranking, 0, len(ranked))}
	for i, p := range ranked {
		score := float64(p.Points)
		if snap.Settings.Rounds > 0 {
			score /= float64(snap.Settings.Rounds)
		}
		msg.Rankings = append(msg.Rankings, models.Ranking{
			Place:  i + 1,
			Name:   p.Name,
			Points: p.Points,
			Score:  score,
			Bot:    p.Synthetic,
		})
	}
	return msg
}
