// Package bridge implements device.Link over a websocket to a BLE bridge
// daemon. Frames use the network packet layout with the device command as
// msg id and the raw characteristic payload as body.
package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/network"
	"go.uber.org/zap"
)

var (
	ErrWriteQueueFull = errors.New("bridge write queue full")
	ErrReadTimeout    = errors.New("bridge read timed out")
)

const (
	writeQueueSize        = 32
	defaultReconnectDelay = 2 * time.Second
	defaultReadTimeout    = time.Second
	defaultPingInterval   = 10 * time.Second
	writeWait             = 5 * time.Second
)

type frame struct {
	cmd     device.Command
	payload []byte
}

// Link keeps a websocket to the bridge open, reconnecting until its
// context is cancelled. Connected is true only while both the websocket
// and the bridge's own BLE link are up.
type Link struct {
	url            string
	dialer         *websocket.Dialer
	log            *zap.SugaredLogger
	reconnectDelay time.Duration
	readTimeout    time.Duration
	pingInterval   time.Duration

	writes chan frame

	mu      sync.RWMutex
	wsUp    bool
	bleUp   bool
	handler device.Handler
	pending map[device.Command]chan []byte

	// serialises Read so there is one waiter per command
	readMu sync.Mutex
}

type Option func(*Link)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Link) {
		if log != nil {
			l.log = log
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(l *Link) {
		if d != nil {
			l.dialer = d
		}
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.reconnectDelay = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

// WithPingInterval sets the websocket ping period. The connection is
// dropped when no pong arrives within two periods.
func WithPingInterval(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.pingInterval = d
		}
	}
}

func New(url string, opts ...Option) *Link {
	l := &Link{
		url:            url,
		dialer:         websocket.DefaultDialer,
		log:            zap.NewNop().Sugar(),
		reconnectDelay: defaultReconnectDelay,
		readTimeout:    defaultReadTimeout,
		pingInterval:   defaultPingInterval,
		writes:         make(chan frame, writeQueueSize),
		pending:        make(map[device.Command]chan []byte),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Link) SetHandler(h device.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.wsUp && l.bleUp
}

// SupportsNotify is always true: the bridge forwards every notification.
func (l *Link) SupportsNotify() bool { return true }

// Write queues the frame and returns without waiting for it to be sent.
func (l *Link) Write(cmd device.Command, payload []byte) error {
	if !l.Connected() {
		return device.ErrNotConnected
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case l.writes <- frame{cmd: cmd, payload: buf}:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// Read sends an empty-bodied frame for cmd and waits for the bridge to
// answer with the characteristic value.
func (l *Link) Read(cmd device.Command) ([]byte, error) {
	l.readMu.Lock()
	defer l.readMu.Unlock()

	ch := make(chan []byte, 1)
	l.mu.Lock()
	l.pending[cmd] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, cmd)
		l.mu.Unlock()
	}()

	if err := l.Write(cmd, nil); err != nil {
		return nil, err
	}
	select {
	case payload := <-ch:
		return payload, nil
	case <-time.After(l.readTimeout):
		return nil, ErrReadTimeout
	}
}

// Run dials the bridge and serves the connection, redialling after each
// failure, until ctx is done.
func (l *Link) Run(ctx context.Context) {
	for {
		if err := l.serve(ctx); err != nil && ctx.Err() == nil {
			l.log.Warnw("bridge connection lost", "url", l.url, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.reconnectDelay):
		}
	}
}

func (l *Link) serve(ctx context.Context) error {
	ws, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	conn := network.NewWSConnection(ws)
	conn.SetHeartbeat(l.pingInterval)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(l.pingInterval * 2))
	})

	// drop writes queued for a previous connection
	l.drain()
	// the bridge only accepts a connection once it is paired
	l.setLinkState(true, true)
	l.log.Infow("bridge connected", "url", l.url)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.writePump(ws, conn, stop)
	}()
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	err = l.readPump(conn)
	close(stop)
	conn.Close()
	wg.Wait()
	l.setLinkState(false, false)
	return err
}

func (l *Link) writePump(ws *websocket.Conn, conn *network.WSConnection, stop <-chan struct{}) {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case f := <-l.writes:
			if err := conn.Send(uint16(f.cmd), f.payload); err != nil {
				l.log.Warnw("bridge write failed", "command", f.cmd, "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

func (l *Link) readPump(conn *network.WSConnection) error {
	for {
		packet, err := conn.ReadPacket()
		if errors.Is(err, io.ErrShortBuffer) {
			l.log.Debugw("bridge frame discarded", "error", err)
			continue
		}
		if err != nil {
			return err
		}
		l.dispatch(packet)
	}
}

func (l *Link) dispatch(p *network.Packet) {
	if p.MsgID == network.MsgTypeLinkState {
		up, ok := device.DecodeSwitch(p.Data)
		if !ok {
			return
		}
		l.log.Infow("bridge link state", "up", up)
		l.setLinkState(true, up)
		return
	}

	cmd := device.Command(p.MsgID)
	payload := make([]byte, len(p.Data))
	copy(payload, p.Data)

	l.mu.RLock()
	waiter := l.pending[cmd]
	h := l.handler
	l.mu.RUnlock()

	if waiter != nil {
		select {
		case waiter <- payload:
		default:
		}
	}
	if h != nil {
		h.HandleNotify(cmd, payload)
	}
}

// setLinkState updates both halves of the connection and reports a change
// in the combined state to the handler.
func (l *Link) setLinkState(wsUp, bleUp bool) {
	l.mu.Lock()
	before := l.wsUp && l.bleUp
	l.wsUp, l.bleUp = wsUp, bleUp
	after := l.wsUp && l.bleUp
	h := l.handler
	l.mu.Unlock()

	if before != after && h != nil {
		h.HandleConnection(after)
	}
}

func (l *Link) drain() {
	for {
		select {
		case <-l.writes:
		default:
			return
		}
	}
}
