package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/logger"
	"github.com/wfunc/holdgame/models"
	"github.com/wfunc/holdgame/network"
	"github.com/wfunc/holdgame/session"
)

const (
	defaultHeartbeat        = 15 * time.Second
	defaultLeaderboardLimit = 10
	leaderboardTimeout      = 3 * time.Second
)

// Game is the boundary the UI drives. room.Controller implements it.
type Game interface {
	AddPlayer(name string) (game.Player, error)
	RemovePlayer(id string) error
	SetSettings(settings game.Settings) error
	StartGame() error
	SetHold(holding bool) error
	CompleteTurn(success bool, holdSeconds float64) error
	Reset() error
	EmergencyStop() error
	SetBrightness(percent int) (device.Outcome, error)
	Snapshot() game.Snapshot
}

// Leaderboard answers leaderboard queries.
type Leaderboard interface {
	Top(ctx context.Context, n int) ([]models.LeaderboardEntry, error)
}

// Metrics is the part of monitor.Monitor the server reports to.
type Metrics interface {
	IncConnectedClients()
	DecConnectedClients()
	IncMessagesReceived()
	ObserveMessageLatency(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) IncConnectedClients()               {}
func (nopMetrics) DecConnectedClients()               {}
func (nopMetrics) IncMessagesReceived()               {}
func (nopMetrics) ObserveMessageLatency(time.Duration) {}

type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	game           Game
	leaderboard    Leaderboard
	sessionManager *session.Manager
	metrics        Metrics
	heartbeat      time.Duration
	httpServer     *http.Server
	shutdownChan   chan struct{}
}

type Option func(*GameServer)

func WithMetrics(m Metrics) Option {
	return func(s *GameServer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHeartbeat sets how long a connection may stay silent. Clients send a
// heartbeat more often than this.
func WithHeartbeat(d time.Duration) Option {
	return func(s *GameServer) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

func NewGameServer(addr string, g Game, lb Leaderboard, sessions *session.Manager, opts ...Option) *GameServer {
	s := &GameServer{
		addr:           addr,
		game:           g,
		leaderboard:    lb,
		sessionManager: sessions,
		metrics:        nopMetrics{},
		heartbeat:      defaultHeartbeat,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the routes for tests and embedding.
func (s *GameServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *GameServer) Start() error {
	go s.sweepIdle()
	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GameServer) Shutdown(ctx context.Context) error {
	close(s.shutdownChan)
	for _, sess := range s.sessionManager.All() {
		sess.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// sweepIdle closes connections that missed their heartbeats.
func (s *GameServer) sweepIdle() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			for _, sess := range s.sessionManager.Idle(time.Now().Add(-2 * s.heartbeat)) {
				logger.Log.Infof("Closing idle session %s", sess.GetID())
				sess.Close()
			}
		}
	}
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.heartbeat)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.metrics.IncConnectedClients()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.metrics.DecConnectedClients()
		wsConn.Close()
	}()

	// 新连接先收到当前状态
	s.reply(sess, network.MsgTypeSnapshot, s.game.Snapshot())

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			sess.Touch()
			started := time.Now()
			s.metrics.IncMessagesReceived()
			s.handlePacket(sess, packet)
			s.metrics.ObserveMessageLatency(time.Since(started))
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	var err error
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		err = sess.Send(network.MsgTypeHeartbeat, nil)
	case network.MsgTypeAddPlayer:
		err = s.handleAddPlayer(sess, packet)
	case network.MsgTypeRemovePlayer:
		var req network.RemovePlayerRequest
		if err = decode(packet, &req); err == nil {
			err = s.game.RemovePlayer(req.ID)
		}
	case network.MsgTypeSettings:
		var settings game.Settings
		if err = decode(packet, &settings); err == nil {
			err = s.game.SetSettings(settings)
		}
	case network.MsgTypeStartGame:
		err = s.game.StartGame()
	case network.MsgTypeHoldPress:
		err = s.game.SetHold(true)
	case network.MsgTypeHoldRelease:
		err = s.game.SetHold(false)
	case network.MsgTypeCompleteTurn:
		var req network.CompleteTurnRequest
		if err = decode(packet, &req); err == nil {
			err = s.game.CompleteTurn(req.Success, req.HoldSeconds)
		}
	case network.MsgTypeReset:
		err = s.game.Reset()
	case network.MsgTypeEmergencyStop:
		err = s.game.EmergencyStop()
	case network.MsgTypeBrightness:
		err = s.handleBrightness(sess, packet)
	case network.MsgTypeSnapshot:
		s.reply(sess, network.MsgTypeSnapshot, s.game.Snapshot())
	case network.MsgTypeLeaderboard:
		err = s.handleLeaderboard(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		err = errUnknownMessage
	}

	if err != nil {
		logger.Log.Debugw("request failed", "session", sess.GetID(), "msg", packet.MsgID, "error", err)
		s.reply(sess, network.MsgTypeError, network.ErrorResponse{Request: packet.MsgID, Error: err.Error()})
	}
}

var errUnknownMessage = errors.New("unknown message type")

func decode(packet *network.Packet, v interface{}) error {
	if err := json.Unmarshal(packet.Data, v); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func (s *GameServer) handleAddPlayer(sess *session.Session, packet *network.Packet) error {
	var req network.AddPlayerRequest
	if err := decode(packet, &req); err != nil {
		return err
	}
	p, err := s.game.AddPlayer(req.Name)
	if err != nil {
		return err
	}
	sess.PlayerID = p.ID
	s.reply(sess, network.MsgTypeAddPlayer, p)
	return nil
}

func (s *GameServer) handleBrightness(sess *session.Session, packet *network.Packet) error {
	var req network.BrightnessRequest
	if err := decode(packet, &req); err != nil {
		return err
	}
	out, err := s.game.SetBrightness(req.Percent)
	if err != nil {
		return err
	}
	s.reply(sess, network.MsgTypeBrightness, network.BrightnessResponse{Percent: req.Percent, Outcome: out.String()})
	return nil
}

func (s *GameServer) handleLeaderboard(sess *session.Session, packet *network.Packet) error {
	req := network.LeaderboardRequest{Limit: defaultLeaderboardLimit}
	if len(packet.Data) > 0 {
		if err := decode(packet, &req); err != nil {
			return err
		}
	}
	if s.leaderboard == nil {
		return errors.New("leaderboard unavailable")
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaderboardTimeout)
	defer cancel()
	entries, err := s.leaderboard.Top(ctx, req.Limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	s.reply(sess, network.MsgTypeLeaderboard, models.LeaderboardMessage{Entries: entries})
	return nil
}

func (s *GameServer) reply(sess *session.Session, msgID uint16, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("encode reply %d: %v", msgID, err)
		return
	}
	if err := sess.Send(msgID, data); err != nil {
		logger.Log.Debugf("send to session %s failed: %v", sess.GetID(), err)
	}
}
