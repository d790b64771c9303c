package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/logger"
	"github.com/wfunc/holdgame/models"
)

// ServiceName is the name GameService is registered under.
const ServiceName = "GameService"

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and registers svc.
func NewServer(addr string, svc *GameService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(ServiceName, svc); err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string { return s.address }

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// Source supplies the read-only game state. room.Controller implements it.
type Source interface {
	Snapshot() game.Snapshot
	Rankings() []game.Player
}

// Leaderboard supplies stored best scores.
type Leaderboard interface {
	Top(ctx context.Context, n int) ([]models.LeaderboardEntry, error)
}

// GameService is the struct that exposes RPC methods. Methods follow the
// net/rpc signature: exported args, pointer reply, error return.
type GameService struct {
	source      Source
	leaderboard Leaderboard
	timeout     time.Duration
}

func NewGameService(source Source, lb Leaderboard) *GameService {
	return &GameService{source: source, leaderboard: lb, timeout: 3 * time.Second}
}

type SnapshotArgs struct{}

type SnapshotReply struct {
	Snapshot game.Snapshot
}

func (gs *GameService) Snapshot(_ *SnapshotArgs, reply *SnapshotReply) error {
	reply.Snapshot = gs.source.Snapshot()
	return nil
}

type RankingsArgs struct{}

type RankingsReply struct {
	Players []game.Player
}

func (gs *GameService) Rankings(_ *RankingsArgs, reply *RankingsReply) error {
	reply.Players = gs.source.Rankings()
	return nil
}

type LeaderboardArgs struct {
	Limit int
}

type LeaderboardReply struct {
	Entries []models.LeaderboardEntry
}

func (gs *GameService) Leaderboard(args *LeaderboardArgs, reply *LeaderboardReply) error {
	if gs.leaderboard == nil {
		return errors.New("leaderboard unavailable")
	}
	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()
	entries, err := gs.leaderboard.Top(ctx, args.Limit)
	if err != nil {
		return err
	}
	reply.Entries = entries
	return nil
}

// Client is a thin typed wrapper over an rpc.Client.
type Client struct {
	c *rpc.Client
}

func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

func (c *Client) Snapshot() (game.Snapshot, error) {
	var reply SnapshotReply
	err := c.c.Call(ServiceName+".Snapshot", &SnapshotArgs{}, &reply)
	return reply.Snapshot, err
}

func (c *Client) Rankings() ([]game.Player, error) {
	var reply RankingsReply
	err := c.c.Call(ServiceName+".Rankings", &RankingsArgs{}, &reply)
	return reply.Players, err
}

func (c *Client) Leaderboard(limit int) ([]models.LeaderboardEntry, error) {
	var reply LeaderboardReply
	err := c.c.Call(ServiceName+".Leaderboard", &LeaderboardArgs{Limit: limit}, &reply)
	return reply.Entries, err
}

func (c *Client) Close() error {
	return c.c.Close()
}
