package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/models"
	"github.com/wfunc/holdgame/network"
	"github.com/wfunc/holdgame/session"
	"github.com/wfunc/holdgame/state"
)

// MockGame records calls and returns canned errors.
type MockGame struct {
	mu       sync.Mutex
	calls    []string
	startErr error
}

func (m *MockGame) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockGame) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockGame) AddPlayer(name string) (game.Player, error) {
	m.record("add " + name)
	if name == "" {
		return game.Player{}, game.ErrEmptyName
	}
	return game.Player{ID: "p-1", Name: name}, nil
}

func (m *MockGame) RemovePlayer(id string) error {
	m.record("remove " + id)
	return nil
}

func (m *MockGame) SetSettings(s game.Settings) error {
	m.record(fmt.Sprintf("settings %d", s.Rounds))
	return nil
}

func (m *MockGame) StartGame() error {
	m.record("start")
	return m.startErr
}

func (m *MockGame) SetHold(holding bool) error {
	m.record(fmt.Sprintf("hold %v", holding))
	return nil
}

func (m *MockGame) CompleteTurn(success bool, hold float64) error {
	m.record(fmt.Sprintf("complete %v %.1f", success, hold))
	return nil
}

func (m *MockGame) Reset() error {
	m.record("reset")
	return nil
}

func (m *MockGame) EmergencyStop() error {
	m.record("stop")
	return nil
}

func (m *MockGame) SetBrightness(percent int) (device.Outcome, error) {
	m.record(fmt.Sprintf("brightness %d", percent))
	return device.Accepted, nil
}

func (m *MockGame) Snapshot() game.Snapshot {
	return game.Snapshot{Phase: state.Setup, Version: 7}
}

type MockLeaderboard struct {
	mu    sync.Mutex
	limit int
}

func (m *MockLeaderboard) lastLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

func (m *MockLeaderboard) Top(_ context.Context, n int) ([]models.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = n
	return []models.LeaderboardEntry{{Name: "Ana", Score: 4.4, Rounds: 5}}, nil
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, g Game, lb Leaderboard) (*client, *session.Manager) {
	t.Helper()
	sessions := session.NewManager()
	s := NewGameServer(":0", g, lb, sessions)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	c := &client{t: t, ws: ws}

	// the current snapshot arrives first
	p := c.read()
	if p.MsgID != network.MsgTypeSnapshot {
		t.Fatalf("Expected an initial snapshot, got msg %d", p.MsgID)
	}
	return c, sessions
}

func (c *client) send(msgID uint16, v interface{}) {
	c.t.Helper()
	var data []byte
	if v != nil {
		data, _ = json.Marshal(v)
	}
	packet, _ := network.EncodePacket(msgID, data)
	if err := c.ws.WriteMessage(websocket.BinaryMessage, packet); err != nil {
		c.t.Fatalf("Write: %v", err)
	}
}

func (c *client) read() *network.Packet {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("Read: %v", err)
	}
	p, err := network.DecodePacket(data)
	if err != nil {
		c.t.Fatalf("Decode: %v", err)
	}
	return p
}

func TestServer_AddPlayer(t *testing.T) {
	g := &MockGame{}
	c, sessions := dial(t, g, nil)

	c.send(network.MsgTypeAddPlayer, network.AddPlayerRequest{Name: "Ana"})
	p := c.read()
	if p.MsgID != network.MsgTypeAddPlayer {
		t.Fatalf("Expected an add player reply, got %d", p.MsgID)
	}
	var player game.Player
	json.Unmarshal(p.Data, &player)
	if player.Name != "Ana" {
		t.Errorf("Expected Ana, got %q", player.Name)
	}
	if sessions.Count() != 1 {
		t.Errorf("Expected one connected session, got %d", sessions.Count())
	}
}

func TestServer_ErrorsAreReported(t *testing.T) {
	g := &MockGame{startErr: game.ErrNoHumanPlayers}
	c, _ := dial(t, g, nil)

	c.send(network.MsgTypeStartGame, nil)
	p := c.read()
	if p.MsgID != network.MsgTypeError {
		t.Fatalf("Expected an error reply, got %d", p.MsgID)
	}
	var resp network.ErrorResponse
	json.Unmarshal(p.Data, &resp)
	if resp.Request != network.MsgTypeStartGame || !strings.Contains(resp.Error, game.ErrNoHumanPlayers.Error()) {
		t.Errorf("Unexpected error reply %+v", resp)
	}

	c.send(network.MsgTypeCompleteTurn, "not an object")
	if p := c.read(); p.MsgID != network.MsgTypeError {
		t.Errorf("Expected an error for a malformed body, got %d", p.MsgID)
	}

	c.send(4242, nil)
	if p := c.read(); p.MsgID != network.MsgTypeError {
		t.Errorf("Expected an error for an unknown message, got %d", p.MsgID)
	}
}

func TestServer_Commands(t *testing.T) {
	g := &MockGame{}
	c, _ := dial(t, g, nil)

	c.send(network.MsgTypeSettings, game.Settings{Rounds: 3})
	c.send(network.MsgTypeHoldPress, nil)
	c.send(network.MsgTypeHoldRelease, nil)
	c.send(network.MsgTypeCompleteTurn, network.CompleteTurnRequest{Success: true, HoldSeconds: 4.5})
	c.send(network.MsgTypeRemovePlayer, network.RemovePlayerRequest{ID: "p-9"})
	c.send(network.MsgTypeReset, nil)
	c.send(network.MsgTypeEmergencyStop, nil)
	c.send(network.MsgTypeBrightness, network.BrightnessRequest{Percent: 40})

	p := c.read()
	if p.MsgID != network.MsgTypeBrightness {
		t.Fatalf("Expected a brightness reply, got %d", p.MsgID)
	}
	var resp network.BrightnessResponse
	json.Unmarshal(p.Data, &resp)
	if resp.Outcome != device.Accepted.String() {
		t.Errorf("Expected outcome %s, got %s", device.Accepted, resp.Outcome)
	}

	want := []string{"settings 3", "hold true", "hold false", "complete true 4.5", "remove p-9", "reset", "stop", "brightness 40"}
	got := g.called()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected calls %v, got %v", want, got)
	}
}

func TestServer_Leaderboard(t *testing.T) {
	lb := &MockLeaderboard{}
	c, _ := dial(t, &MockGame{}, lb)

	c.send(network.MsgTypeLeaderboard, nil)
	p := c.read()
	if p.MsgID != network.MsgTypeLeaderboard {
		t.Fatalf("Expected a leaderboard reply, got %d", p.MsgID)
	}
	var msg models.LeaderboardMessage
	json.Unmarshal(p.Data, &msg)
	if len(msg.Entries) != 1 || msg.Entries[0].Name != "Ana" {
		t.Errorf("Unexpected leaderboard %+v", msg)
	}
	if lb.lastLimit() != defaultLeaderboardLimit {
		t.Errorf("Expected the default limit %d, got %d", defaultLeaderboardLimit, lb.lastLimit())
	}
}

func TestServer_LeaderboardUnavailable(t *testing.T) {
	c, _ := dial(t, &MockGame{}, nil)
	c.send(network.MsgTypeLeaderboard, network.LeaderboardRequest{Limit: 3})
	if p := c.read(); p.MsgID != network.MsgTypeError {
		t.Errorf("Expected an error without a leaderboard, got %d", p.MsgID)
	}
}

func TestServer_Heartbeat(t *testing.T) {
	c, _ := dial(t, &MockGame{}, nil)
	c.send(network.MsgTypeHeartbeat, nil)
	if p := c.read(); p.MsgID != network.MsgTypeHeartbeat {
		t.Errorf("Expected a heartbeat echo, got %d", p.MsgID)
	}
}

func TestDecode(t *testing.T) {
	var req network.AddPlayerRequest
	if err := decode(&network.Packet{Data: []byte("{")}, &req); err == nil {
		t.Error("Expected an error for truncated JSON")
	}
	if err := decode(&network.Packet{Data: []byte(`{"name":"Bo"}`)}, &req); err != nil || req.Name != "Bo" {
		t.Errorf("Expected Bo, got %q, %v", req.Name, err)
	}
}
