package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/holdgame/device"
	"github.com/wfunc/holdgame/network"
)

// MockHandler records notifications and connection changes.
type MockHandler struct {
	mu          sync.Mutex
	notifies    []device.Command
	payloads    [][]byte
	connections []bool
}

func (m *MockHandler) HandleNotify(cmd device.Command, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifies = append(m.notifies, cmd)
	m.payloads = append(m.payloads, payload)
}

func (m *MockHandler) HandleConnection(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections = append(m.connections, connected)
}

func (m *MockHandler) lastConnection() (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.connections) == 0 {
		return false, 0
	}
	return m.connections[len(m.connections)-1], len(m.connections)
}

func (m *MockHandler) notifyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifies)
}

// fakeBridge is a websocket server standing in for the BLE bridge daemon.
type fakeBridge struct {
	srv      *httptest.Server
	received chan *network.Packet
	conns    chan *network.WSConnection
	// reply answers empty-bodied read requests
	reply map[device.Command][]byte
}

func newFakeBridge(t *testing.T, reply map[device.Command][]byte) *fakeBridge {
	t.Helper()
	b := &fakeBridge{
		received: make(chan *network.Packet, 32),
		conns:    make(chan *network.WSConnection, 4),
		reply:    reply,
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := network.NewWSConnection(ws)
		b.conns <- conn
		for {
			p, err := conn.ReadPacket()
			if err != nil {
				return
			}
			if len(p.Data) == 0 {
				if v, ok := b.reply[device.Command(p.MsgID)]; ok {
					conn.Send(p.MsgID, v)
				}
				continue
			}
			data := make([]byte, len(p.Data))
			copy(data, p.Data)
			b.received <- &network.Packet{MsgID: p.MsgID, Data: data, Length: p.Length}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func startLink(t *testing.T, b *fakeBridge, h *MockHandler) (*Link, *network.WSConnection) {
	t.Helper()
	l := New(b.url(), WithReconnectDelay(10*time.Millisecond), WithReadTimeout(500*time.Millisecond))
	l.SetHandler(h)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	var conn *network.WSConnection
	select {
	case conn = <-b.conns:
	case <-time.After(3 * time.Second):
		t.Fatal("Link never dialled the bridge")
	}
	eventually(t, "connected", l.Connected)
	return l, conn
}

func TestLink_WriteBeforeConnect(t *testing.T) {
	l := New("ws://127.0.0.1:1")
	if err := l.Write(device.CmdPump, device.EncodeSwitch(true)); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestLink_WriteFraming(t *testing.T) {
	b := newFakeBridge(t, nil)
	h := &MockHandler{}
	l, _ := startLink(t, b, h)

	if up, n := h.lastConnection(); !up || n != 1 {
		t.Errorf("Expected one connect event, got up=%v count=%d", up, n)
	}
	if err := l.Write(device.CmdTargetTemperature, device.EncodeTemperature(185)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case p := <-b.received:
		if device.Command(p.MsgID) != device.CmdTargetTemperature {
			t.Errorf("Expected msg id %d, got %d", device.CmdTargetTemperature, p.MsgID)
		}
		if got := device.EncodeTemperature(185); string(p.Data) != string(got) {
			t.Errorf("Expected payload %v, got %v", got, p.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Bridge never received the write")
	}
}

func TestLink_Notify(t *testing.T) {
	b := newFakeBridge(t, nil)
	h := &MockHandler{}
	_, conn := startLink(t, b, h)

	conn.Send(uint16(device.CmdTemperature), []byte{0x3A, 0x07, 0x00, 0x00})
	eventually(t, "notification", func() bool { return h.notifyCount() == 1 })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.notifies[0] != device.CmdTemperature {
		t.Errorf("Expected a temperature notification, got %s", h.notifies[0])
	}
	if c, ok := device.DecodeTemperature(h.payloads[0]); !ok || c != 185 {
		t.Errorf("Expected 185.0, got %v", c)
	}
}

func TestLink_BridgeLinkState(t *testing.T) {
	b := newFakeBridge(t, nil)
	h := &MockHandler{}
	l, conn := startLink(t, b, h)

	conn.Send(network.MsgTypeLinkState, []byte{0x00})
	eventually(t, "link down", func() bool { return !l.Connected() })
	if up, n := h.lastConnection(); up || n != 2 {
		t.Errorf("Expected a disconnect event, got up=%v count=%d", up, n)
	}
	if err := l.Write(device.CmdPump, device.EncodeSwitch(true)); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected while the BLE link is down, got %v", err)
	}

	// an empty body is malformed and ignored
	conn.Send(network.MsgTypeLinkState, nil)
	conn.Send(network.MsgTypeLinkState, []byte{0x01})
	eventually(t, "link up", l.Connected)
	if h.notifyCount() != 0 {
		t.Error("Link state frames must not reach the notify handler")
	}
}

func TestLink_Read(t *testing.T) {
	b := newFakeBridge(t, map[device.Command][]byte{device.CmdTemperature: {0xD2, 0x00}})
	h := &MockHandler{}
	l, _ := startLink(t, b, h)

	payload, err := l.Read(device.CmdTemperature)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if c, ok := device.DecodeTemperature(payload); !ok || c != 21 {
		t.Errorf("Expected 21.0, got %v", c)
	}

	if _, err := l.Read(device.CmdBrightness); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("Expected ErrReadTimeout for an unanswered read, got %v", err)
	}
}

func TestLink_Reconnect(t *testing.T) {
	b := newFakeBridge(t, nil)
	h := &MockHandler{}
	l, conn := startLink(t, b, h)

	conn.Close()
	eventually(t, "disconnect", func() bool {
		up, n := h.lastConnection()
		return !up && n >= 2
	})

	select {
	case <-b.conns:
	case <-time.After(3 * time.Second):
		t.Fatal("Link never redialled")
	}
	eventually(t, "reconnected", l.Connected)
}
