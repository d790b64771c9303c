package session

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/wfunc/holdgame/network"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	sent   []uint16
	err    error
	closed bool
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.sent = append(m.sent, msgID)
	return m.err
}
func (m *MockConnection) Close() error                         { m.closed = true; return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestManager_Lifecycle(t *testing.T) {
	manager := NewManager()
	sess := NewSession("conn-1", &MockConnection{})

	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected 1 session, got %d", manager.Count())
	}
	got, ok := manager.Get("conn-1")
	if !ok || got != sess {
		t.Fatal("Get should return the added session")
	}

	manager.Remove("conn-1")
	if _, ok := manager.Get("conn-1"); ok || manager.Count() != 0 {
		t.Fatal("Removed session is still registered")
	}
	// removing twice is harmless
	manager.Remove("conn-1")
}

func TestManager_AllAndIdle(t *testing.T) {
	manager := NewManager()

	active := NewSession("active", &MockConnection{})
	stale := NewSession("stale", &MockConnection{})
	stale.lastActive = time.Now().Add(-time.Hour)

	manager.Add(active)
	manager.Add(stale)

	if n := len(manager.All()); n != 2 {
		t.Errorf("Expected 2 sessions, got %d", n)
	}

	idle := manager.Idle(time.Now().Add(-time.Minute))
	if len(idle) != 1 || idle[0] != stale {
		t.Errorf("Expected only the stale session to be idle, got %v", idle)
	}

	stale.Send(network.MsgTypeSnapshot, nil)
	if len(manager.Idle(time.Now().Add(-time.Minute))) != 1 {
		t.Error("Outbound traffic should not mark the session active")
	}
	stale.Touch()
	if len(manager.Idle(time.Now().Add(-time.Minute))) != 0 {
		t.Error("Touch should mark the session active")
	}
}

func TestSession_SendAndClose(t *testing.T) {
	conn := &MockConnection{err: errors.New("broken pipe")}
	sess := NewSession("conn-2", conn)
	sess.PlayerID = "player-1"

	if err := sess.Send(network.MsgTypeRankings, []byte("{}")); err == nil {
		t.Error("Expected the connection error to be returned")
	}
	if len(conn.sent) != 1 || conn.sent[0] != network.MsgTypeRankings {
		t.Errorf("Expected one rankings message, got %v", conn.sent)
	}
	sess.Close()
	if !conn.closed {
		t.Error("Close should close the connection")
	}
	if sess.GetID() != "conn-2" || sess.PlayerID != "player-1" {
		t.Errorf("Unexpected identity %s/%s", sess.GetID(), sess.PlayerID)
	}
}
