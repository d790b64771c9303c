// broadcast/broadcast.go
package broadcast

import (
	"errors"
	"fmt"

	"github.com/wfunc/holdgame/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// 广播接口
type Broadcaster interface {
	BroadcastToAll(msgID uint16, data []byte) error
	BroadcastToSession(sessionID string, msgID uint16, data []byte) error
}

// SessionBroadcaster sends to the connections held by a session manager.
type SessionBroadcaster struct {
	sessionManager *session.Manager
}

func NewSessionBroadcaster(sessionManager *session.Manager) *SessionBroadcaster {
	return &SessionBroadcaster{
		sessionManager: sessionManager,
	}
}

// BroadcastToAll sends to every session. A failing connection does not stop
// the others; the failures are returned together.
func (b *SessionBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	var errs []error
	for _, s := range b.sessionManager.All() {
		if err := s.Send(msgID, data); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.GetID(), err))
		}
	}
	return errors.Join(errs...)
}

func (b *SessionBroadcaster) BroadcastToSession(sessionID string, msgID uint16, data []byte) error {
	s, exists := b.sessionManager.Get(sessionID)
	if !exists {
		return ErrSessionNotFound
	}
	return s.Send(msgID, data)
}
