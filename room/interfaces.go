package room

import "time"

// Broadcaster pushes a packet to every connected UI session. It is defined
// here to break the import cycle between room and broadcast.
type Broadcaster interface {
	BroadcastToAll(msgID uint16, data []byte) error
}

// TickObserver receives how long each controller tick took.
type TickObserver interface {
	ObserveTick(d time.Duration)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToAll(uint16, []byte) error { return nil }

type nopTickObserver struct{}

func (nopTickObserver) ObserveTick(time.Duration) {}
