package device

import "errors"

// ErrNotConnected is returned by a Link that has no live connection.
var ErrNotConnected = errors.New("device not connected")

// Link is the byte-level transport to the appliance. Discovery and pairing
// happen before a Link is handed to the Coordinator.
//
// Write must not wait for the appliance to acknowledge.
type Link interface {
	Write(cmd Command, payload []byte) error
	// Read pulls the current value of a characteristic, for transports
	// without notifications.
	Read(cmd Command) ([]byte, error)
	Connected() bool
	// SupportsNotify reports whether temperature is pushed.
	SupportsNotify() bool
	// SetHandler registers the receiver for notifications and connection
	// changes. Handlers run on the link's goroutine.
	SetHandler(h Handler)
}

// Handler receives asynchronous events from a Link.
type Handler interface {
	HandleNotify(cmd Command, payload []byte)
	HandleConnection(connected bool)
}
