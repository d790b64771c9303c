package device

// Outcome is the synchronous verdict on a command request. Suppressions are
// policy decisions, not errors.
type Outcome int

const (
	Accepted Outcome = iota
	SuppressedGate
	SuppressedRateLimit
	SuppressedRedundant
	NotConnected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case SuppressedGate:
		return "suppressed_gate"
	case SuppressedRateLimit:
		return "suppressed_rate_limit"
	case SuppressedRedundant:
		return "suppressed_redundant"
	case NotConnected:
		return "not_connected"
	default:
		return "unknown"
	}
}

// Suppressed reports whether the request was dropped by policy.
func (o Outcome) Suppressed() bool {
	return o == SuppressedGate || o == SuppressedRateLimit || o == SuppressedRedundant
}

// Gate says whether heater-affecting commands may be issued right now.
type Gate int

const (
	// GateOpen permits heater and target temperature writes.
	GateOpen Gate = iota
	// GateTurnActive blocks them while a turn is in progress so pump
	// cycling cannot be mistaken for heater toggles by the firmware.
	GateTurnActive
)

func (g Gate) String() string {
	if g == GateOpen {
		return "open"
	}
	return "turn_active"
}
