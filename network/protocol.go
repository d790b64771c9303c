package network

// UI message ids. Bodies are JSON.
const (
	MsgTypeHeartbeat = 1

	MsgTypeAddPlayer    = 101
	MsgTypeRemovePlayer = 102
	MsgTypeSettings     = 103

	MsgTypeStartGame     = 201
	MsgTypeHoldPress     = 202
	MsgTypeHoldRelease   = 203
	MsgTypeCompleteTurn  = 204
	MsgTypeReset         = 205
	MsgTypeEmergencyStop = 206
	MsgTypeBrightness    = 207

	MsgTypeSnapshot    = 301
	MsgTypeRankings    = 302
	MsgTypeLeaderboard = 303

	MsgTypeError = 399
)

// MsgTypeLinkState is used on the device bridge connection: a one-byte body
// of 0x01 or 0x00 reports the bridge's radio link up or down. Every other
// bridge message id is a device command id with the raw payload as body.
const MsgTypeLinkState = 0xFFFF

// Request bodies.

type AddPlayerRequest struct {
	Name string `json:"name"`
}

type RemovePlayerRequest struct {
	ID string `json:"id"`
}

type CompleteTurnRequest struct {
	Success     bool    `json:"success"`
	HoldSeconds float64 `json:"hold_seconds"`
}

type BrightnessRequest struct {
	Percent int `json:"percent"`
}

type LeaderboardRequest struct {
	Limit int `json:"limit"`
}

type ErrorResponse struct {
	Request uint16 `json:"request"`
	Error   string `json:"error"`
}

type BrightnessResponse struct {
	Percent int    `json:"percent"`
	Outcome string `json:"outcome"`
}
