package game

import "errors"

var (
	ErrInvalidPhase    = errors.New("operation not allowed in the current phase")
	ErrNoHumanPlayers  = errors.New("at least one human player is required")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrDuplicateName   = errors.New("player name already taken")
	ErrEmptyName       = errors.New("player name is empty")
	ErrInvalidSettings = errors.New("invalid settings")
)
