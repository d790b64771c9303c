// game/player.go
package game

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// SyntheticName is the display name of the simulated opponent.
const SyntheticName = "Bot"

// Player is one seat in the turn order. Players are only mutated by the
// Session's transition handlers.
type Player struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Points              int    `json:"points"`
	Eliminated          bool   `json:"eliminated"`
	Synthetic           bool   `json:"synthetic"`
	CompletedCycles     int    `json:"completed_cycles"`
	FailedCycles        int    `json:"failed_cycles"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	SkippedLastTurn     bool   `json:"skipped_last_turn"`
}

func newPlayer(name string, synthetic bool) *Player {
	return &Player{
		ID:        uuid.NewString(),
		Name:      name,
		Synthetic: synthetic,
	}
}

// resetStats clears everything a game accumulates.
func (p *Player) resetStats() {
	p.Points = 0
	p.Eliminated = false
	p.CompletedCycles = 0
	p.FailedCycles = 0
	p.ConsecutiveFailures = 0
	p.SkippedLastTurn = false
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

// Rank orders players by points, highest first, then by name.
func Rank(players []Player) []Player {
	ranked := make([]Player, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Points != ranked[j].Points {
			return ranked[i].Points > ranked[j].Points
		}
		return ranked[i].Name < ranked[j].Name
	})
	return ranked
}
