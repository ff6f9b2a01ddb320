package coordinator

import (
	"time"

	"sedmaserver/internal/transport"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotConnected
)

// Slot is one reusable record for a connected or recently-disconnected
// client. A CONNECTED slot with an empty nick has not yet logged in.
type Slot struct {
	state    slotState
	nick     string
	session  string
	roomID   int32 // -1 if not in a room
	online   bool
	connID   transport.ConnID
	lastSeen time.Time
	strikes  int
}

func (s *Slot) loggedIn() bool { return s.nick != "" }
