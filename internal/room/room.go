// Package room implements the room manager: a fixed-capacity table of
// rooms, each with a phase state machine, a roster of client slot indices,
// a host, and an embedded game. It knows nothing about sockets; all
// outbound traffic goes through the Sender interface, and all player
// identity lookups go through the Directory interface, matching the
// transport-boundary design the coordinator sits behind.
package room

import (
	"fmt"
	"math/rand"
	"time"

	"sedmaserver/internal/cardgame"
	"sedmaserver/internal/protocol"
)

// Phase is a room's position in the EMPTY -> LOBBY -> GAME -> LOBBY cycle.
type Phase int

const (
	Empty Phase = iota
	Lobby
	Game
)

func (p Phase) String() string {
	switch p {
	case Lobby:
		return "LOBBY"
	case Game:
		return "GAME"
	default:
		return "EMPTY"
	}
}

// MinSize and MaxSize bound a room's player count.
const (
	MinSize = 2
	MaxSize = 4
	// PauseTimeout is how long a paused game waits for every player to
	// reconnect before it is aborted.
	PauseTimeout = 120 * time.Second
)

// Sender is the outbound boundary the room manager depends on. The
// coordinator's transport implements it.
type Sender interface {
	SendLine(slot int, line string)
}

// Directory answers identity questions about client slots; the coordinator
// implements it over its slot table.
type Directory interface {
	Nick(slot int) string
	Online(slot int) bool
}

// Room is one room's state: its roster, phase, host, and embedded game.
type Room struct {
	ID       int32
	Name     string
	Size     int
	Phase    Phase
	Paused   bool
	pausedAt time.Time

	Players  []int // client slot indices, len == current player count
	HostIdx  int   // index into Players, not a slot index
	Game     *cardgame.Game
}

// PlayerCount returns how many seats are filled.
func (r *Room) PlayerCount() int { return len(r.Players) }

// HostSlot returns the slot index of the current host, or -1 if empty.
func (r *Room) HostSlot() int {
	if r.PlayerCount() == 0 {
		return -1
	}
	return r.Players[r.HostIdx]
}

// Manager owns a fixed-capacity table of rooms.
type Manager struct {
	rooms     []*Room
	maxRooms  int
	nextID    int32
	sender    Sender
	directory Directory
}

// NewManager builds a room manager with capacity for maxRooms rooms.
func NewManager(maxRooms int, sender Sender, directory Directory) *Manager {
	return &Manager{
		rooms:     make([]*Room, 0, maxRooms),
		maxRooms:  maxRooms,
		sender:    sender,
		directory: directory,
	}
}

// List returns every currently used room.
func (m *Manager) List() []*Room {
	return m.rooms
}

// Find returns the room with the given id, if any.
func (m *Manager) Find(id int32) (*Room, bool) {
	for _, r := range m.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Create allocates a new room, owned by hostSlot, and puts hostSlot in it
// as the first player and host. It fails with ok=false if the table is
// full or size is out of [MinSize,MaxSize].
func (m *Manager) Create(hostSlot int, name string, size int) (*Room, bool) {
	if size < MinSize || size > MaxSize {
		return nil, false
	}
	if len(m.rooms) >= m.maxRooms {
		return nil, false
	}
	m.nextID++
	r := &Room{
		ID:      m.nextID,
		Name:    name,
		Size:    size,
		Phase:   Lobby,
		Players: []int{hostSlot},
		HostIdx: 0,
	}
	m.rooms = append(m.rooms, r)
	return r, true
}

// Join adds slot to room as a new player. Fails if the room is full or not
// in the lobby phase.
func (m *Manager) Join(r *Room, slot int) bool {
	if r.Phase != Lobby || r.PlayerCount() >= r.Size {
		return false
	}
	r.Players = append(r.Players, slot)
	m.BroadcastExcept(r, slot, protocol.FormatEvt("PLAYER_JOIN", "nick", m.directory.Nick(slot)))
	return true
}

// Leave removes slot from room, honoring in-lobby vs mid-game removal
// semantics, host reassignment, and room/game teardown. It returns true if
// the room was destroyed as a result.
func (m *Manager) Leave(r *Room, slot int) (destroyed bool) {
	pos := r.indexOf(slot)
	if pos < 0 {
		return false
	}

	wasHost := pos == r.HostIdx
	nick := m.directory.Nick(slot)

	if r.Phase == Game {
		m.removeMidGame(r, pos)
	} else {
		r.Players = append(r.Players[:pos], r.Players[pos+1:]...)
	}

	if r.PlayerCount() == 0 {
		m.destroy(r)
		return true
	}

	m.BroadcastAll(r, protocol.FormatEvt("PLAYER_LEAVE", "nick", nick))

	if wasHost {
		r.HostIdx = 0
		m.BroadcastAll(r, protocol.FormatEvt("HOST", "nick", m.directory.Nick(r.HostSlot())))
	}

	// A lone survivor wins by default (preserved from the original source's
	// behavior rather than aborting the game for lack of players).
	if r.Phase == Game && r.PlayerCount() == 1 {
		winner := m.directory.Nick(r.Players[0])
		m.endGame(r, winner)
	}

	return false
}

// removeMidGame shifts the room's roster and the game's hands/turn index to
// drop the player at pos, per spec.md's mid-game removal rules.
func (m *Manager) removeMidGame(r *Room, pos int) {
	r.Game.RemovePlayer(pos)
	r.Players = append(r.Players[:pos], r.Players[pos+1:]...)
	if r.HostIdx > pos {
		r.HostIdx--
	}
	if r.HostIdx >= r.PlayerCount() && r.PlayerCount() > 0 {
		r.HostIdx = 0
	}
}

// Adopt replaces oldSlot with newSlot everywhere it appears in r's roster,
// used when a RESUME migrates a player's identity onto a new connection's
// slot index without otherwise disturbing the room.
func (m *Manager) Adopt(r *Room, oldSlot, newSlot int) {
	for i, s := range r.Players {
		if s == oldSlot {
			r.Players[i] = newSlot
			return
		}
	}
}

// destroy removes r from the table once its last player has left.
func (m *Manager) destroy(r *Room) {
	for i, room := range m.rooms {
		if room == r {
			m.rooms = append(m.rooms[:i], m.rooms[i+1:]...)
			return
		}
	}
}

func (r *Room) indexOf(slot int) int {
	for i, s := range r.Players {
		if s == slot {
			return i
		}
	}
	return -1
}

// IndexOf returns the seat position of slot within r's roster, or -1 if
// slot is not seated in r.
func (r *Room) IndexOf(slot int) int { return r.indexOf(slot) }

// Room-level error codes surfaced via StartGame's failure return.
const (
	ErrNotHost          = "NOT_HOST"
	ErrBadState         = "BAD_STATE"
	ErrNotEnoughPlayers = "NOT_ENOUGH_PLAYERS"
)

// StartGame starts the game in r, seeded with rng. Fails if the requester
// is not the host, the room isn't in the lobby, or there are fewer than
// MinSize players; the returned code names which.
func (m *Manager) StartGame(r *Room, requester int, rng *rand.Rand) (bool, string) {
	if r.HostSlot() != requester {
		return false, ErrNotHost
	}
	if r.Phase != Lobby {
		return false, ErrBadState
	}
	if r.PlayerCount() < MinSize {
		return false, ErrNotEnoughPlayers
	}
	g := cardgame.New(r.PlayerCount(), rng)
	g.Deal(cardgame.CardsEach)
	g.PickStartTop()
	r.Game = g
	r.Phase = Game
	r.Paused = false

	m.BroadcastAll(r, protocol.FormatEvt("GAME_START", "players", fmt.Sprint(r.PlayerCount())))
	for pos, slot := range r.Players {
		m.sender.SendLine(slot, protocol.FormatEvt("HAND", "cards", handCardsToken(g.Hand(pos))))
	}
	m.BroadcastAll(r, protocol.FormatEvt("TOP", "card", g.TopCard().String(), "active_suit", g.ActiveSuit().String(), "penalty", "0"))
	m.BroadcastAll(r, protocol.FormatEvt("TURN", "nick", m.directory.Nick(r.Players[g.TurnPos()])))
	return true, ""
}

// Play applies a play for the client in slot and broadcasts the result.
// Rejects with BAD_STATE/no_game if no game is running, PAUSED if the game
// is paused, an engine error if the play is illegal, or a bare false if
// slot is not seated in r.
func (m *Manager) Play(r *Room, slot int, card cardgame.Card, wish string) (*cardgame.Error, bool) {
	pos := r.indexOf(slot)
	if pos < 0 {
		return nil, false
	}
	if r.Phase != Game {
		return &cardgame.Error{Code: "BAD_STATE", Msg: "no_game"}, false
	}
	if r.Paused {
		return &cardgame.Error{Code: "PAUSED", Msg: "wait_for_reconnect"}, false
	}

	out, err := r.Game.Play(pos, card, wish)
	if err != nil {
		gerr, _ := err.(*cardgame.Error)
		return gerr, false
	}

	pairs := []string{"nick", m.directory.Nick(slot), "card", card.String()}
	if card.Rank() == cardgame.Queen {
		pairs = append(pairs, "wish", wish)
	}
	m.BroadcastAll(r, protocol.FormatEvt("PLAYED", pairs...))

	if out.WinnerPos >= 0 {
		m.endGame(r, m.directory.Nick(r.Players[out.WinnerPos]))
		return nil, true
	}

	m.BroadcastAll(r, protocol.FormatEvt("TOP", "card", r.Game.TopCard().String(), "active_suit", r.Game.ActiveSuit().String(), "penalty", fmt.Sprint(r.Game.Penalty())))
	m.BroadcastAll(r, protocol.FormatEvt("TURN", "nick", m.directory.Nick(r.Players[r.Game.TurnPos()])))
	return nil, true
}

// Draw applies a draw for the client in slot and broadcasts the result. On
// success it returns the number of cards drawn: the pending penalty, or one
// card when there is none.
func (m *Manager) Draw(r *Room, slot int) (int, *cardgame.Error, bool) {
	pos := r.indexOf(slot)
	if pos < 0 {
		return 0, nil, false
	}
	if r.Phase != Game {
		return 0, &cardgame.Error{Code: "BAD_STATE", Msg: "no_game"}, false
	}
	if r.Paused {
		return 0, &cardgame.Error{Code: "PAUSED", Msg: "wait_for_reconnect"}, false
	}

	n, err := r.Game.Draw(pos)
	if err != nil {
		gerr, _ := err.(*cardgame.Error)
		return 0, gerr, false
	}

	m.sender.SendLine(slot, protocol.FormatEvt("HAND", "cards", handCardsToken(r.Game.Hand(pos))))
	m.BroadcastAll(r, protocol.FormatEvt("PLAYED", "nick", m.directory.Nick(slot), "card", "DRAW", "count", fmt.Sprint(n)))
	m.BroadcastAll(r, protocol.FormatEvt("TOP", "card", r.Game.TopCard().String(), "active_suit", r.Game.ActiveSuit().String(), "penalty", fmt.Sprint(r.Game.Penalty())))
	m.BroadcastAll(r, protocol.FormatEvt("TURN", "nick", m.directory.Nick(r.Players[r.Game.TurnPos()])))
	return n, nil, true
}

func (m *Manager) endGame(r *Room, winnerNick string) {
	r.Phase = Lobby
	r.Paused = false
	r.Game = nil
	m.BroadcastAll(r, protocol.FormatEvt("GAME_END", "winner", winnerNick))
}

// AbortGame aborts the game in r with reason, returning the room to the
// lobby phase.
func (m *Manager) AbortGame(r *Room, reason string) { m.abortGame(r, reason) }

func (m *Manager) abortGame(r *Room, reason string) {
	r.Phase = Lobby
	r.Paused = false
	r.Game = nil
	m.BroadcastAll(r, protocol.FormatEvt("GAME_ABORT", "reason", reason))
}

// Tick evaluates pause/resume transitions and pause-timeout aborts for a
// single room, driven by the coordinator's periodic tick.
func (m *Manager) Tick(r *Room, now time.Time) {
	if r.Phase != Game {
		return
	}

	anyOffline := false
	for _, slot := range r.Players {
		if !m.directory.Online(slot) {
			anyOffline = true
			break
		}
	}

	if anyOffline {
		if !r.Paused {
			r.Paused = true
			r.pausedAt = now
			who := ""
			for _, slot := range r.Players {
				if !m.directory.Online(slot) {
					who = m.directory.Nick(slot)
					break
				}
			}
			m.BroadcastAll(r, protocol.FormatEvt("GAME_PAUSED", "nick", who, "timeout", "120"))
		} else if now.Sub(r.pausedAt) > PauseTimeout {
			m.abortGame(r, "reconnect_timeout")
		}
		return
	}

	if r.Paused {
		r.Paused = false
		m.BroadcastAll(r, protocol.FormatEvt("GAME_RESUMED"))
	}
}

// RemoveOffline fully removes a slot that has exceeded the offline timeout
// from its room. Unlike Leave, an active game is always aborted with
// reason=player_removed rather than handed to a lone survivor: the
// remaining players did not choose to end the game, the clock did.
func (m *Manager) RemoveOffline(r *Room, slot int) (destroyed bool) {
	pos := r.indexOf(slot)
	if pos < 0 {
		return false
	}

	wasHost := pos == r.HostIdx
	nick := m.directory.Nick(slot)
	wasGame := r.Phase == Game

	if wasGame {
		m.removeMidGame(r, pos)
	} else {
		r.Players = append(r.Players[:pos], r.Players[pos+1:]...)
	}

	if r.PlayerCount() == 0 {
		m.destroy(r)
		return true
	}

	m.BroadcastAll(r, protocol.FormatEvt("PLAYER_LEAVE", "nick", nick))

	if wasHost {
		r.HostIdx = 0
		m.BroadcastAll(r, protocol.FormatEvt("HOST", "nick", m.directory.Nick(r.HostSlot())))
	}

	if wasGame {
		m.abortGame(r, "player_removed")
	}

	return false
}

// BroadcastAll sends line to every player in the room.
func (m *Manager) BroadcastAll(r *Room, line string) {
	for _, slot := range r.Players {
		m.sender.SendLine(slot, line)
	}
}

// BroadcastOnline sends line to every online player in the room.
func (m *Manager) BroadcastOnline(r *Room, line string) {
	for _, slot := range r.Players {
		if m.directory.Online(slot) {
			m.sender.SendLine(slot, line)
		}
	}
}

// BroadcastExcept sends line to every player in the room except the given slot.
func (m *Manager) BroadcastExcept(r *Room, except int, line string) {
	for _, slot := range r.Players {
		if slot != except {
			m.sender.SendLine(slot, line)
		}
	}
}

// AnnounceOffline tells slot's roommates that slot has gone offline.
func (m *Manager) AnnounceOffline(r *Room, slot int) {
	m.BroadcastExcept(r, slot, protocol.FormatEvt("PLAYER_OFFLINE", "nick", m.directory.Nick(slot)))
}

// AnnounceOnline tells slot's roommates that slot has come back online.
func (m *Manager) AnnounceOnline(r *Room, slot int) {
	m.BroadcastExcept(r, slot, protocol.FormatEvt("PLAYER_ONLINE", "nick", m.directory.Nick(slot)))
}

// SendRoster sends slot a full picture of r's current membership: the
// host, then each seated player's identity and online status.
func (m *Manager) SendRoster(r *Room, slot int) {
	m.sender.SendLine(slot, protocol.FormatEvt("HOST", "nick", m.directory.Nick(r.HostSlot())))
	for _, s := range r.Players {
		m.sender.SendLine(slot, protocol.FormatEvt("PLAYER_JOIN", "nick", m.directory.Nick(s)))
		if m.directory.Online(s) {
			m.sender.SendLine(slot, protocol.FormatEvt("PLAYER_ONLINE", "nick", m.directory.Nick(s)))
		} else {
			m.sender.SendLine(slot, protocol.FormatEvt("PLAYER_OFFLINE", "nick", m.directory.Nick(s)))
		}
	}
}

func handCardsToken(cards []cardgame.Card) string {
	out := ""
	for i, c := range cards {
		if i > 0 {
			out += ","
		}
		out += c.String()
	}
	return out
}
