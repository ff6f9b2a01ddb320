// Package coordinator is the single logical owner of the client slot
// table and the room table. It implements transport.Handler; every callback
// that touches state does nothing but enqueue a closure onto an internal
// command channel; a single goroutine drains that channel and is the only code
// that ever touches slot or room state, satisfying the single-owner
// concurrency rule the rest of the server is built around.
package coordinator

import (
	"context"
	"math/rand"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"

	"sedmaserver/internal/protocol"
	"sedmaserver/internal/room"
	"sedmaserver/internal/transport"
)

// OnlineIdleTimeout and OfflineTimeout drive the periodic tick's client
// reaping, per the slot lifecycle.
const (
	OnlineIdleTimeout = 15 * time.Second
	OfflineTimeout    = 120 * time.Second
	MaxStrikes        = 3
	MaxNickLen        = 32
)

// connSender is the outbound half of transport.Server the coordinator
// depends on; narrowed to an interface so tests can substitute a fake
// instead of binding sockets.
type connSender interface {
	SendLine(id transport.ConnID, line string)
	Close(id transport.ConnID)
}

// Coordinator owns the slot table and the room manager, and drives both
// from commands fed in over a channel by the transport layer.
type Coordinator struct {
	slots      []Slot
	connToSlot map[transport.ConnID]int

	rooms *room.Manager

	server connSender

	cmds chan func()
}

// New builds a coordinator with room for maxClients slots and maxRooms
// rooms. Call Attach once the transport.Server exists, since the two have
// a cyclic dependency (the server needs a Handler to be built with, the
// coordinator needs the server to send lines).
func New(maxClients, maxRooms int) *Coordinator {
	c := &Coordinator{
		slots:      make([]Slot, maxClients),
		connToSlot: make(map[transport.ConnID]int),
		cmds:       make(chan func(), 1024),
	}
	for i := range c.slots {
		c.slots[i].roomID = -1
	}
	c.rooms = room.NewManager(maxRooms, c, c)
	return c
}

// Attach wires the transport server this coordinator sends replies
// through. Must be called before Run.
func (c *Coordinator) Attach(server connSender) {
	c.server = server
}

// Run drains the command channel until ctx is canceled, executing every
// enqueued closure serially. This is the only goroutine that mutates slot
// or room state.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) enqueue(fn func()) {
	select {
	case c.cmds <- fn:
	default:
		log.Warn("coordinator: command queue full, dropping event")
	}
}

// --- transport.Handler ---

func (c *Coordinator) OnConnect(id transport.ConnID) {
	c.enqueue(func() { c.onConnect(id) })
}

func (c *Coordinator) OnLine(id transport.ConnID, line string) {
	c.enqueue(func() { c.onLine(id, line) })
}

func (c *Coordinator) OnFramingError(id transport.ConnID, reason string) {
	c.enqueue(func() { c.onFramingError(id, reason) })
}

func (c *Coordinator) OnDisconnect(id transport.ConnID) {
	c.enqueue(func() { c.onDisconnect(id) })
}

func (c *Coordinator) OnTick(now time.Time) {
	c.enqueue(func() { c.onTick(now) })
}

func (c *Coordinator) OnOperatorShutdown() {
	log.Info("coordinator: operator requested shutdown")
}

// --- room.Sender / room.Directory ---

// SendLine implements room.Sender, forwarding to the transport connection
// currently bound to slot, if any.
func (c *Coordinator) SendLine(slot int, line string) {
	if slot < 0 || slot >= len(c.slots) {
		return
	}
	s := &c.slots[slot]
	if s.state != slotConnected || !s.online {
		return
	}
	c.server.SendLine(s.connID, line)
}

// Nick implements room.Directory.
func (c *Coordinator) Nick(slot int) string {
	if slot < 0 || slot >= len(c.slots) {
		return ""
	}
	return c.slots[slot].nick
}

// Online implements room.Directory.
func (c *Coordinator) Online(slot int) bool {
	if slot < 0 || slot >= len(c.slots) {
		return false
	}
	return c.slots[slot].online
}

// --- internal handlers, all run on the single owner goroutine ---

func (c *Coordinator) onConnect(id transport.ConnID) {
	idx := c.allocSlot()
	if idx < 0 {
		log.Error("coordinator: no free slot for new connection, closing")
		c.server.Close(id)
		return
	}
	c.slots[idx] = Slot{
		state:    slotConnected,
		roomID:   -1,
		online:   true,
		connID:   id,
		lastSeen: time.Now(),
	}
	c.connToSlot[id] = idx
}

func (c *Coordinator) allocSlot() int {
	for i := range c.slots {
		if c.slots[i].state == slotEmpty {
			return i
		}
	}
	return -1
}

func (c *Coordinator) onDisconnect(id transport.ConnID) {
	idx, ok := c.connToSlot[id]
	if !ok {
		return
	}
	delete(c.connToSlot, id)
	s := &c.slots[idx]
	if !s.loggedIn() {
		c.freeSlot(idx)
		return
	}
	s.online = false
	s.connID = 0
	if s.roomID >= 0 {
		if r, ok := c.rooms.Find(s.roomID); ok {
			c.rooms.AnnounceOffline(r, idx)
		}
	}
}

func (c *Coordinator) onFramingError(id transport.ConnID, reason string) {
	idx, ok := c.connToSlot[id]
	if !ok {
		return
	}
	c.slots[idx].strikes++
	c.server.SendLine(id, protocol.FormatErr("?", "BAD_FORMAT", reason))
}

func (c *Coordinator) freeSlot(idx int) {
	c.slots[idx] = Slot{roomID: -1}
}

// dropConn closes the connection bound to idx; onDisconnect will run later,
// driven by the transport layer's own read-loop teardown, and will mark a
// logged-in slot offline rather than free it (a slot that never logged in
// is freed).
func (c *Coordinator) dropConn(idx int, reason string) {
	s := &c.slots[idx]
	if s.state != slotConnected || s.connID == 0 {
		return
	}
	log.Infof("coordinator: dropping slot %d: %s", idx, reason)
	c.server.Close(s.connID)
}

func (c *Coordinator) onTick(now time.Time) {
	for i := range c.slots {
		s := &c.slots[i]
		if s.state != slotConnected {
			continue
		}
		if s.online && now.Sub(s.lastSeen) > OnlineIdleTimeout {
			c.dropConn(i, "idle_timeout")
			continue
		}
		if !s.online && now.Sub(s.lastSeen) > OfflineTimeout {
			c.expireOffline(i)
		}
	}
	for _, r := range c.rooms.List() {
		c.rooms.Tick(r, now)
	}
}

// expireOffline fully removes a slot that has sat offline past
// OfflineTimeout: it leaves its room (aborting any active game) and is
// freed for reuse.
func (c *Coordinator) expireOffline(idx int) {
	s := &c.slots[idx]
	if s.roomID >= 0 {
		if r, ok := c.rooms.Find(s.roomID); ok {
			c.rooms.RemoveOffline(r, idx)
		}
	}
	c.freeSlot(idx)
}

func newSessionToken() string {
	id := uuid.NewV4()
	return strings.ReplaceAll(id.String(), "-", "")
}

func roomRNG(roomID int32) *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(roomID)))
}
