package coordinator

import (
	"strconv"
	"time"

	"sedmaserver/internal/cardgame"
	"sedmaserver/internal/protocol"
	"sedmaserver/internal/room"
	"sedmaserver/internal/safe"
	"sedmaserver/internal/transport"
)

func (c *Coordinator) onLine(id transport.ConnID, line string) {
	idx, ok := c.connToSlot[id]
	if !ok {
		return
	}
	s := &c.slots[idx]
	s.lastSeen = time.Now()
	s.online = true

	msg, ok := protocol.Parse(line)
	if !ok {
		c.strike(idx, "?", "parse_error")
		return
	}
	if msg.Type != protocol.REQ {
		c.sendErr(idx, msg.Cmd, "BAD_FORMAT", "expected_req")
		return
	}

	defer safe.Recover("coordinator.dispatch")

	switch msg.Cmd {
	case "LOGIN":
		c.handleLogin(idx, msg)
	case "RESUME":
		c.handleResume(idx, msg)
	case "LIST_ROOMS":
		c.handleListRooms(idx, msg)
	case "CREATE_ROOM":
		c.handleCreateRoom(idx, msg)
	case "JOIN_ROOM":
		c.handleJoinRoom(idx, msg)
	case "LEAVE_ROOM":
		c.handleLeaveRoom(idx, msg)
	case "START_GAME":
		c.handleStartGame(idx, msg)
	case "PLAY":
		c.handlePlay(idx, msg)
	case "DRAW":
		c.handleDraw(idx, msg)
	case "LOGOUT":
		c.handleLogout(idx, msg)
	case "PING":
		c.handlePing(idx, msg)
	default:
		c.sendErr(idx, msg.Cmd, "UNKNOWN_CMD", "unknown_command")
	}
}

func (c *Coordinator) sendErr(idx int, cmd, code, msg string) {
	c.SendLine(idx, protocol.FormatErr(cmd, code, msg))
}

func (c *Coordinator) sendResp(idx int, cmd string, pairs ...string) {
	c.SendLine(idx, protocol.FormatResp(cmd, pairs...))
}

func (c *Coordinator) strike(idx int, cmd, reason string) {
	s := &c.slots[idx]
	s.strikes++
	c.sendErr(idx, cmd, "BAD_FORMAT", reason)
	if s.strikes >= MaxStrikes {
		c.dropConn(idx, "too_many_strikes")
	}
}

func (c *Coordinator) requireLoggedIn(idx int, cmd string) bool {
	if !c.slots[idx].loggedIn() {
		c.sendErr(idx, cmd, "NOT_LOGGED", "not_logged_in")
		return false
	}
	return true
}

func (c *Coordinator) findSlotByNick(nick string) int {
	for i := range c.slots {
		if c.slots[i].state == slotConnected && c.slots[i].nick == nick {
			return i
		}
	}
	return -1
}

func (c *Coordinator) handleLogin(idx int, msg protocol.Message) {
	s := &c.slots[idx]
	if s.loggedIn() {
		c.sendErr(idx, "LOGIN", "BAD_STATE", "already_logged_in")
		return
	}

	nick, _ := msg.Get("nick")
	if nick == "" || len(nick) >= MaxNickLen {
		c.sendErr(idx, "LOGIN", "INVALID_VALUE", "bad_nick")
		return
	}

	if other := c.findSlotByNick(nick); other >= 0 {
		if c.slots[other].online {
			c.sendErr(idx, "LOGIN", "NICK_TAKEN", "already_online")
		} else {
			c.sendErr(idx, "LOGIN", "NICK_TAKEN", "use_resume_offline")
		}
		return
	}

	s.nick = nick
	s.session = newSessionToken()
	c.sendResp(idx, "LOGIN", "ok", "1", "session", s.session)
}

func (c *Coordinator) handleResume(idx int, msg protocol.Message) {
	nick, _ := msg.Get("nick")
	session, _ := msg.Get("session")

	oldIdx := c.findSlotByNick(nick)
	if oldIdx < 0 {
		c.sendErr(idx, "RESUME", "BAD_SESSION", "no_such_session")
		return
	}
	old := &c.slots[oldIdx]
	if old.online {
		c.sendErr(idx, "RESUME", "ALREADY_ONLINE", "already_online")
		return
	}
	if old.session != session {
		c.sendErr(idx, "RESUME", "BAD_SESSION", "session_mismatch")
		return
	}

	me := &c.slots[idx]
	me.nick = old.nick
	me.session = old.session
	me.roomID = old.roomID
	me.strikes = 0
	roomID := old.roomID
	c.freeSlot(oldIdx)

	var r *room.Room
	if roomID >= 0 {
		if found, ok := c.rooms.Find(roomID); ok {
			c.rooms.Adopt(found, oldIdx, idx)
			r = found
		} else {
			me.roomID = -1
		}
	}

	c.sendResp(idx, "RESUME", "ok", "1")

	if r != nil {
		c.rooms.AnnounceOnline(r, idx)
		c.sendRoomSnapshot(idx, r)
		c.rooms.Tick(r, time.Now())
	}
}

func (c *Coordinator) handleListRooms(idx int, msg protocol.Message) {
	if !c.requireLoggedIn(idx, "LIST_ROOMS") {
		return
	}
	rooms := c.rooms.List()
	c.sendResp(idx, "LIST_ROOMS", "count", strconv.Itoa(len(rooms)))
	for _, r := range rooms {
		c.SendLine(idx, protocol.FormatEvt("ROOM",
			"id", strconv.Itoa(int(r.ID)),
			"name", r.Name,
			"size", strconv.Itoa(r.Size),
			"pcount", strconv.Itoa(r.PlayerCount()),
			"phase", r.Phase.String(),
		))
	}
}

func (c *Coordinator) handleCreateRoom(idx int, msg protocol.Message) {
	if !c.requireLoggedIn(idx, "CREATE_ROOM") {
		return
	}
	s := &c.slots[idx]
	if s.roomID >= 0 {
		c.sendErr(idx, "CREATE_ROOM", "BAD_STATE", "already_in_room")
		return
	}

	name, _ := msg.Get("name")
	sizeTok, _ := msg.Get("size")
	size, err := strconv.Atoi(sizeTok)
	if err != nil || size < room.MinSize || size > room.MaxSize {
		c.sendErr(idx, "CREATE_ROOM", "INVALID_VALUE", "bad_size")
		return
	}

	r, ok := c.rooms.Create(idx, name, size)
	if !ok {
		c.sendErr(idx, "CREATE_ROOM", "LIMIT_REACHED", "room_table_full")
		return
	}
	s.roomID = r.ID
	c.sendResp(idx, "CREATE_ROOM", "ok", "1", "room", strconv.Itoa(int(r.ID)))
}

func (c *Coordinator) handleJoinRoom(idx int, msg protocol.Message) {
	if !c.requireLoggedIn(idx, "JOIN_ROOM") {
		return
	}
	s := &c.slots[idx]
	if s.roomID >= 0 {
		c.sendErr(idx, "JOIN_ROOM", "BAD_STATE", "already_in_room")
		return
	}

	roomTok, _ := msg.Get("room")
	roomID, err := strconv.Atoi(roomTok)
	if err != nil {
		c.sendErr(idx, "JOIN_ROOM", "INVALID_VALUE", "bad_room")
		return
	}

	r, ok := c.rooms.Find(int32(roomID))
	if !ok {
		c.sendErr(idx, "JOIN_ROOM", "NO_SUCH_ROOM", "no_such_room")
		return
	}
	if r.Phase != room.Lobby {
		c.sendErr(idx, "JOIN_ROOM", "BAD_STATE", "not_in_lobby")
		return
	}
	if !c.rooms.Join(r, idx) {
		c.sendErr(idx, "JOIN_ROOM", "ROOM_FULL", "room_full")
		return
	}

	s.roomID = r.ID
	c.sendResp(idx, "JOIN_ROOM", "ok", "1", "room", strconv.Itoa(int(r.ID)))
	c.sendRoomSnapshot(idx, r)
}

func (c *Coordinator) handleLeaveRoom(idx int, msg protocol.Message) {
	if !c.requireLoggedIn(idx, "LEAVE_ROOM") {
		return
	}
	s := &c.slots[idx]
	if s.roomID < 0 {
		c.sendErr(idx, "LEAVE_ROOM", "BAD_STATE", "not_in_room")
		return
	}

	if r, ok := c.rooms.Find(s.roomID); ok {
		c.rooms.Leave(r, idx)
	}
	s.roomID = -1
	// The typo in the original source ("RESP LEAVE_ROO") is not reproduced.
	c.sendResp(idx, "LEAVE_ROOM", "ok", "1")
}

func (c *Coordinator) handleStartGame(idx int, msg protocol.Message) {
	if !c.requireLoggedIn(idx, "START_GAME") {
		return
	}
	s := &c.slots[idx]
	if s.roomID < 0 {
		c.sendErr(idx, "START_GAME", "BAD_STATE", "not_in_room")
		return
	}
	r, ok := c.rooms.Find(s.roomID)
	if !ok {
		c.sendErr(idx, "START_GAME", "BAD_STATE", "no_such_room")
		return
	}

	ok, code := c.rooms.StartGame(r, idx, roomRNG(r.ID))
	if !ok {
		c.sendErr(idx, "START_GAME", code, "cannot_start")
		return
	}
	c.sendResp(idx, "START_GAME", "ok", "1")
}

func (c *Coordinator) handlePlay(idx int, msg protocol.Message) {
	if !c.requireLoggedIn(idx, "PLAY") {
		return
	}
	s := &c.slots[idx]
	if s.roomID < 0 {
		c.sendErr(idx, "PLAY", "BAD_STATE", "not_in_room")
		return
	}
	r, ok := c.rooms.Find(s.roomID)
	if !ok {
		c.sendErr(idx, "PLAY", "BAD_STATE", "no_such_room")
		return
	}

	cardTok, _ := msg.Get("card")
	card, ok := cardgame.ParseCard(cardTok)
	if !ok {
		c.sendErr(idx, "PLAY", "INVALID_VALUE", "bad_card")
		return
	}
	wish := msg.GetOr("wish", "")

	gerr, ok := c.rooms.Play(r, idx, card, wish)
	if !ok {
		if gerr != nil {
			c.sendErr(idx, "PLAY", gerr.Code, gerr.Msg)
		} else {
			c.sendErr(idx, "PLAY", "BAD_STATE", "not_in_game")
		}
		return
	}
	c.sendResp(idx, "PLAY", "ok", "1")
}

func (c *Coordinator) handleDraw(idx int, msg protocol.Message) {
	if !c.requireLoggedIn(idx, "DRAW") {
		return
	}
	s := &c.slots[idx]
	if s.roomID < 0 {
		c.sendErr(idx, "DRAW", "BAD_STATE", "not_in_room")
		return
	}
	r, ok := c.rooms.Find(s.roomID)
	if !ok {
		c.sendErr(idx, "DRAW", "BAD_STATE", "no_such_room")
		return
	}

	count, gerr, ok := c.rooms.Draw(r, idx)
	if !ok {
		if gerr != nil {
			c.sendErr(idx, "DRAW", gerr.Code, gerr.Msg)
		} else {
			c.sendErr(idx, "DRAW", "BAD_STATE", "not_in_game")
		}
		return
	}
	c.sendResp(idx, "DRAW", "ok", "1", "count", strconv.Itoa(count))
}

func (c *Coordinator) handleLogout(idx int, msg protocol.Message) {
	s := &c.slots[idx]
	if s.roomID >= 0 {
		if r, ok := c.rooms.Find(s.roomID); ok {
			c.rooms.Leave(r, idx)
		}
	}
	connID := s.connID
	if connID != 0 {
		c.server.SendLine(connID, protocol.FormatResp("LOGOUT", "ok", "1"))
	}
	delete(c.connToSlot, connID)
	c.freeSlot(idx)
	if connID != 0 {
		c.server.Close(connID)
	}
}

func (c *Coordinator) handlePing(idx int, msg protocol.Message) {
	c.sendResp(idx, "PONG")
}

// sendRoomSnapshot sends a just-(re)joined client the state it needs to
// catch up: room phase, and if a game is running, its hand, the discard
// top, and whose turn it is.
func (c *Coordinator) sendRoomSnapshot(idx int, r *room.Room) {
	paused := "0"
	if r.Paused {
		paused = "1"
	}
	top, suit, penalty, turn := "??", "-", "0", ""
	if r.Game != nil {
		top = r.Game.TopCard().String()
		suit = r.Game.ActiveSuit().String()
		penalty = strconv.Itoa(r.Game.Penalty())
		turn = c.Nick(r.Players[r.Game.TurnPos()])
	}
	c.SendLine(idx, protocol.FormatEvt("STATE",
		"room", strconv.Itoa(int(r.ID)),
		"phase", r.Phase.String(),
		"paused", paused,
		"top", top,
		"active_suit", suit,
		"penalty", penalty,
		"turn", turn,
	))
	c.rooms.SendRoster(r, idx)

	if r.Game == nil {
		return
	}
	pos := r.IndexOf(idx)
	if pos < 0 {
		return
	}
	c.SendLine(idx, protocol.FormatEvt("HAND", "cards", handToken(r.Game.Hand(pos))))
	c.SendLine(idx, protocol.FormatEvt("TOP", "card", top, "active_suit", suit, "penalty", penalty))
	c.SendLine(idx, protocol.FormatEvt("TURN", "nick", turn))
}

func handToken(cards []cardgame.Card) string {
	out := ""
	for i, cd := range cards {
		if i > 0 {
			out += ","
		}
		out += cd.String()
	}
	return out
}
