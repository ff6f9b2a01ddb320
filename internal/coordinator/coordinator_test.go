package coordinator

import (
	"strings"
	"testing"
	"time"

	"sedmaserver/internal/transport"
)

type fakeSender struct {
	sent   map[transport.ConnID][]string
	closed map[transport.ConnID]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[transport.ConnID][]string), closed: make(map[transport.ConnID]bool)}
}

func (f *fakeSender) SendLine(id transport.ConnID, line string) {
	f.sent[id] = append(f.sent[id], line)
}

func (f *fakeSender) Close(id transport.ConnID) {
	f.closed[id] = true
}

func (f *fakeSender) last(id transport.ConnID) string {
	lines := f.sent[id]
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func newTestCoordinator(maxClients, maxRooms int) (*Coordinator, *fakeSender) {
	c := New(maxClients, maxRooms)
	fs := newFakeSender()
	c.Attach(fs)
	return c, fs
}

func connect(c *Coordinator, id transport.ConnID) {
	c.onConnect(id)
}

func TestLoginAssignsSessionAndRejectsDuplicateOnline(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	connect(c, 2)

	c.onLine(1, "REQ LOGIN nick=alice")
	resp := fs.last(1)
	if !strings.HasPrefix(resp, "RESP LOGIN ok=1 session=") {
		t.Fatalf("unexpected LOGIN response: %q", resp)
	}

	c.onLine(2, "REQ LOGIN nick=alice")
	if got := fs.last(2); !strings.Contains(got, "NICK_TAKEN") || !strings.Contains(got, "already_online") {
		t.Fatalf("expected NICK_TAKEN/already_online, got %q", got)
	}
}

func TestResumeAdoptsOfflineSlot(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	c.onLine(1, "REQ LOGIN nick=bob")
	session := extractSession(fs.last(1))

	c.onDisconnect(1)
	if c.slots[0].online {
		t.Fatalf("expected slot to go offline after disconnect")
	}

	connect(c, 2)
	c.onLine(2, "REQ RESUME nick=bob session="+session)
	resp := fs.last(2)
	if resp != "RESP RESUME ok=1" {
		t.Fatalf("unexpected RESUME response: %q", resp)
	}
	newIdx, ok := c.connToSlot[2]
	if !ok || c.slots[newIdx].nick != "bob" {
		t.Fatalf("expected connection 2 to now own nick bob")
	}
}

func TestResumeRejectsWrongSession(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	c.onLine(1, "REQ LOGIN nick=carol")
	c.onDisconnect(1)

	connect(c, 2)
	c.onLine(2, "REQ RESUME nick=carol session=deadbeef")
	if got := fs.last(2); !strings.Contains(got, "BAD_SESSION") {
		t.Fatalf("expected BAD_SESSION, got %q", got)
	}
}

func TestCreateAndJoinRoomFlow(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	connect(c, 2)
	c.onLine(1, "REQ LOGIN nick=host")
	c.onLine(2, "REQ LOGIN nick=guest")

	c.onLine(1, "REQ CREATE_ROOM name=table1 size=2")
	if got := fs.last(1); !strings.HasPrefix(got, "RESP CREATE_ROOM ok=1 room=") {
		t.Fatalf("unexpected CREATE_ROOM response: %q", got)
	}

	c.onLine(2, "REQ JOIN_ROOM room=1")
	if !anyContains(fs.sent[2], "STATE") {
		t.Fatalf("expected a STATE snapshot after join, got %v", fs.sent[2])
	}
	if !anyContains(fs.sent[2], "EVT HOST") {
		t.Fatalf("expected a roster send after join, got %v", fs.sent[2])
	}
}

func TestStartGameRequiresHost(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	connect(c, 2)
	c.onLine(1, "REQ LOGIN nick=host")
	c.onLine(2, "REQ LOGIN nick=guest")
	c.onLine(1, "REQ CREATE_ROOM name=table1 size=2")
	c.onLine(2, "REQ JOIN_ROOM room=1")

	c.onLine(2, "REQ START_GAME")
	if got := fs.last(2); !strings.Contains(got, "NOT_HOST") {
		t.Fatalf("expected NOT_HOST, got %q", got)
	}

	c.onLine(1, "REQ START_GAME")
	if got := fs.last(1); got != "RESP START_GAME ok=1" {
		t.Fatalf("unexpected START_GAME response: %q", got)
	}
	if got := fs.last(2); !strings.HasPrefix(got, "EVT TURN") {
		t.Fatalf("expected the room to have received a TURN broadcast, last was %q", got)
	}
}

func TestPlayRejectsBeforeGameStartsAndDrawRespIncludesCount(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	connect(c, 2)
	c.onLine(1, "REQ LOGIN nick=host")
	c.onLine(2, "REQ LOGIN nick=guest")
	c.onLine(1, "REQ CREATE_ROOM name=table1 size=2")
	c.onLine(2, "REQ JOIN_ROOM room=1")

	c.onLine(1, "REQ PLAY card=S7")
	if got := fs.last(1); !strings.Contains(got, "BAD_STATE") || !strings.Contains(got, "no_game") {
		t.Fatalf("expected BAD_STATE/no_game before the game starts, got %q", got)
	}

	c.onLine(1, "REQ START_GAME")

	c.onLine(1, "REQ DRAW")
	resp := fs.last(1)
	if strings.Contains(resp, "NOT_YOUR_TURN") {
		c.onLine(2, "REQ DRAW")
		resp = fs.last(2)
	}
	if !strings.HasPrefix(resp, "RESP DRAW ok=1 count=") {
		t.Fatalf("expected RESP DRAW to include a count, got %q", resp)
	}
}

func TestStrikesDropConnectionAfterThree(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)

	for i := 0; i < 3; i++ {
		c.onLine(1, "garbage line")
	}
	if !fs.closed[1] {
		t.Fatalf("expected connection to be closed after 3 strikes")
	}
}

func TestIdleOnlineTimeoutDropsConnection(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	c.slots[0].lastSeen = time.Now().Add(-OnlineIdleTimeout - time.Second)

	c.onTick(time.Now())
	if !fs.closed[1] {
		t.Fatalf("expected idle connection to be closed")
	}
}

func TestDisconnectAnnouncesOfflineToRoommates(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	connect(c, 2)
	c.onLine(1, "REQ LOGIN nick=host")
	c.onLine(2, "REQ LOGIN nick=guest")
	c.onLine(1, "REQ CREATE_ROOM name=table1 size=2")
	c.onLine(2, "REQ JOIN_ROOM room=1")

	c.onDisconnect(2)
	if !anyContains(fs.sent[1], "EVT PLAYER_OFFLINE nick=guest") {
		t.Fatalf("expected host to be told guest went offline, got %v", fs.sent[1])
	}
}

func TestResumeAnnouncesOnlineAndRoster(t *testing.T) {
	c, fs := newTestCoordinator(8, 4)
	connect(c, 1)
	connect(c, 2)
	c.onLine(1, "REQ LOGIN nick=host")
	c.onLine(2, "REQ LOGIN nick=guest")
	c.onLine(1, "REQ CREATE_ROOM name=table1 size=2")
	c.onLine(2, "REQ JOIN_ROOM room=1")

	guestIdx, ok := c.connToSlot[2]
	if !ok {
		t.Fatalf("expected connection 2 to have a slot")
	}
	guestSession := c.slots[guestIdx].session

	c.onDisconnect(2)
	connect(c, 3)
	c.onLine(3, "REQ RESUME nick=guest session="+guestSession)

	if !anyContains(fs.sent[1], "EVT PLAYER_ONLINE nick=guest") {
		t.Fatalf("expected host to be told guest came back online, got %v", fs.sent[1])
	}
	if !anyContains(fs.sent[3], "EVT HOST nick=host") {
		t.Fatalf("expected resumed client to receive the room roster, got %v", fs.sent[3])
	}
}

func TestOfflineTimeoutRemovesFromRoom(t *testing.T) {
	c, _ := newTestCoordinator(8, 4)
	connect(c, 1)
	connect(c, 2)
	c.onLine(1, "REQ LOGIN nick=host")
	c.onLine(2, "REQ LOGIN nick=guest")
	c.onLine(1, "REQ CREATE_ROOM name=table1 size=2")
	c.onLine(2, "REQ JOIN_ROOM room=1")

	c.onDisconnect(2)
	c.slots[1].lastSeen = time.Now().Add(-OfflineTimeout - time.Second)

	c.onTick(time.Now())
	if c.slots[1].state != slotEmpty {
		t.Fatalf("expected slot to be freed after offline timeout")
	}
	r, ok := c.rooms.Find(1)
	if !ok || r.PlayerCount() != 1 {
		t.Fatalf("expected room to have lost the offline player")
	}
}

func anyContains(lines []string, sub string) bool {
	for _, l := range lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

func extractSession(resp string) string {
	const marker = "session="
	i := strings.Index(resp, marker)
	if i < 0 {
		return ""
	}
	return resp[i+len(marker):]
}
