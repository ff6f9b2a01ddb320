package cardgame

import (
	"math/rand"
	"testing"
)

func newTestGame(players int, seed int64) *Game {
	g := New(players, rand.New(rand.NewSource(seed)))
	g.Deal(CardsEach)
	g.PickStartTop()
	return g
}

func TestCardRoundTrip(t *testing.T) {
	for c := Card(0); c < 32; c++ {
		s := c.String()
		got, ok := ParseCard(s)
		if !ok || got != c {
			t.Fatalf("round trip failed for card %d: %q -> %v, %v", c, s, got, ok)
		}
	}
}

func TestDealAndConservation(t *testing.T) {
	g := newTestGame(3, 1)
	if got := g.CardConservation(); got != 32 {
		t.Fatalf("card conservation = %d, want 32", got)
	}
	for p := 0; p < 3; p++ {
		if g.HandCount(p) != CardsEach {
			t.Fatalf("player %d has %d cards, want %d", p, g.HandCount(p), CardsEach)
		}
	}
}

func TestActiveSuitAlwaysValidAfterStart(t *testing.T) {
	g := newTestGame(4, 42)
	switch g.ActiveSuit() {
	case Spades, Hearts, Diamonds, Clubs:
	default:
		t.Fatalf("active suit %v is not one of S/H/D/C", g.ActiveSuit())
	}
}

func TestPlayRejectsWrongTurn(t *testing.T) {
	g := newTestGame(2, 7)
	other := (g.TurnPos() + 1) % 2
	card := g.Hand(other)[0]
	_, err := g.Play(other, card, "")
	var gerr *Error
	if err == nil {
		t.Fatalf("expected NOT_YOUR_TURN error")
	}
	if gerr, _ = err.(*Error); gerr.Code != CodeNotYourTurn {
		t.Fatalf("got code %v, want NOT_YOUR_TURN", gerr.Code)
	}
}

func TestPlayRejectsCardNotHeld(t *testing.T) {
	g := newTestGame(2, 7)
	turn := g.TurnPos()
	var missing Card
	for c := Card(0); c < 32; c++ {
		if !g.HandHas(turn, c) {
			missing = c
			break
		}
	}
	_, err := g.Play(turn, missing, "")
	if err == nil {
		t.Fatalf("expected NO_SUCH_CARD")
	}
	if err.(*Error).Code != CodeNoSuchCard {
		t.Fatalf("got %v", err)
	}
}

func TestSevenAddsPenaltyAndMustStack(t *testing.T) {
	g := New(2, rand.New(rand.NewSource(1)))
	// Hand-build a deterministic scenario instead of relying on shuffle.
	g.topCard = NewCard(Spades, Eight)
	g.activeSuit = Spades
	g.hands[0][0] = NewCard(Spades, Seven)
	g.hands[0][1] = NewCard(Diamonds, King) // keeps the seven from being the winning last card
	g.handCount[0] = 2
	g.hands[1][0] = NewCard(Hearts, King)
	g.handCount[1] = 1
	g.turnPos = 0
	g.deckTop = 32 // deck empty so draws come from nowhere extra

	out, err := g.Play(0, NewCard(Spades, Seven), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AddedPenalty != 2 || g.Penalty() != 2 {
		t.Fatalf("expected penalty 2, got outcome=%+v penalty=%d", out, g.Penalty())
	}
	if g.TurnPos() != 1 {
		t.Fatalf("expected turn to advance to 1, got %d", g.TurnPos())
	}

	_, err = g.Play(1, NewCard(Hearts, King), "")
	if err == nil || err.(*Error).Code != CodeMustStackOrDraw {
		t.Fatalf("expected MUST_STACK_OR_DRAW, got %v", err)
	}
}

func TestDrawClearsPenalty(t *testing.T) {
	g := New(2, rand.New(rand.NewSource(2)))
	g.turnPos = 1
	g.penalty = 2
	g.deck[0] = NewCard(Clubs, Nine)
	g.deck[1] = NewCard(Clubs, Ten)
	g.deckTop = 0

	n, err := g.Draw(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected to draw 2 cards, got %d", n)
	}
	if g.Penalty() != 0 {
		t.Fatalf("expected penalty cleared, got %d", g.Penalty())
	}
	if g.TurnPos() != 0 {
		t.Fatalf("expected turn to advance to 0, got %d", g.TurnPos())
	}
}

func TestQueenRequiresWish(t *testing.T) {
	g := New(2, rand.New(rand.NewSource(3)))
	g.topCard = NewCard(Spades, Eight)
	g.activeSuit = Spades
	g.hands[0][0] = NewCard(Spades, Queen)
	g.handCount[0] = 1
	g.hands[1][0] = NewCard(Hearts, King)
	g.handCount[1] = 1
	g.turnPos = 0

	if _, err := g.Play(0, NewCard(Spades, Queen), ""); err == nil || err.(*Error).Code != CodeWishRequired {
		t.Fatalf("expected WISH_REQUIRED, got %v", err)
	}
	if _, err := g.Play(0, NewCard(Spades, Queen), "Z"); err == nil || err.(*Error).Code != CodeBadWish {
		t.Fatalf("expected BAD_WISH, got %v", err)
	}
	out, err := g.Play(0, NewCard(Spades, Queen), "H")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = out
	if g.ActiveSuit() != Hearts {
		t.Fatalf("expected active suit Hearts after wish, got %v", g.ActiveSuit())
	}
}

func TestLastCardEndsGameWithoutAdvancingTurn(t *testing.T) {
	g := New(2, rand.New(rand.NewSource(4)))
	g.topCard = NewCard(Spades, Eight)
	g.activeSuit = Spades
	g.hands[0][0] = NewCard(Spades, Nine)
	g.handCount[0] = 1
	g.turnPos = 0

	out, err := g.Play(0, NewCard(Spades, Nine), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.WinnerPos != 0 {
		t.Fatalf("expected winner 0, got %+v", out)
	}
	if !g.Ended {
		t.Fatalf("expected game ended")
	}
	w, ok := g.Winner()
	if !ok || w != 0 {
		t.Fatalf("Winner() = %d, %v; want 0, true", w, ok)
	}
	if g.TurnPos() != 0 {
		t.Fatalf("expected turn to stay on the winner 0, got %d", g.TurnPos())
	}
}

func TestAceSkipsNextPlayer(t *testing.T) {
	g := New(3, rand.New(rand.NewSource(5)))
	g.topCard = NewCard(Spades, Eight)
	g.activeSuit = Spades
	g.hands[0][0] = NewCard(Spades, Ace)
	g.hands[0][1] = NewCard(Diamonds, King) // keeps the ace from being the winning last card
	g.handCount[0] = 2
	g.hands[1][0] = NewCard(Hearts, King)
	g.handCount[1] = 1
	g.hands[2][0] = NewCard(Clubs, King)
	g.handCount[2] = 1
	g.turnPos = 0

	if _, err := g.Play(0, NewCard(Spades, Ace), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.TurnPos() != 2 {
		t.Fatalf("expected ace to skip player 1, landing on 2; got %d", g.TurnPos())
	}
}

func TestRemovePlayerCompactsHandsAndTurn(t *testing.T) {
	g := New(3, rand.New(rand.NewSource(6)))
	g.hands[0][0] = NewCard(Spades, Seven)
	g.handCount[0] = 1
	g.hands[1][0] = NewCard(Hearts, Seven)
	g.handCount[1] = 1
	g.hands[2][0] = NewCard(Diamonds, Seven)
	g.handCount[2] = 1
	g.turnPos = 2

	g.RemovePlayer(1)

	if g.PlayerCount() != 2 {
		t.Fatalf("expected 2 players remaining, got %d", g.PlayerCount())
	}
	if g.HandCount(1) != 1 || !g.HandHas(1, NewCard(Diamonds, Seven)) {
		t.Fatalf("expected seat 1 to now hold what was seat 2's hand")
	}
	if g.TurnPos() != 1 {
		t.Fatalf("expected turn to compact from 2 to 1, got %d", g.TurnPos())
	}
}
