package history_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/oqilov/monomane/internal/monomane/chat"
	"github.com/oqilov/monomane/internal/monomane/history"
	"github.com/oqilov/monomane/internal/monomane/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "monomane-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func testKey() history.Key {
	return history.Key{
		Scope:          chat.ScopeGroup,
		ConversationID: "!room:example.org",
		ParticipantID:  "@alice:example.org",
	}
}

func TestLoadMissingKeyReturnsEmptyWindow(t *testing.T) {
	h := history.New(newTestStore(t))

	turns, activity, err := h.Load(context.Background(), testKey())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected empty window, got %d turns", len(turns))
	}
	if !activity.IsZero() {
		t.Errorf("expected zero activity time, got %v", activity)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	h := history.New(newTestStore(t))
	key := testKey()
	now := time.Unix(1700000000, 0)

	turns := []history.Turn{
		history.NewTurn(history.RoleUser, "hello"),
		history.NewTurn(history.RoleModel, "hi there"),
	}
	if err := h.Save(context.Background(), key, turns, now); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, activity, err := h.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	if got[0].Role != history.RoleUser || got[0].Parts[0].Text != "hello" {
		t.Errorf("first turn: got %+v", got[0])
	}
	if got[1].Role != history.RoleModel || got[1].Parts[0].Text != "hi there" {
		t.Errorf("second turn: got %+v", got[1])
	}
	if !activity.Equal(now) {
		t.Errorf("activity: got %v, want %v", activity, now)
	}
}

func TestSaveTrimsToMostRecentTurns(t *testing.T) {
	h := history.New(newTestStore(t))
	key := testKey()

	var turns []history.Turn
	for i := 0; i < history.MaxTurns+6; i++ {
		turns = append(turns, history.NewTurn(history.RoleUser, fmt.Sprintf("message %d", i)))
	}
	if err := h.Save(context.Background(), key, turns, time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, _, err := h.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != history.MaxTurns {
		t.Fatalf("expected %d turns, got %d", history.MaxTurns, len(got))
	}
	// The oldest turns are the ones dropped.
	first := got[0].Parts[0].Text
	want := fmt.Sprintf("message %d", 6)
	if first != want {
		t.Errorf("first surviving turn: got %q, want %q", first, want)
	}
	last := got[len(got)-1].Parts[0].Text
	want = fmt.Sprintf("message %d", history.MaxTurns+5)
	if last != want {
		t.Errorf("last turn: got %q, want %q", last, want)
	}
}

func TestSaveCapsTurnLength(t *testing.T) {
	h := history.New(newTestStore(t))
	key := testKey()

	long := strings.Repeat("a", history.MaxTurnLength+100)
	turns := []history.Turn{{Role: history.RoleUser, Parts: []history.Part{{Text: long}}}}
	if err := h.Save(context.Background(), key, turns, time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, _, err := h.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got[0].Parts[0].Text) != history.MaxTurnLength {
		t.Errorf("turn length: got %d, want %d", len(got[0].Parts[0].Text), history.MaxTurnLength)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	h := history.New(newTestStore(t))
	alice := testKey()
	bob := alice
	bob.ParticipantID = "@bob:example.org"

	if err := h.Save(context.Background(), alice, []history.Turn{history.NewTurn(history.RoleUser, "from alice")}, time.Now()); err != nil {
		t.Fatalf("Save alice: %v", err)
	}
	if err := h.Save(context.Background(), bob, []history.Turn{history.NewTurn(history.RoleUser, "from bob")}, time.Now()); err != nil {
		t.Fatalf("Save bob: %v", err)
	}

	got, _, err := h.Load(context.Background(), alice)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Parts[0].Text != "from alice" {
		t.Errorf("alice window polluted: %+v", got)
	}
}

func TestClear(t *testing.T) {
	h := history.New(newTestStore(t))
	key := testKey()

	if err := h.Save(context.Background(), key, []history.Turn{history.NewTurn(history.RoleUser, "hello")}, time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cleared, err := h.Clear(context.Background(), key)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !cleared {
		t.Error("Clear should report an existing window was removed")
	}

	turns, _, err := h.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected empty window after clear, got %d turns", len(turns))
	}

	cleared, err = h.Clear(context.Background(), key)
	if err != nil {
		t.Fatalf("Clear (again): %v", err)
	}
	if cleared {
		t.Error("clearing a missing window should report false")
	}
}

func TestNewTurnTruncates(t *testing.T) {
	turn := history.NewTurn(history.RoleUser, strings.Repeat("x", history.MaxTurnLength*2))
	if len(turn.Parts[0].Text) != history.MaxTurnLength {
		t.Errorf("NewTurn length: got %d, want %d", len(turn.Parts[0].Text), history.MaxTurnLength)
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	// Three-byte runes never divide the limit evenly, so a byte-offset cut
	// would land mid-rune.
	long := strings.Repeat("あ", history.MaxTurnLength)
	got := history.Truncate(long)
	if len(got) > history.MaxTurnLength {
		t.Errorf("truncated length: got %d, want at most %d", len(got), history.MaxTurnLength)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte character")
	}

	short := strings.Repeat("あ", 3)
	if history.Truncate(short) != short {
		t.Error("text under the limit must pass through unchanged")
	}
}
