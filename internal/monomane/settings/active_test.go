package settings_test

import (
	"context"
	"testing"

	"github.com/oqilov/monomane/internal/monomane/settings"
)

func TestActiveSetAddContainsRemove(t *testing.T) {
	active := settings.NewActiveSet(newTestStore(t))
	ctx := context.Background()
	const room = "!room:example.org"

	ok, err := active.Contains(ctx, room)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Error("empty set should not contain anything")
	}

	added, err := active.Add(ctx, room)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !added {
		t.Error("first Add should report an insertion")
	}

	added, err = active.Add(ctx, room)
	if err != nil {
		t.Fatalf("Add (again): %v", err)
	}
	if added {
		t.Error("adding a present conversation should report false")
	}

	ok, err = active.Contains(ctx, room)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok {
		t.Error("set should contain the added conversation")
	}

	removed, err := active.Remove(ctx, room)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Error("Remove should report a deletion")
	}

	removed, err = active.Remove(ctx, room)
	if err != nil {
		t.Fatalf("Remove (again): %v", err)
	}
	if removed {
		t.Error("removing a missing conversation should report false")
	}
}

func TestActiveSetList(t *testing.T) {
	active := settings.NewActiveSet(newTestStore(t))
	ctx := context.Background()

	ids, err := active.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("empty set: got %v", ids)
	}

	for _, room := range []string{"!a:example.org", "!b:example.org"} {
		if _, err := active.Add(ctx, room); err != nil {
			t.Fatalf("Add %s: %v", room, err)
		}
	}

	ids, err = active.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("list length: got %d, want 2", len(ids))
	}
}
