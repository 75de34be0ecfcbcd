package settings_test

import (
	"context"
	"os"
	"testing"

	"github.com/oqilov/monomane/internal/monomane/settings"
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

func TestLoadDefaultsOnEmptyDatabase(t *testing.T) {
	db := newTestStore(t)

	svc, err := settings.Load(context.Background(), db)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := svc.Current()
	want := settings.Defaults()
	if got != want {
		t.Errorf("settings: got %+v, want %+v", got, want)
	}
	if got.AllowAllUsers {
		t.Error("allow_all_users must default to off")
	}
	if !got.AutoReplyEnabled {
		t.Error("auto_reply_enabled must default to on")
	}
	if got.OnlineMode {
		t.Error("online_mode must default to off")
	}
}

func TestMutationsPersistAcrossReload(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	svc, err := settings.Load(ctx, db)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := svc.SetAllowAllUsers(ctx, true); err != nil {
		t.Fatalf("SetAllowAllUsers: %v", err)
	}
	if err := svc.SetAutoReply(ctx, false); err != nil {
		t.Fatalf("SetAutoReply: %v", err)
	}
	if err := svc.SetOnlineMode(ctx, true); err != nil {
		t.Fatalf("SetOnlineMode: %v", err)
	}

	// A second Load over the same database simulates a process restart.
	reloaded, err := settings.Load(ctx, db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := reloaded.Current()
	if !got.AllowAllUsers || got.AutoReplyEnabled || !got.OnlineMode {
		t.Errorf("reloaded settings: got %+v", got)
	}
}

func TestCorruptRowFallsBackToDefault(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	_, err := db.DB().ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ('auto_reply_enabled', 'banana', '2026-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("seeding corrupt row: %v", err)
	}

	svc, err := settings.Load(ctx, db)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !svc.AutoReplyEnabled() {
		t.Error("a corrupt row should fall back to the default, not an error")
	}

	// Load writes the defaults back, repairing the row.
	var value string
	err = db.DB().QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'auto_reply_enabled'`).Scan(&value)
	if err != nil {
		t.Fatalf("reading repaired row: %v", err)
	}
	if value != "true" {
		t.Errorf("repaired value: got %q, want %q", value, "true")
	}
}

func TestAccessors(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	svc, err := settings.Load(ctx, db)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := svc.SetAllowAllUsers(ctx, true); err != nil {
		t.Fatalf("SetAllowAllUsers: %v", err)
	}
	if !svc.AllowAllUsers() {
		t.Error("AllowAllUsers should reflect the mutation")
	}
	if err := svc.SetOnlineMode(ctx, true); err != nil {
		t.Fatalf("SetOnlineMode: %v", err)
	}
	if !svc.OnlineMode() {
		t.Error("OnlineMode should reflect the mutation")
	}
}
