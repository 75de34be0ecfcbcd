// Package settings manages the operator-tunable runtime switches
// (allow_all_users, auto_reply_enabled, online_mode) and the set of
// conversations where auto-reply is active. Both are persisted to SQLite
// immediately after every mutation; missing or unreadable rows fall back to
// defaults, which are then written out so the next start sees a complete set.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oqilov/monomane/internal/monomane/store"
)

// Settings holds the process-wide switches.
type Settings struct {
	AllowAllUsers    bool
	AutoReplyEnabled bool
	OnlineMode       bool
}

// Defaults returns the settings used when no persisted state exists.
func Defaults() Settings {
	return Settings{
		AllowAllUsers:    false,
		AutoReplyEnabled: true,
		OnlineMode:       false,
	}
}

const (
	keyAllowAllUsers    = "allow_all_users"
	keyAutoReplyEnabled = "auto_reply_enabled"
	keyOnlineMode       = "online_mode"
)

// Service is the live settings holder. Reads come from the in-memory copy;
// every mutation writes through to the database before returning.
// Safe for concurrent use.
type Service struct {
	mu  sync.RWMutex
	cur Settings
	db  *store.Store
}

// Load builds a Service from persisted state. Rows that are missing or
// unparseable are replaced with defaults and written back, so corrupt state
// degrades to a fresh start rather than an error.
func Load(ctx context.Context, db *store.Store) (*Service, error) {
	s := &Service{cur: Defaults(), db: db}

	read := func(key string, dst *bool) {
		var value string
		err := db.DB().QueryRowContext(ctx,
			`SELECT value FROM settings WHERE key = ?`, key,
		).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		if err != nil {
			slog.Warn("settings: read failed, using default", "key", key, "err", err)
			return
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			slog.Warn("settings: unparseable value, using default", "key", key, "value", value)
			return
		}
		*dst = parsed
	}

	read(keyAllowAllUsers, &s.cur.AllowAllUsers)
	read(keyAutoReplyEnabled, &s.cur.AutoReplyEnabled)
	read(keyOnlineMode, &s.cur.OnlineMode)

	if err := s.persist(ctx); err != nil {
		return nil, fmt.Errorf("settings: initial persist: %w", err)
	}
	return s, nil
}

// Current returns a copy of the live settings.
func (s *Service) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// AutoReplyEnabled reports whether the auto-reply engine is on.
func (s *Service) AutoReplyEnabled() bool {
	return s.Current().AutoReplyEnabled
}

// AllowAllUsers reports whether non-operator senders may use the direct
// generation command.
func (s *Service) AllowAllUsers() bool {
	return s.Current().AllowAllUsers
}

// OnlineMode reports whether the keep-alive loop should tick.
func (s *Service) OnlineMode() bool {
	return s.Current().OnlineMode
}

// SetAutoReply flips auto_reply_enabled and persists.
func (s *Service) SetAutoReply(ctx context.Context, enabled bool) error {
	return s.update(ctx, func(cur *Settings) { cur.AutoReplyEnabled = enabled })
}

// SetAllowAllUsers flips allow_all_users and persists.
func (s *Service) SetAllowAllUsers(ctx context.Context, allowed bool) error {
	return s.update(ctx, func(cur *Settings) { cur.AllowAllUsers = allowed })
}

// SetOnlineMode flips online_mode and persists.
func (s *Service) SetOnlineMode(ctx context.Context, online bool) error {
	return s.update(ctx, func(cur *Settings) { cur.OnlineMode = online })
}

func (s *Service) update(ctx context.Context, mutate func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cur
	mutate(&s.cur)
	if err := s.persist(ctx); err != nil {
		s.cur = prev
		return err
	}
	return nil
}

// persist upserts every field. Callers hold the write lock (or, during Load,
// exclusive ownership).
func (s *Service) persist(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range map[string]bool{
		keyAllowAllUsers:    s.cur.AllowAllUsers,
		keyAutoReplyEnabled: s.cur.AutoReplyEnabled,
		keyOnlineMode:       s.cur.OnlineMode,
	} {
		_, err := s.db.DB().ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value      = excluded.value,
				updated_at = excluded.updated_at
		`, key, strconv.FormatBool(value), now)
		if err != nil {
			return fmt.Errorf("settings: set %q: %w", key, err)
		}
	}
	return nil
}
