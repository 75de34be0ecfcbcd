// Package history persists the bounded per-participant conversation window
// used to prime the generative backend. Each (scope, conversation,
// participant) key holds at most MaxTurns turns; older turns are dropped from
// the front, and each turn's text is capped at MaxTurnLength characters.
// Both invariants are enforced here on Save so callers cannot persist an
// oversized window.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/oqilov/monomane/internal/monomane/chat"
	"github.com/oqilov/monomane/internal/monomane/store"
)

const (
	// MaxTurns is the sliding-window size per key.
	MaxTurns = 10

	// MaxTurnLength is the maximum text length of a single turn, matching
	// the transport's message size limit.
	MaxTurnLength = 4096
)

// Roles used in backend conversation payloads.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Key identifies one history window. For direct chats the conversation and
// participant are the same peer; for groups they differ.
type Key struct {
	Scope          chat.Scope
	ConversationID string
	ParticipantID  string
}

// Part is one text fragment of a turn, mirroring the backend wire shape.
type Part struct {
	Text string `json:"text"`
}

// Turn is a single role-tagged unit in the conversation payload.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTurn builds a single-part turn, truncating text to MaxTurnLength.
func NewTurn(role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: Truncate(text)}}}
}

// Truncate caps text at MaxTurnLength bytes, backing the cut off to a rune
// boundary so a multi-byte character is never split.
func Truncate(text string) string {
	if len(text) <= MaxTurnLength {
		return text
	}
	cut := MaxTurnLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		// Not valid UTF-8; cap at the limit as-is.
		cut = MaxTurnLength
	}
	return text[:cut]
}

// Store reads and writes history windows.
type Store struct {
	db *store.Store
}

// New returns a Store backed by the application database.
func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Load returns the persisted window for key along with its last-activity
// time. A missing row is not an error: it yields an empty window and a zero
// time. A corrupt row is treated the same way so generation can proceed from
// a fresh window.
func (s *Store) Load(ctx context.Context, key Key) ([]Turn, time.Time, error) {
	var (
		raw      string
		activity int64
	)
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT turns, last_activity FROM chat_history
		WHERE scope = ? AND conversation_id = ? AND participant_id = ?
	`, string(key.Scope), key.ConversationID, key.ParticipantID).Scan(&raw, &activity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("history: load: %w", err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		// Unreadable state degrades to "no prior history".
		return nil, time.Time{}, nil
	}
	return turns, time.Unix(activity, 0), nil
}

// Save persists the window for key, trimming to the most recent MaxTurns
// turns and capping each turn's text first.
func (s *Store) Save(ctx context.Context, key Key, turns []Turn, lastActivity time.Time) error {
	turns = clampWindow(turns)

	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO chat_history (scope, conversation_id, participant_id, turns, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, conversation_id, participant_id) DO UPDATE SET
			turns         = excluded.turns,
			last_activity = excluded.last_activity
	`, string(key.Scope), key.ConversationID, key.ParticipantID, string(raw), lastActivity.Unix())
	if err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

// Clear removes the window for key. Clearing a missing key is a no-op.
func (s *Store) Clear(ctx context.Context, key Key) (bool, error) {
	res, err := s.db.DB().ExecContext(ctx, `
		DELETE FROM chat_history
		WHERE scope = ? AND conversation_id = ? AND participant_id = ?
	`, string(key.Scope), key.ConversationID, key.ParticipantID)
	if err != nil {
		return false, fmt.Errorf("history: clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("history: clear: %w", err)
	}
	return n > 0, nil
}

// clampWindow enforces the window invariants: newest MaxTurns turns, each
// part capped at MaxTurnLength.
func clampWindow(turns []Turn) []Turn {
	if len(turns) > MaxTurns {
		turns = turns[len(turns)-MaxTurns:]
	}
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		parts := make([]Part, len(turn.Parts))
		for j, part := range turn.Parts {
			parts[j] = Part{Text: Truncate(part.Text)}
		}
		out[i] = Turn{Role: turn.Role, Parts: parts}
	}
	return out
}
