package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oqilov/monomane/internal/monomane/store"
)

// ActiveSet is the persisted set of conversation IDs where auto-reply is
// enabled. Queries go straight to the database so there is no cache to keep
// coherent across handlers.
type ActiveSet struct {
	db *store.Store
}

// NewActiveSet returns an ActiveSet backed by the application database.
func NewActiveSet(db *store.Store) *ActiveSet {
	return &ActiveSet{db: db}
}

// Contains reports whether the conversation is in the active set.
func (a *ActiveSet) Contains(ctx context.Context, conversationID string) (bool, error) {
	var one int
	err := a.db.DB().QueryRowContext(ctx,
		`SELECT 1 FROM active_conversations WHERE conversation_id = ?`, conversationID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("active set: contains %q: %w", conversationID, err)
	}
	return true, nil
}

// Add inserts the conversation. Returns false when it was already present.
func (a *ActiveSet) Add(ctx context.Context, conversationID string) (bool, error) {
	res, err := a.db.DB().ExecContext(ctx, `
		INSERT INTO active_conversations (conversation_id, added_at)
		VALUES (?, ?)
		ON CONFLICT(conversation_id) DO NOTHING
	`, conversationID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("active set: add %q: %w", conversationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("active set: add %q: %w", conversationID, err)
	}
	return n > 0, nil
}

// Remove deletes the conversation. Returns false when it was not present.
func (a *ActiveSet) Remove(ctx context.Context, conversationID string) (bool, error) {
	res, err := a.db.DB().ExecContext(ctx,
		`DELETE FROM active_conversations WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return false, fmt.Errorf("active set: remove %q: %w", conversationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("active set: remove %q: %w", conversationID, err)
	}
	return n > 0, nil
}

// List returns every active conversation ID in insertion order.
func (a *ActiveSet) List(ctx context.Context) ([]string, error) {
	rows, err := a.db.DB().QueryContext(ctx,
		`SELECT conversation_id FROM active_conversations ORDER BY added_at, conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("active set: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("active set: list scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("active set: list rows: %w", err)
	}
	return ids, nil
}
