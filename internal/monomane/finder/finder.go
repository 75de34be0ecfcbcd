// Package finder implements the bounded-time search for a prior human reply:
// given the text of an incoming message, it scans the account's large group
// conversations for other people who received the same message, and reuses
// one of the replies they got. The whole search runs under the caller's
// context deadline; a timeout yields no result, never a partial one.
package finder

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/oqilov/monomane/internal/monomane/chat"
)

const (
	// MaxConversations caps how many of the most recent conversations are
	// considered per search.
	MaxConversations = 100

	// MinGroupMembers is the exclusive lower bound on group size; only
	// groups with more members are scanned, since small groups rarely
	// contain reusable exchanges.
	MinGroupMembers = 200

	// SearchLimitPerConversation caps matching messages inspected per
	// conversation.
	SearchLimitPerConversation = 1000

	// MaxCandidates stops the scan once this many candidate replies have
	// been collected.
	MaxCandidates = 5

	// DefaultDeadline is the search budget applied by callers that do not
	// impose their own.
	DefaultDeadline = 15 * time.Second
)

// Directory is the slice of the transport the finder needs. Implementations
// must honor ctx cancellation promptly — the deadline guarantee depends on
// it.
type Directory interface {
	// RecentConversations returns up to limit conversations, most recent
	// first.
	RecentConversations(ctx context.Context, limit int) ([]chat.Conversation, error)

	// SearchMessages returns up to limit recent messages in the conversation
	// whose text matches query.
	SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]chat.Message, error)

	// ReplyTarget resolves the message msg replies to, or nil when it cannot
	// be fetched.
	ReplyTarget(ctx context.Context, msg chat.Message) (*chat.Message, error)
}

// Status classifies a search outcome.
type Status int

const (
	// StatusNone means the scan completed without finding any candidate.
	StatusNone Status = iota
	// StatusFound means Reply holds a usable prior reply.
	StatusFound
	// StatusTimedOut means the deadline elapsed (or the caller cancelled)
	// before the scan completed; any partial candidates were discarded.
	StatusTimedOut
)

// Result is the outcome of one search.
type Result struct {
	Status Status
	Reply  *chat.Message
}

// Finder runs the prior-reply search against a Directory.
type Finder struct {
	dir    Directory
	selfID string
	pick   func(n int) int
}

// New returns a Finder. selfID is the operating account; messages it
// authored are never candidates in either direction.
func New(dir Directory, selfID string) *Finder {
	return &Finder{dir: dir, selfID: selfID, pick: rand.IntN}
}

// Find scans for prior replies to query and returns one chosen uniformly at
// random. Deadline expiry and cancellation are normal outcomes
// (StatusTimedOut), not errors; only a failure to enumerate conversations at
// all is reported as an error.
func (f *Finder) Find(ctx context.Context, query string) (Result, error) {
	candidates, err := f.collect(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			slog.Info("finder: search abandoned at deadline", "collected", len(candidates))
			return Result{Status: StatusTimedOut}, nil
		}
		return Result{Status: StatusNone}, err
	}
	if len(candidates) == 0 {
		return Result{Status: StatusNone}, nil
	}
	chosen := candidates[f.pick(len(candidates))]
	return Result{Status: StatusFound, Reply: &chosen}, nil
}

// collect walks the conversation graph gathering candidate replies until
// MaxCandidates are found, the enumeration is exhausted, or ctx expires.
// A per-conversation scan failure is logged and skipped; the search goes on.
func (f *Finder) collect(ctx context.Context, query string) ([]chat.Message, error) {
	conversations, err := f.dir.RecentConversations(ctx, MaxConversations)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	var found []chat.Message
	for _, conv := range conversations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if conv.Scope != chat.ScopeGroup || conv.MemberCount <= MinGroupMembers {
			continue
		}

		matches, err := f.dir.SearchMessages(ctx, conv.ID, query, SearchLimitPerConversation)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("finder: scanning conversation failed", "conversation", conv.Title, "err", err)
			continue
		}

		for _, msg := range matches {
			// A usable match is someone else's message that itself replies
			// to a third party: the replied-to message is the candidate.
			if msg.SenderID == f.selfID || !msg.IsReply() {
				continue
			}
			parent, err := f.dir.ReplyTarget(ctx, msg)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				slog.Warn("finder: resolving reply target failed", "conversation", conv.Title, "err", err)
				break // abandon this conversation, move to the next
			}
			if parent == nil || parent.SenderID == f.selfID {
				continue
			}
			found = append(found, *parent)
			if len(found) >= MaxCandidates {
				slog.Info("finder: candidate cap reached, stopping scan", "candidates", len(found))
				return found, nil
			}
		}
	}

	return found, nil
}
