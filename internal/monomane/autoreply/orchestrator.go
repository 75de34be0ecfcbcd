// Package autoreply decides, for each incoming group message, whether and
// how the account answers: first by reusing a prior human reply found in the
// account's own conversation graph (timeboxed), and otherwise by asking the
// generative backend. The decision pipeline is a sequence of cheap gates so
// the expensive steps run only for messages that genuinely continue one of
// the account's own threads.
package autoreply

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oqilov/monomane/internal/monomane/chat"
	"github.com/oqilov/monomane/internal/monomane/cooldown"
	"github.com/oqilov/monomane/internal/monomane/finder"
	"github.com/oqilov/monomane/internal/monomane/history"
)

// maxPartLength is the transport's message size limit; longer replies are
// split on whitespace into multiple parts.
const maxPartLength = 4096

// Transport is the slice of the messaging client the orchestrator needs.
type Transport interface {
	SendReply(ctx context.Context, conversationID, text, replyToID string) error
	Typing(ctx context.Context, conversationID string, on bool) error
	ReplyTarget(ctx context.Context, msg chat.Message) (*chat.Message, error)
}

// Searcher is the timeboxed prior-reply search (the finder, in production).
type Searcher interface {
	Find(ctx context.Context, query string) (finder.Result, error)
}

// Generator is the fallback path; it never fails, only returns text.
type Generator interface {
	Generate(ctx context.Context, prompt string, key history.Key) string
}

// ActiveSet answers whether auto-reply is enabled for a conversation.
type ActiveSet interface {
	Contains(ctx context.Context, conversationID string) (bool, error)
}

// Switches exposes the live settings read before any reply attempt.
type Switches interface {
	AutoReplyEnabled() bool
}

// Config assembles an Orchestrator.
type Config struct {
	Transport Transport
	Searcher  Searcher
	Generator Generator
	Gate      *cooldown.Gate
	Active    ActiveSet
	Switches  Switches

	// SelfID is the operating account; its own messages never trigger a
	// reply, and only replies to its messages pass the reply-target gate.
	SelfID string

	// SearchDeadline bounds the prior-reply search. Defaults to
	// finder.DefaultDeadline when zero.
	SearchDeadline time.Duration

	// Now is the clock used for the cooldown gate; defaults to time.Now.
	Now func() time.Time
}

// Orchestrator handles one incoming message at a time (callers may invoke it
// concurrently for different messages).
type Orchestrator struct {
	cfg Config
}

// New returns an Orchestrator, filling in Config defaults.
func New(cfg Config) *Orchestrator {
	if cfg.SearchDeadline == 0 {
		cfg.SearchDeadline = finder.DefaultDeadline
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg}
}

// HandleMessage runs the full decision pipeline for one incoming message.
// Every rejection is silent; failures are logged and abandoned rather than
// propagated.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg chat.Message) {
	// Eligibility gate.
	if !o.cfg.Switches.AutoReplyEnabled() ||
		msg.Scope != chat.ScopeGroup ||
		msg.Text == "" ||
		msg.SenderID == o.cfg.SelfID ||
		msg.FromBot {
		return
	}
	active, err := o.cfg.Active.Contains(ctx, msg.ConversationID)
	if err != nil {
		slog.Warn("autoreply: active-set lookup failed", "conversation", msg.ConversationID, "err", err)
		return
	}
	if !active {
		return
	}

	// Reply-target gate: only continuations of the account's own threads.
	if !msg.IsReply() {
		return
	}
	parent, err := o.cfg.Transport.ReplyTarget(ctx, msg)
	if err != nil {
		slog.Warn("autoreply: reply-target lookup failed", "message", msg.ID, "err", err)
		return
	}
	if parent == nil || parent.SenderID != o.cfg.SelfID {
		return
	}

	// Cooldown gate.
	if !o.cfg.Gate.Allow(msg.SenderID, o.cfg.Now()) {
		slog.Info("autoreply: anti-flood, sender on cooldown", "sender", msg.SenderID)
		return
	}

	prompt := strings.TrimSpace(msg.Text)

	// Step 4: timeboxed prior-reply search. When it answers, the generative
	// fallback is skipped entirely.
	if o.trySearch(ctx, msg, prompt) {
		return
	}

	// Step 5: generative fallback.
	o.setTyping(ctx, msg.ConversationID, true)
	defer o.setTyping(ctx, msg.ConversationID, false)

	key := history.Key{
		Scope:          msg.Scope,
		ConversationID: msg.ConversationID,
		ParticipantID:  msg.SenderID,
	}
	response := o.cfg.Generator.Generate(ctx, prompt, key)
	if response == "" {
		return
	}
	for _, part := range splitMessage(response, maxPartLength) {
		if err := o.cfg.Transport.SendReply(ctx, msg.ConversationID, part, msg.ID); err != nil {
			slog.Error("autoreply: sending generated reply failed", "conversation", msg.ConversationID, "err", err)
			return
		}
	}
}

// trySearch runs the prior-reply search under its deadline and, on success,
// sends the found reply. Reports whether this step settled the message (a
// found candidate settles it even if the send fails — the fallback must not
// also fire).
func (o *Orchestrator) trySearch(ctx context.Context, msg chat.Message, prompt string) bool {
	o.setTyping(ctx, msg.ConversationID, true)
	defer o.setTyping(ctx, msg.ConversationID, false)

	searchCtx, cancel := context.WithTimeout(ctx, o.cfg.SearchDeadline)
	defer cancel()

	result, err := o.cfg.Searcher.Find(searchCtx, prompt)
	if err != nil {
		slog.Error("autoreply: prior-reply search failed", "err", err)
		return false
	}

	switch result.Status {
	case finder.StatusFound:
		slog.Info("autoreply: prior reply found, reusing it", "conversation", msg.ConversationID)
		if err := o.cfg.Transport.SendReply(ctx, msg.ConversationID, result.Reply.Text, msg.ID); err != nil {
			slog.Error("autoreply: sending found reply failed", "conversation", msg.ConversationID, "err", err)
		}
		return true
	case finder.StatusTimedOut:
		slog.Info("autoreply: search deadline elapsed, falling back")
		return false
	default:
		return false
	}
}

func (o *Orchestrator) setTyping(ctx context.Context, conversationID string, on bool) {
	if err := o.cfg.Transport.Typing(ctx, conversationID, on); err != nil {
		slog.Debug("autoreply: typing indicator failed", "conversation", conversationID, "err", err)
	}
}

// splitMessage greedily splits text into whitespace-aligned parts of at most
// limit bytes, hard-cutting only when a single run exceeds the limit. A hard
// cut backs off to a rune boundary so a multi-byte character is never split.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexAny(text[:limit+1], " \t\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				// Not valid UTF-8; cut at the limit rather than stall.
				cut = limit
			}
		}
		part := strings.TrimRight(text[:cut], " \t\n")
		if part != "" {
			parts = append(parts, part)
		}
		text = strings.TrimLeft(text[cut:], " \t\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
