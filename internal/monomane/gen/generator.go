// Package gen implements the generation fallback: it assembles a
// persona-primed conversation payload from stored history, calls the
// generative backend, and records the exchange. Generate never returns an
// error — every failure path resolves to a user-facing string, with the
// underlying cause logged after secret redaction.
package gen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/oqilov/monomane/common/redact"
	"github.com/oqilov/monomane/internal/monomane/history"
	"github.com/oqilov/monomane/internal/monomane/persona"
)

// User-facing failure messages. These are returned instead of errors so the
// reply pipeline always has something to send.
const (
	msgUnreachable = "Could not reach the external AI service."
	msgUnexpected  = "An unexpected error occurred while generating a reply."
)

// leadingBullet matches a line-leading "* " not followed by another asterisk
// or whitespace; the backend's markdown bullets are normalized to "•" so
// they render in plain chat text.
var leadingBullet = regexp.MustCompile(`(?m)^\*\s([^*\s])`)

// Generator composes persona, history, and backend into the fallback path.
type Generator struct {
	backend Backend
	history *history.Store
	persona *persona.Persona

	// sensitive values stripped from logged error text (API key, endpoint).
	sensitive []string
}

// NewGenerator builds a Generator. p may be nil (no persona preamble).
// sensitive lists values that must never reach the log, typically the
// backend API key and base URL.
func NewGenerator(backend Backend, hist *history.Store, p *persona.Persona, sensitive ...string) *Generator {
	return &Generator{
		backend:   backend,
		history:   hist,
		persona:   p,
		sensitive: sensitive,
	}
}

// Generate produces a reply to prompt for the given history key. On success
// the prompt/response pair is appended to the stored window (trimmed to the
// most recent turns) before the text is returned.
func (g *Generator) Generate(ctx context.Context, prompt string, key history.Key) string {
	turns, _, err := g.history.Load(ctx, key)
	if err != nil {
		// Unreadable history degrades to an empty window.
		slog.Warn("gen: load history failed, starting fresh", "err", redact.String(err.Error(), g.sensitive...))
		turns = nil
	}

	contents := g.persona.Preamble()
	contents = append(contents, turns...)
	contents = append(contents, history.NewTurn(history.RoleUser, prompt))

	text, err := g.backend.Complete(ctx, contents)
	if err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			return fmt.Sprintf("The AI had trouble answering. Reason: %s", blocked.Reason)
		}
		var transport *TransportError
		if errors.As(err, &transport) {
			return msgUnreachable
		}
		slog.Error("gen: completion failed", "err", redact.String(err.Error(), g.sensitive...))
		return msgUnexpected
	}

	text = leadingBullet.ReplaceAllString(text, "• $1")

	turns = append(turns,
		history.NewTurn(history.RoleUser, prompt),
		history.NewTurn(history.RoleModel, text),
	)
	if err := g.history.Save(ctx, key, turns, time.Now()); err != nil {
		// The reply is still worth sending; only the memory of it is lost.
		slog.Error("gen: save history failed", "err", redact.String(err.Error(), g.sensitive...))
	}

	return text
}
