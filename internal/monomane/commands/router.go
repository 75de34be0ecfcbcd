// Package commands parses and routes the dot-prefixed operator commands
// (".text …", ".adm …", ".ai …", ".help").
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oqilov/monomane/internal/monomane/chat"
)

// Command is a parsed operator command. Rest is the raw text after the
// command name, preserved verbatim so multi-word payloads (repeating-send
// message text, AI prompts) keep their spacing and newlines.
type Command struct {
	Name string
	Rest string
}

// ErrNotACommand is returned by Parse when the message does not start with
// the command prefix. Callers use errors.Is to distinguish this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler handles one command and returns the ephemeral reply text to post
// (empty when the handler replied on its own or stayed silent).
type Handler func(ctx context.Context, cmd *Command, msg chat.Message) (string, error)

// Router routes commands to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a router for commands starting with prefix (".").
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a handler under a command name.
func (r *Router) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

// Parse splits a message into a Command. Name matching is case-insensitive;
// Rest keeps the original casing and whitespace.
func (r *Router) Parse(text string) (*Command, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, r.prefix) {
		return nil, ErrNotACommand
	}
	body := strings.TrimPrefix(trimmed, r.prefix)
	if body == "" || body[0] == ' ' {
		return nil, ErrNotACommand
	}

	name := body
	rest := ""
	if i := strings.IndexAny(body, " \t\n"); i >= 0 {
		name, rest = body[:i], strings.TrimSpace(body[i+1:])
	}

	return &Command{Name: strings.ToLower(name), Rest: rest}, nil
}

// Dispatch runs the handler registered for cmd.Name. Unknown names are not
// an error: the message was simply not meant for us (any dot-leading text
// could be ordinary chat).
func (r *Router) Dispatch(ctx context.Context, cmd *Command, msg chat.Message) (string, bool, error) {
	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return "", false, nil
	}
	reply, err := handler(ctx, cmd, msg)
	if err != nil {
		return "", true, fmt.Errorf("command %q: %w", cmd.Name, err)
	}
	return reply, true, nil
}
