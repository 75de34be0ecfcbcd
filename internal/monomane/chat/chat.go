// Package chat holds the transport-neutral conversation and message types
// shared by the finder, orchestrator, and repeater. The Matrix client maps
// wire events into these; tests construct them directly.
package chat

// Scope distinguishes direct chats from group threads. It doubles as the
// directory segment for persisted per-participant history.
type Scope string

const (
	ScopeDirect Scope = "direct"
	ScopeGroup  Scope = "group"
)

// Conversation is a chat the account participates in.
type Conversation struct {
	ID          string
	Scope       Scope
	MemberCount int
	Title       string
}

// Message is one message as seen by the engine. ReplyToID is empty when the
// message is not a reply. FromBot is true when the sender is a bot-style
// account (on Matrix: senders of m.notice events).
type Message struct {
	ID             string
	ConversationID string
	Scope          Scope
	SenderID       string
	Text           string
	ReplyToID      string
	FromBot        bool
}

// IsReply reports whether the message declares a reply target.
func (m Message) IsReply() bool {
	return m.ReplyToID != ""
}
