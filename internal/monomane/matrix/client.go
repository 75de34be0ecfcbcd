// Package matrix implements the messaging transport boundary on top of a
// Matrix homeserver: incoming message events, sends/replies/edits/deletes,
// the typing indicator, and the conversation/message enumeration the reply
// finder scans.
package matrix

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/oqilov/monomane/internal/monomane/chat"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// DB is an optional SQLite connection used to persist the Matrix sync
	// token (next_batch) across restarts. When nil, an in-memory store is
	// used and room history is replayed on every restart.
	DB *sql.DB
}

// MessageHandler processes one incoming message.
type MessageHandler func(ctx context.Context, msg chat.Message)

// Client wraps the mautrix client behind the engine's transport interfaces.
type Client struct {
	client     *mautrix.Client
	config     *Config
	stopCh     chan struct{}
	msgHandler MessageHandler

	// roomInfo caches member counts and titles per room; both change rarely
	// compared to how often the finder reads them.
	mu    sync.Mutex
	rooms map[id.RoomID]*roomInfo
}

type roomInfo struct {
	memberCount int
	title       string
}

// New creates a Matrix transport client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
		rooms:  make(map[id.RoomID]*roomInfo),
	}

	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
		slog.Info("Matrix sync store: using persistent SQLite store")
	} else {
		slog.Warn("Matrix sync store: no DB configured, using in-memory store (history will replay on restart)")
	}

	return c, nil
}

// Start begins syncing with the homeserver, delivering every text and notice
// message to handler. The sync loop reconnects with exponential back-off so
// a transient homeserver error cannot leave the account deaf.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleEvent)

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			start := time.Now()
			if err := c.client.Sync(); err != nil {
				if time.Since(start) > time.Minute {
					// The connection was healthy for a while; start over.
					backoff = backoffMin
				}
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			// Sync returned nil — only happens on a clean StopSync() call.
			return
		}
	}()

	return nil
}

// Stop stops the sync loop.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SelfID returns the operating account's user ID.
func (c *Client) SelfID() string {
	return c.config.UserID
}

// Send posts a plain text message.
func (c *Client) Send(ctx context.Context, conversationID, text string) error {
	_, err := c.client.SendText(ctx, id.RoomID(conversationID), text)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendReply posts text as a reply to another message.
func (c *Client) SendReply(ctx context.Context, conversationID, text, replyToID string) error {
	_, err := c.SendReplyID(ctx, conversationID, text, replyToID)
	return err
}

// SendReplyID is SendReply returning the new message's ID, for callers that
// later edit or delete what they sent (self-destructing confirmations).
func (c *Client) SendReplyID(ctx context.Context, conversationID, text, replyToID string) (string, error) {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if replyToID != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(replyToID)},
		}
	}
	resp, err := c.client.SendMessageEvent(ctx, id.RoomID(conversationID), event.EventMessage, &content)
	if err != nil {
		return "", fmt.Errorf("failed to send reply: %w", err)
	}
	return resp.EventID.String(), nil
}

// EditMessage replaces the body of a previously sent message.
func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	content.SetEdit(id.EventID(messageID))
	_, err := c.client.SendMessageEvent(ctx, id.RoomID(conversationID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// DeleteMessage redacts a message.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	_, err := c.client.RedactEvent(ctx, id.RoomID(conversationID), id.EventID(messageID))
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Typing sets or clears the typing indicator. The indicator auto-expires
// server-side after the timeout, so a crashed handler cannot leave it stuck.
func (c *Client) Typing(ctx context.Context, conversationID string, on bool) error {
	timeout := 30 * time.Second
	if !on {
		timeout = 0
	}
	_, err := c.client.UserTyping(ctx, id.RoomID(conversationID), on, timeout)
	if err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// ConversationTitle returns the room's display name, or "" when unset.
func (c *Client) ConversationTitle(ctx context.Context, conversationID string) (string, error) {
	info, err := c.info(ctx, id.RoomID(conversationID))
	if err != nil {
		return "", err
	}
	return info.title, nil
}

// RecentConversations enumerates up to limit joined rooms as conversations.
// The joined-rooms endpoint carries no recency ordering, so "most recent" is
// approximated by the server's listing order.
func (c *Client) RecentConversations(ctx context.Context, limit int) ([]chat.Conversation, error) {
	resp, err := c.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined rooms: %w", err)
	}

	conversations := make([]chat.Conversation, 0, limit)
	for _, roomID := range resp.JoinedRooms {
		if len(conversations) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := c.info(ctx, roomID)
		if err != nil {
			slog.Warn("matrix: reading room info failed, skipping room", "room", roomID, "err", err)
			continue
		}
		conversations = append(conversations, chat.Conversation{
			ID:          roomID.String(),
			Scope:       scopeForMembers(info.memberCount),
			MemberCount: info.memberCount,
			Title:       info.title,
		})
	}
	return conversations, nil
}

// SearchMessages pages backwards through the room's history collecting up to
// limit messages whose body contains query (case-insensitive). Matrix has no
// server-side substring search on this endpoint, so filtering happens
// client-side. The limit caps matches, not scanned events; how far back the
// paging reaches is bounded by the caller's context deadline.
func (c *Client) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]chat.Message, error) {
	const pageSize = 100
	roomID := id.RoomID(conversationID)
	needle := strings.ToLower(query)

	var (
		matches []chat.Message
		from    string
	)
	for len(matches) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := c.client.Messages(ctx, roomID, from, "", mautrix.DirectionBackward, nil, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to page room history: %w", err)
		}
		for _, evt := range resp.Chunk {
			msg, ok := c.toMessage(evt)
			if !ok {
				continue
			}
			if strings.Contains(strings.ToLower(msg.Text), needle) {
				matches = append(matches, msg)
				if len(matches) >= limit {
					break
				}
			}
		}
		if resp.End == "" || len(resp.Chunk) == 0 {
			break // reached the start of the room's history
		}
		from = resp.End
	}
	return matches, nil
}

// ReplyTarget fetches the message msg declares as its reply target.
func (c *Client) ReplyTarget(ctx context.Context, msg chat.Message) (*chat.Message, error) {
	if msg.ReplyToID == "" {
		return nil, nil
	}
	evt, err := c.client.GetEvent(ctx, id.RoomID(msg.ConversationID), id.EventID(msg.ReplyToID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reply target: %w", err)
	}
	parent, ok := c.toMessage(evt)
	if !ok {
		return nil, nil
	}
	return &parent, nil
}

// handleEvent maps a sync event into a chat.Message and hands it to the
// registered handler. Unlike a command bot, the account's own messages are
// delivered too — that is how the operator issues commands.
//
// Each message is delivered on its own goroutine: a reply can spend seconds
// in the prior-reply search or the generative backend, and a handler running
// inline on the sync loop would deafen the account for that whole time
// (including to a stop command for a running task). The handler gets a fresh
// context because its work may outlive the sync iteration that produced the
// event.
func (c *Client) handleEvent(ctx context.Context, evt *event.Event) {
	if c.msgHandler == nil {
		return
	}
	msg, ok := c.toMessage(evt)
	if !ok {
		return
	}
	go c.msgHandler(context.Background(), msg)
}

// toMessage converts a Matrix event into the engine's message type. Notice
// messages are the Matrix convention for automated senders, so they map to
// FromBot. Non-text events are rejected.
func (c *Client) toMessage(evt *event.Event) (chat.Message, bool) {
	if evt == nil {
		return chat.Message{}, false
	}
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			return chat.Message{}, false
		}
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return chat.Message{}, false
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgNotice {
		return chat.Message{}, false
	}

	scope := chat.ScopeGroup
	if info, err := c.info(context.Background(), evt.RoomID); err == nil {
		scope = scopeForMembers(info.memberCount)
	}

	return chat.Message{
		ID:             evt.ID.String(),
		ConversationID: evt.RoomID.String(),
		Scope:          scope,
		SenderID:       evt.Sender.String(),
		Text:           content.Body,
		ReplyToID:      content.RelatesTo.GetReplyTo().String(),
		FromBot:        content.MsgType == event.MsgNotice,
	}, true
}

// info returns the cached room info, fetching member count and name on the
// first use of a room.
func (c *Client) info(ctx context.Context, roomID id.RoomID) (*roomInfo, error) {
	c.mu.Lock()
	if cached, ok := c.rooms[roomID]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	members, err := c.client.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}

	var nameContent event.RoomNameEventContent
	if err := c.client.StateEvent(ctx, roomID, event.StateRoomName, "", &nameContent); err != nil {
		// Unnamed rooms (direct chats, most commonly) have no name event.
		nameContent.Name = ""
	}

	info := &roomInfo{
		memberCount: len(members.Joined),
		title:       nameContent.Name,
	}
	c.mu.Lock()
	c.rooms[roomID] = info
	c.mu.Unlock()
	return info, nil
}

// scopeForMembers treats two-party rooms as direct chats.
func scopeForMembers(count int) chat.Scope {
	if count <= 2 {
		return chat.ScopeDirect
	}
	return chat.ScopeGroup
}
