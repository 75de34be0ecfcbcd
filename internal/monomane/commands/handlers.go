package commands

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oqilov/monomane/internal/monomane/chat"
	"github.com/oqilov/monomane/internal/monomane/history"
	"github.com/oqilov/monomane/internal/monomane/repeater"
	"github.com/oqilov/monomane/internal/monomane/settings"
)

// maxPartLength mirrors the transport message limit for chunked AI replies.
const maxPartLength = 4096

// delScanLimit bounds how much recent history ".adm del" scans for the
// account's own messages.
const delScanLimit = 1000

// textCommandRe matches ".text <interval> <count> <message…>" payloads; the
// message may span multiple lines.
var textCommandRe = regexp.MustCompile(`(?s)^(\d+)\s+(\d+)\s+(.+)$`)

// Transport is the slice of the messaging client the handlers need.
type Transport interface {
	SendReply(ctx context.Context, conversationID, text, replyToID string) error
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	ConversationTitle(ctx context.Context, conversationID string) (string, error)
	SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]chat.Message, error)
}

// Generator is the direct-prompt generation path (same contract as the
// auto-reply fallback).
type Generator interface {
	Generate(ctx context.Context, prompt string, key history.Key) string
}

// HandlersConfig wires the command handlers.
type HandlersConfig struct {
	Settings  *settings.Service
	Active    *settings.ActiveSet
	History   *history.Store
	Generator Generator
	Repeater  *repeater.Manager
	Transport Transport

	// SelfID is the operator account; every command except ".ai" under
	// allow_all_users is operator-only.
	SelfID string
}

// Handlers holds the command implementations.
type Handlers struct {
	cfg HandlersConfig
}

// NewHandlers creates the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{cfg: cfg}
}

// RegisterAll attaches every handler to the router. ".chatgpt" is an alias
// the original surface kept for muscle memory.
func (h *Handlers) RegisterAll(router *Router) {
	router.Register("text", h.HandleText)
	router.Register("adm", h.HandleAdmin)
	router.Register("ai", h.HandleAI)
	router.Register("chatgpt", h.HandleAI)
	router.Register("help", h.HandleHelp)
}

func (h *Handlers) isOperator(msg chat.Message) bool {
	return msg.SenderID == h.cfg.SelfID
}

// HandleText starts or stops the repeating-send task for the current
// conversation.
func (h *Handlers) HandleText(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if !h.isOperator(msg) {
		return "", nil
	}

	if strings.EqualFold(strings.TrimSpace(cmd.Rest), "stop") {
		if !h.cfg.Repeater.Stop(msg.ConversationID) {
			return "No active task in this chat.", nil
		}
		return "", nil // the task posts its own "stopped" notice
	}

	m := textCommandRe.FindStringSubmatch(cmd.Rest)
	if m == nil {
		return "Wrong format. Use `.text <interval> <count> <message>`.", nil
	}
	interval, err := strconv.Atoi(m[1])
	if err != nil {
		return "Wrong format. Use `.text <interval> <count> <message>`.", nil
	}
	count, err := strconv.Atoi(m[2])
	if err != nil {
		return "Wrong format. Use `.text <interval> <count> <message>`.", nil
	}

	err = h.cfg.Repeater.Start(msg.ConversationID, time.Duration(interval)*time.Second, count, m[3], msg.ID)
	if err == repeater.ErrTaskActive {
		return "A task is already running. Stop it with `.text stop`.", nil
	}
	if err != nil {
		return "", err
	}

	// The command itself is removed so the repeated message stands alone.
	if err := h.cfg.Transport.DeleteMessage(ctx, msg.ConversationID, msg.ID); err != nil {
		slog.Warn("commands: deleting .text command failed", "err", err)
	}
	return "", nil
}

// HandleAdmin dispatches the ".adm" subcommands that mutate persisted
// settings and the active-conversation set.
func (h *Handlers) HandleAdmin(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if !h.isOperator(msg) {
		return "", nil
	}

	switch strings.ToLower(strings.Join(strings.Fields(cmd.Rest), " ")) {
	case "setuser all":
		if err := h.cfg.Settings.SetAllowAllUsers(ctx, true); err != nil {
			return "", err
		}
		if err := h.cfg.Settings.SetAutoReply(ctx, true); err != nil {
			return "", err
		}
		return "All users are now allowed and auto-reply is on.", nil

	case "setuser off":
		if err := h.cfg.Settings.SetAllowAllUsers(ctx, false); err != nil {
			return "", err
		}
		if err := h.cfg.Settings.SetAutoReply(ctx, false); err != nil {
			return "", err
		}
		return "Back to operator-only mode; auto-reply is off.", nil

	case "sendavto on":
		if err := h.cfg.Settings.SetAutoReply(ctx, true); err != nil {
			return "", err
		}
		return "Auto-reply enabled.", nil

	case "sendavto off":
		if err := h.cfg.Settings.SetAutoReply(ctx, false); err != nil {
			return "", err
		}
		return "Auto-reply disabled.", nil

	case "online on":
		if err := h.cfg.Settings.SetOnlineMode(ctx, true); err != nil {
			return "", err
		}
		return "Online mode enabled.", nil

	case "online off":
		if err := h.cfg.Settings.SetOnlineMode(ctx, false); err != nil {
			return "", err
		}
		return "Online mode disabled.", nil

	case "set active":
		added, err := h.cfg.Active.Add(ctx, msg.ConversationID)
		if err != nil {
			return "", err
		}
		if !added {
			return "This conversation is already active.", nil
		}
		return "This conversation was added to the active list.", nil

	case "del":
		// Bulk-delete the account's own recent messages in this chat. The
		// command message itself is kept so the confirmation can replace it.
		msgs, err := h.cfg.Transport.SearchMessages(ctx, msg.ConversationID, "", delScanLimit)
		if err != nil {
			return "", err
		}
		deleted := 0
		for _, m := range msgs {
			if m.SenderID != h.cfg.SelfID || m.ID == msg.ID {
				continue
			}
			if err := h.cfg.Transport.DeleteMessage(ctx, msg.ConversationID, m.ID); err != nil {
				slog.Warn("commands: deleting own message failed", "message", m.ID, "err", err)
				continue
			}
			deleted++
		}
		return fmt.Sprintf("Deleted %d of my messages.", deleted), nil

	case "del active":
		removed, err := h.cfg.Active.Remove(ctx, msg.ConversationID)
		if err != nil {
			return "", err
		}
		if !removed {
			return "This conversation is not in the active list.", nil
		}
		return "This conversation was removed from the active list.", nil

	case "active status":
		ids, err := h.cfg.Active.List(ctx)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			return "**Active conversations:**\nnone", nil
		}
		lines := make([]string, 0, len(ids))
		for _, id := range ids {
			title, err := h.cfg.Transport.ConversationTitle(ctx, id)
			if err != nil || title == "" {
				title = "unknown"
			}
			lines = append(lines, fmt.Sprintf("`%s`: %s", id, title))
		}
		return "**Active conversations:**\n" + strings.Join(lines, "\n"), nil

	case "clear history":
		key := history.Key{
			Scope:          msg.Scope,
			ConversationID: msg.ConversationID,
			ParticipantID:  msg.SenderID,
		}
		cleared, err := h.cfg.History.Clear(ctx, key)
		if err != nil {
			return "", err
		}
		if !cleared {
			return "No conversation history found.", nil
		}
		return "Conversation history cleared.", nil

	default:
		return "Unknown admin command.", nil
	}
}

// HandleAI generates a reply to the given prompt directly, bypassing the
// auto-reply gates. Non-operator senders are allowed only when
// allow_all_users is on.
func (h *Handlers) HandleAI(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if !h.isOperator(msg) && !h.cfg.Settings.AllowAllUsers() {
		return "", nil
	}
	prompt := strings.TrimSpace(cmd.Rest)
	if prompt == "" {
		return "Give me a prompt: `.ai <prompt>`.", nil
	}

	key := history.Key{
		Scope:          msg.Scope,
		ConversationID: msg.ConversationID,
		ParticipantID:  msg.SenderID,
	}
	response := h.cfg.Generator.Generate(ctx, prompt, key)
	for len(response) > 0 {
		part := response
		if len(part) > maxPartLength {
			if cut := strings.LastIndexAny(part[:maxPartLength+1], " \t\n"); cut > 0 {
				part = part[:cut]
			} else {
				cut = maxPartLength
				for cut > 0 && !utf8.RuneStart(part[cut]) {
					cut--
				}
				if cut == 0 {
					// Not valid UTF-8; cut at the limit as-is.
					cut = maxPartLength
				}
				part = part[:cut]
			}
		}
		if err := h.cfg.Transport.SendReply(ctx, msg.ConversationID, strings.TrimSpace(part), msg.ID); err != nil {
			return "", err
		}
		response = strings.TrimLeft(response[len(part):], " \t\n")
	}
	return "", nil
}

// HandleHelp returns the static command reference.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if !h.isOperator(msg) {
		return "", nil
	}
	return helpText, nil
}

const helpText = "**Monomane command reference**\n\n" +
	"**AI:**\n" +
	"`.ai <prompt>` — talk to the model (`.chatgpt` works too).\n" +
	"`.adm clear history` — reset the AI history for this chat.\n\n" +
	"**Repeating sends:**\n" +
	"`.text <interval> <count> <message>` — send a message repeatedly.\n" +
	"`.text stop` — stop the running task in this chat.\n\n" +
	"**Admin (`.adm …`):**\n" +
	"`.adm setuser all` / `.adm setuser off` — open up or lock down usage.\n" +
	"`.adm sendavto on` / `.adm sendavto off` — toggle auto-reply.\n" +
	"`.adm online on` / `.adm online off` — toggle the keep-alive loop.\n" +
	"`.adm del` — delete my recent messages in this chat.\n\n" +
	"**Active conversations:**\n" +
	"`.adm set active` — enable auto-reply here.\n" +
	"`.adm del active` — disable auto-reply here.\n" +
	"`.adm active status` — list active conversations.\n\n" +
	"`.help` — this text."
