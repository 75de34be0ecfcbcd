// Package repeater manages background tasks that send a fixed message to a
// conversation repeatedly at an interval. At most one task may be live per
// conversation; every terminal outcome (completed, cancelled, failed)
// deregisters the task and posts a distinct notice replying to the message
// that started it.
package repeater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oqilov/monomane/common/retry"
)

// ErrTaskActive is returned by Start when the conversation already has a
// live task.
var ErrTaskActive = errors.New("repeater: a task is already active in this conversation")

// Terminal notices. Failure notices carry the error inline.
const (
	noticeDone    = "Auto-send finished."
	noticeStopped = "Auto-send stopped."
)

// noticeTimeout bounds the send of a terminal notice; the task's own context
// is already cancelled on the stopped path so notices use a fresh one.
const noticeTimeout = 30 * time.Second

// Sender is the slice of the transport the repeater needs.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
	SendReply(ctx context.Context, conversationID, text, replyToID string) error
}

type task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the per-conversation task registry. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	sender Sender
	tasks  map[string]*task
}

// NewManager returns an empty Manager sending through sender.
func NewManager(sender Sender) *Manager {
	return &Manager{
		sender: sender,
		tasks:  make(map[string]*task),
	}
}

// Start registers and launches a task that sends text count times to the
// conversation, sleeping interval between sends (never after the last one).
// originMsgID is the message the terminal notice replies to. Returns
// ErrTaskActive when the conversation already has a live task.
func (m *Manager) Start(conversationID string, interval time.Duration, count int, text, originMsgID string) error {
	m.mu.Lock()
	if _, busy := m.tasks[conversationID]; busy {
		m.mu.Unlock()
		return ErrTaskActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.tasks[conversationID] = t
	m.mu.Unlock()

	slog.Info("repeater: task started",
		"task", t.id, "conversation", conversationID,
		"count", count, "interval", interval)

	go m.run(ctx, t, conversationID, interval, count, text, originMsgID)
	return nil
}

// Stop cancels the conversation's task, waits for it to unwind through its
// cleanup, and reports whether a task was active.
func (m *Manager) Stop(conversationID string) bool {
	m.mu.Lock()
	t, ok := m.tasks[conversationID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	return true
}

// Active reports whether the conversation currently has a live task.
func (m *Manager) Active(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[conversationID]
	return ok
}

// StopAll cancels and awaits every live task. Used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	snapshot := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		snapshot = append(snapshot, t)
	}
	m.mu.Unlock()

	for _, t := range snapshot {
		t.cancel()
		<-t.done
	}
}

// run is the task body. The deferred deregistration runs on every exit path
// so the registry can never leak a dead task.
func (m *Manager) run(ctx context.Context, t *task, conversationID string, interval time.Duration, count int, text, originMsgID string) {
	defer func() {
		m.mu.Lock()
		delete(m.tasks, conversationID)
		m.mu.Unlock()
		close(t.done)
	}()

	// Terminal notices are the only signal the operator gets about a task's
	// fate, so they are retried through transient transport errors.
	notify := func(notice string) {
		nctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
		defer cancel()
		err := retry.Do(nctx, retry.Config{MaxAttempts: 3, InitialDelay: time.Second}, func() error {
			return m.sender.SendReply(nctx, conversationID, notice, originMsgID)
		})
		if err != nil {
			slog.Warn("repeater: terminal notice failed", "task", t.id, "err", err)
		}
	}

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			notify(noticeStopped)
			return
		}
		if err := m.sender.Send(ctx, conversationID, text); err != nil {
			if ctx.Err() != nil {
				// The send failed because the task was cancelled mid-flight.
				notify(noticeStopped)
				return
			}
			slog.Error("repeater: send failed, terminating task", "task", t.id, "err", err)
			notify(fmt.Sprintf("Auto-send failed: %v", err))
			return
		}
		if i < count-1 {
			select {
			case <-ctx.Done():
				notify(noticeStopped)
				return
			case <-time.After(interval):
			}
		}
	}

	slog.Info("repeater: task completed", "task", t.id, "conversation", conversationID)
	notify(noticeDone)
}
