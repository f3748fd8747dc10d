package console

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrOutboxClosed is returned by Reply after Close.
var ErrOutboxClosed = errors.New("console outbox closed")

type replyMsg struct {
	chatID string
	text   string
}

type outboxClosedMsg struct{}

// Outbox receives router replies, including delayed ones such as reminders,
// and hands them to the console in order.
type Outbox struct {
	ch   chan replyMsg
	done chan struct{}
	once sync.Once
}

func NewOutbox() *Outbox {
	return &Outbox{
		ch:   make(chan replyMsg, 32),
		done: make(chan struct{}),
	}
}

func (o *Outbox) Reply(ctx context.Context, chatID string, text string) error {
	select {
	case <-o.done:
		return ErrOutboxClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrOutboxClosed
	case o.ch <- replyMsg{chatID: chatID, text: text}:
		return nil
	}
}

// Close makes later replies fail. Queued replies are discarded.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

func (o *Outbox) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case reply := <-o.ch:
			return reply
		case <-o.done:
			return outboxClosedMsg{}
		}
	}
}
