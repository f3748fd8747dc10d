package console

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"pairbot/pkg/bus"
)

func newTestModel(handle HandleFunc) (*model, *Outbox) {
	outbox := NewOutbox()
	m := newModel(context.Background(), handle, outbox, Info{BotName: "Test Bot", Prefix: "!"})
	m.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return m, outbox
}

func TestSubmitRoutesTypedLine(t *testing.T) {
	t.Parallel()

	var got bus.InboundMessage
	m, outbox := newTestModel(func(ctx context.Context, msg bus.InboundMessage) error {
		got = msg
		return nil
	})
	defer outbox.Close()

	m.input.SetValue("  !ping  ")
	cmd := m.submit()
	if cmd == nil {
		t.Fatal("expected a command for a non-empty line")
	}
	if !m.isBusy {
		t.Fatal("expected console to be busy while routing")
	}
	if m.input.Value() != "" {
		t.Fatalf("input = %q, want cleared", m.input.Value())
	}

	msg := handleCmd(m.ctx, m.handle, m.inbound("!ping"))()
	if _, ok := msg.(handledMsg); !ok {
		t.Fatalf("handleCmd returned %T", msg)
	}
	if got.Content != "!ping" || got.ChatID != consoleChatID || got.IsGroup {
		t.Fatalf("inbound = %+v", got)
	}
	if len(m.entries) != 1 || m.entries[0].role != roleOperator {
		t.Fatalf("entries = %+v", m.entries)
	}
}

func TestSubmitIgnoresBlankAndBusy(t *testing.T) {
	t.Parallel()

	m, outbox := newTestModel(func(context.Context, bus.InboundMessage) error { return nil })
	defer outbox.Close()

	m.input.SetValue("   ")
	if cmd := m.submit(); cmd != nil {
		t.Fatal("expected no command for blank input")
	}

	m.isBusy = true
	m.input.SetValue("!help")
	if cmd := m.submit(); cmd != nil {
		t.Fatal("expected no command while busy")
	}
	if len(m.entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(m.entries))
	}
}

func TestGroupToggleChangesChat(t *testing.T) {
	t.Parallel()

	m, outbox := newTestModel(nil)
	defer outbox.Close()

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlG})
	msg := m.inbound("hello")
	if !msg.IsGroup || msg.ChatID != consoleGroupID {
		t.Fatalf("inbound after toggle = %+v", msg)
	}
}

func TestRepliesAppearInOrder(t *testing.T) {
	t.Parallel()

	m, outbox := newTestModel(nil)
	defer outbox.Close()

	ctx := context.Background()
	if err := outbox.Reply(ctx, consoleChatID, "🏓 Pong!"); err != nil {
		t.Fatalf("Reply error: %v", err)
	}
	if err := outbox.Reply(ctx, consoleChatID, "⚡ Response time: 0ms"); err != nil {
		t.Fatalf("Reply error: %v", err)
	}

	for range 2 {
		m.Update(outbox.wait()())
	}

	if m.replies != 2 {
		t.Fatalf("replies = %d, want 2", m.replies)
	}
	if m.entries[0].content != "🏓 Pong!" || m.entries[1].role != roleBot {
		t.Fatalf("entries = %+v", m.entries)
	}
	if !strings.Contains(m.viewport.View(), "Response time") {
		t.Fatal("expected latest reply in the viewport")
	}
}

func TestHandleErrorIsShown(t *testing.T) {
	t.Parallel()

	m, outbox := newTestModel(nil)
	defer outbox.Close()

	m.isBusy = true
	m.Update(handledMsg{err: errors.New("reply to console@local: closed")})

	if m.isBusy {
		t.Fatal("expected busy flag cleared")
	}
	if len(m.entries) != 1 || m.entries[0].role != roleError {
		t.Fatalf("entries = %+v", m.entries)
	}
}

func TestOutboxCloseStopsReplies(t *testing.T) {
	t.Parallel()

	outbox := NewOutbox()
	outbox.Close()

	if err := outbox.Reply(context.Background(), consoleChatID, "late"); !errors.Is(err, ErrOutboxClosed) {
		t.Fatalf("Reply error = %v, want ErrOutboxClosed", err)
	}
	if _, ok := outbox.wait()().(outboxClosedMsg); !ok {
		t.Fatal("expected wait to report the closed outbox")
	}
}

func TestIsExitCommand(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"exit", " QUIT ", ":q"} {
		if !isExitCommand(input) {
			t.Fatalf("isExitCommand(%q) = false", input)
		}
	}
	if isExitCommand("!exit") {
		t.Fatal("prefixed text must reach the router")
	}
}
