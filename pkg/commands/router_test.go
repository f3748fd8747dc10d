package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pairbot/pkg/bus"
	"pairbot/pkg/logger"
	"pairbot/pkg/schedule"
)

type sentReply struct {
	chatID string
	text   string
}

type recordingReplier struct {
	mu      sync.Mutex
	replies []sentReply
	err     error
	signal  chan struct{}
}

func newRecordingReplier() *recordingReplier {
	return &recordingReplier{signal: make(chan struct{}, 16)}
}

func (r *recordingReplier) Reply(_ context.Context, chatID string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.replies = append(r.replies, sentReply{chatID: chatID, text: text})
	select {
	case r.signal <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingReplier) all() []sentReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentReply, len(r.replies))
	copy(out, r.replies)
	return out
}

func newTestRouter(t *testing.T, replier Replier, opts Options) *Router {
	t.Helper()

	registry, err := DefaultRegistry(opts)
	if err != nil {
		t.Fatalf("DefaultRegistry error: %v", err)
	}
	router, err := NewRouter(RouterOptions{
		Registry:      registry,
		AutoResponses: DefaultAutoResponses(DefaultPrefix),
		Replier:       replier,
		Logger:        logger.Discard(),
	})
	if err != nil {
		t.Fatalf("NewRouter error: %v", err)
	}
	return router
}

func direct(text string) bus.InboundMessage {
	return bus.InboundMessage{ID: "m1", SenderID: "111@s.whatsapp.net", ChatID: "111@s.whatsapp.net", Content: text}
}

func group(text string) bus.InboundMessage {
	return bus.InboundMessage{ID: "m2", SenderID: "111@s.whatsapp.net", ChatID: "999@g.us", IsGroup: true, Content: text}
}

func handleOne(t *testing.T, router *Router, msg bus.InboundMessage) {
	t.Helper()
	if err := router.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle(%q) error: %v", msg.Content, err)
	}
}

func TestUnknownCommandRepliesOnceNamingIt(t *testing.T) {
	replier := newRecordingReplier()
	router := newTestRouter(t, replier, Options{})

	handleOne(t, router, direct("!zzz"))

	replies := replier.all()
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	if !strings.HasPrefix(replies[0].text, "❌ Unknown command: zzz") {
		t.Fatalf("reply = %q", replies[0].text)
	}
}

func TestCommandNameIsCaseInsensitive(t *testing.T) {
	replier := newRecordingReplier()
	router := newTestRouter(t, replier, Options{})

	handleOne(t, router, direct("!UPPER shout"))

	replies := replier.all()
	if len(replies) != 1 || replies[0].text != "🔤 *Uppercase:* SHOUT" {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestFallbackOnlyInDirectChats(t *testing.T) {
	replier := newRecordingReplier()
	router := newTestRouter(t, replier, Options{})

	handleOne(t, router, group("random chatter"))
	if got := replier.all(); len(got) != 0 {
		t.Fatalf("group message got replies %+v", got)
	}

	handleOne(t, router, direct("random chatter"))
	replies := replier.all()
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	want := "🤖 I received your message: \"random chatter\"\n\nType !help to see what I can do!"
	if replies[0].text != want {
		t.Fatalf("reply = %q, want %q", replies[0].text, want)
	}
}

func TestAutoResponseFirstMatchWins(t *testing.T) {
	replier := newRecordingReplier()
	router := newTestRouter(t, replier, Options{})

	// "goodbye" also contains "bye", which comes first.
	handleOne(t, router, group("Goodbye everyone"))

	replies := replier.all()
	if len(replies) != 1 || replies[0].text != "👋 Goodbye! Have a great day!" {
		t.Fatalf("replies = %+v", replies)
	}
	if replies[0].chatID != "999@g.us" {
		t.Fatalf("reply chat = %q", replies[0].chatID)
	}
}

func TestEmptyAndSelfMessages(t *testing.T) {
	replier := newRecordingReplier()
	router := newTestRouter(t, replier, Options{})

	handleOne(t, router, direct("   "))

	self := direct("hello there")
	self.FromSelf = true
	handleOne(t, router, self)

	if got := replier.all(); len(got) != 0 {
		t.Fatalf("replies = %+v, want none", got)
	}

	selfCommand := direct("!echo hi")
	selfCommand.FromSelf = true
	handleOne(t, router, selfCommand)

	replies := replier.all()
	if len(replies) != 1 || replies[0].text != "🔄 *Echo:* hi" {
		t.Fatalf("replies = %+v", replies)
	}
}

type failingCommand struct {
	panic bool
}

func (c failingCommand) Describe() Descriptor {
	if c.panic {
		return Descriptor{Name: "boom", Usage: "boom"}
	}
	return Descriptor{Name: "fail", Usage: "fail"}
}

func (c failingCommand) Execute(context.Context, Call) (string, error) {
	if c.panic {
		panic("kaboom")
	}
	return "", errors.New("backend down")
}

func TestCommandFailuresAreReportedToChat(t *testing.T) {
	replier := newRecordingReplier()
	registry, err := NewRegistry(failingCommand{}, failingCommand{panic: true})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	router, err := NewRouter(RouterOptions{Registry: registry, Replier: replier, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("NewRouter error: %v", err)
	}

	handleOne(t, router, direct("!fail"))
	handleOne(t, router, direct("!boom"))

	replies := replier.all()
	if len(replies) != 2 {
		t.Fatalf("replies = %d, want 2", len(replies))
	}
	if replies[0].text != "❌ Error executing command: backend down" {
		t.Fatalf("error reply = %q", replies[0].text)
	}
	if replies[1].text != "❌ Error executing command: kaboom" {
		t.Fatalf("panic reply = %q", replies[1].text)
	}
}

func TestHandleReturnsDeliveryFailure(t *testing.T) {
	replier := newRecordingReplier()
	replier.err = bus.ErrBusClosed
	router := newTestRouter(t, replier, Options{})

	err := router.Handle(context.Background(), direct("!ping"))
	if !errors.Is(err, bus.ErrBusClosed) {
		t.Fatalf("Handle error = %v, want ErrBusClosed", err)
	}
}

func TestRemindSendsConfirmationThenOneDelayedReply(t *testing.T) {
	replier := newRecordingReplier()
	scheduler := schedule.New(logger.Discard())
	t.Cleanup(func() { scheduler.Close() })

	router := newTestRouter(t, replier, Options{Scheduler: scheduler})
	handleOne(t, router, direct("!remind 1 stretch"))

	replies := replier.all()
	if len(replies) != 1 || !strings.HasPrefix(replies[0].text, "⏰ *Reminder set!*") {
		t.Fatalf("replies = %+v", replies)
	}
	if scheduler.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", scheduler.Pending())
	}

	deadline := time.After(3 * time.Second)
	for len(replier.all()) < 2 {
		select {
		case <-replier.signal:
		case <-deadline:
			t.Fatal("reminder was not delivered")
		}
	}

	replies = replier.all()
	if replies[1].text != "🔔 *Reminder:* stretch" {
		t.Fatalf("reminder = %q", replies[1].text)
	}
}

func TestRemindRejectsInvalidSeconds(t *testing.T) {
	replier := newRecordingReplier()
	scheduler := schedule.New(logger.Discard())
	t.Cleanup(func() { scheduler.Close() })

	router := newTestRouter(t, replier, Options{Scheduler: scheduler})
	handleOne(t, router, direct("!remind -5 nope"))

	replies := replier.all()
	if len(replies) != 1 || replies[0].text != "❌ Please provide a valid number of seconds!" {
		t.Fatalf("replies = %+v", replies)
	}
	if scheduler.Pending() != 0 {
		t.Fatal("invalid reminder was scheduled")
	}
}
