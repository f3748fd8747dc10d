package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pairbot/pkg/bus"
	"pairbot/pkg/config"
	"pairbot/pkg/logger"
)

type recordingPoster struct {
	mu    sync.Mutex
	posts []string
	sent  chan struct{}
}

func (p *recordingPoster) post(_ context.Context, _ int64, text string) error {
	p.mu.Lock()
	p.posts = append(p.posts, text)
	p.mu.Unlock()
	select {
	case p.sent <- struct{}{}:
	default:
	}
	return nil
}

func TestAlertFor(t *testing.T) {
	tests := []struct {
		name   string
		event  bus.Event
		want   string
		wantOK bool
	}{
		{name: "active", event: bus.Event{Type: bus.EventConnectionState, State: "active"}, want: "✅ Bot is connected.", wantOK: true},
		{name: "terminated", event: bus.Event{Type: bus.EventConnectionState, State: "terminated"}, want: "⛔ Bot was logged out", wantOK: true},
		{name: "connecting", event: bus.Event{Type: bus.EventConnectionState, State: "connecting"}},
		{name: "creds ok", event: bus.Event{Type: bus.EventCredentialsUpdated}},
		{name: "creds failed", event: bus.Event{Type: bus.EventCredentialsUpdated, Error: "disk full"}, want: "⚠️ Bot failed to persist", wantOK: true},
		{name: "message", event: bus.Event{Type: bus.EventInboundMessage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := alertFor("", tt.event)
			if ok != tt.wantOK {
				t.Fatalf("alertFor ok = %v, want %v", ok, tt.wantOK)
			}
			if !strings.HasPrefix(got, tt.want) {
				t.Fatalf("alertFor = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestIsStatusCommand(t *testing.T) {
	for _, text := range []string{"/status", "/STATUS now", "/status@pairbot_bot"} {
		if !isStatusCommand(text) {
			t.Fatalf("isStatusCommand(%q) = false", text)
		}
	}
	for _, text := range []string{"", "status", "/start"} {
		if isStatusCommand(text) {
			t.Fatalf("isStatusCommand(%q) = true", text)
		}
	}
}

func TestRunForwardsObservedAlerts(t *testing.T) {
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	out := &recordingPoster{sent: make(chan struct{}, 4)}
	notifier := &Telegram{out: out, chatID: 42, name: "Bot", log: logger.Discard()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- notifier.Run(ctx, mb, nil) }()

	// Observe registers asynchronously; keep publishing until one lands.
	deadline := time.After(2 * time.Second)
	for delivered := false; !delivered; {
		mb.PublishEvent(ctx, bus.Event{Type: bus.EventConnectionState, State: "active"})
		_, _ = mb.ConsumeEvent(ctx)
		select {
		case <-out.sent:
			delivered = true
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("alert not delivered")
		}
	}

	out.mu.Lock()
	first := out.posts[0]
	out.mu.Unlock()
	if first != "✅ Bot is connected." {
		t.Fatalf("alert = %q", first)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewTelegramValidatesConfig(t *testing.T) {
	if _, err := NewTelegram(config.TelegramConfig{ChatID: 1}, "Bot", logger.Discard()); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := NewTelegram(config.TelegramConfig{Token: "123:abc"}, "Bot", logger.Discard()); err == nil {
		t.Fatal("expected error without chat id")
	}
}
