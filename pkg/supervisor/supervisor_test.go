package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairbot/pkg/bus"
	"pairbot/pkg/fault"
	"pairbot/pkg/logger"
	"pairbot/pkg/protocol"
	"pairbot/pkg/protocol/protocoltest"
	"pairbot/pkg/session"
)

const selfID = "15550001111@s.whatsapp.net"

type harness struct {
	store  *session.Store
	dialer *protocoltest.Dialer
	bus    *bus.MessageBus
	sup    *Supervisor

	cancel context.CancelFunc
	result chan error
}

func newHarness(t *testing.T, withBundle bool, mutate func(*Options)) *harness {
	t.Helper()

	store, err := session.Open(filepath.Join(t.TempDir(), "auth_info"))
	require.NoError(t, err)
	if withBundle {
		require.NoError(t, store.Update(session.Bundle{"creds.json": []byte(`{"me":"bot"}`)}))
	}

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	opts := Options{
		Store:          store,
		Dialer:         protocoltest.NewDialer(),
		Bus:            mb,
		ReconnectDelay: 10 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		Logger:         logger.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	sup, err := New(opts)
	require.NoError(t, err)

	return &harness{
		store:  store,
		dialer: opts.Dialer.(*protocoltest.Dialer),
		bus:    mb,
		sup:    sup,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.result = make(chan error, 1)
	go func() { h.result <- h.sup.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.sup.done:
		case <-time.After(2 * time.Second):
		}
	})
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()

	select {
	case err := <-h.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func nextEvent(t *testing.T, mb *bus.MessageBus) bus.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, ok := mb.ConsumeEvent(ctx)
	require.True(t, ok, "expected a bus event")
	return ev
}

func nextState(t *testing.T, mb *bus.MessageBus) string {
	t.Helper()

	for {
		ev := nextEvent(t, mb)
		if ev.Type == bus.EventConnectionState {
			return ev.State
		}
	}
}

func waitForState(t *testing.T, mb *bus.MessageBus, want State) {
	t.Helper()

	for nextState(t, mb) != string(want) {
	}
}

func TestWaitsForBundleBeforeDialing(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, h.dialer.Auths(), "dialed without a bundle")
	require.Equal(t, StateIdle, h.sup.State())

	fake := h.dialer.Push(protocoltest.NewSession(selfID, true))
	require.NoError(t, h.store.Update(session.Bundle{"creds.json": []byte("{}")}))

	require.Equal(t, string(StateConnecting), nextState(t, h.bus))
	fake.Open()
	require.Equal(t, string(StateActive), nextState(t, h.bus))

	auths := h.dialer.Auths()
	require.Len(t, auths, 1)
	require.Equal(t, []byte("{}"), auths[0].Artifacts["creds.json"])
}

func TestTransientDropReconnectsThroughOneConnecting(t *testing.T) {
	h := newHarness(t, true, nil)
	first := h.dialer.Push(protocoltest.NewSession(selfID, true))
	second := h.dialer.Push(protocoltest.NewSession(selfID, true))
	h.start(t)

	require.Equal(t, string(StateConnecting), nextState(t, h.bus))
	first.Open()
	require.Equal(t, string(StateActive), nextState(t, h.bus))

	first.Drop(428, "connection closed")
	require.Equal(t, string(StateConnecting), nextState(t, h.bus))
	second.Open()
	require.Equal(t, string(StateActive), nextState(t, h.bus))

	require.True(t, first.Closed())
	require.Len(t, h.dialer.Auths(), 2)
	require.True(t, h.store.HasBundle())
}

func TestDialFailureIsRetried(t *testing.T) {
	h := newHarness(t, true, nil)
	h.dialer.PushError(errors.New("bridge unreachable"))
	fake := h.dialer.Push(protocoltest.NewSession(selfID, true))
	h.start(t)

	require.Equal(t, string(StateConnecting), nextState(t, h.bus))
	fake.Open()
	require.Equal(t, string(StateActive), nextState(t, h.bus))
	require.Len(t, h.dialer.Auths(), 2)
}

func TestLogoutIsTerminalAndPurgesBundle(t *testing.T) {
	h := newHarness(t, true, nil)
	fake := h.dialer.Push(protocoltest.NewSession(selfID, true))
	h.start(t)

	require.Equal(t, string(StateConnecting), nextState(t, h.bus))
	fake.Open()
	require.Equal(t, string(StateActive), nextState(t, h.bus))

	fake.Drop(protocol.StatusLoggedOut, "logged out")

	err := h.wait(t)
	require.ErrorIs(t, err, fault.ErrTerminalAuth)
	require.True(t, fault.IsTerminal(err))

	ev := nextEvent(t, h.bus)
	require.Equal(t, bus.EventConnectionState, ev.Type)
	require.Equal(t, string(StateTerminated), ev.State)
	require.Equal(t, StateTerminated, h.sup.State())

	require.False(t, h.store.HasBundle())
	bundle, err := h.store.Load()
	require.NoError(t, err)
	require.Empty(t, bundle)

	time.Sleep(50 * time.Millisecond)
	require.Len(t, h.dialer.Auths(), 1, "reconnected after logout")
}

func TestCredentialsArePersistedBeforeEventIsPublished(t *testing.T) {
	h := newHarness(t, true, nil)
	fake := h.dialer.Push(protocoltest.NewSession(selfID, true))
	h.start(t)

	fake.Open()
	fake.Rotate(session.Bundle{"creds.json": []byte(`{"me":"rotated"}`), "pre-key-1.json": []byte("k")})

	var ev bus.Event
	for ev.Type != bus.EventCredentialsUpdated {
		ev = nextEvent(t, h.bus)
	}
	require.Equal(t, []string{"creds.json", "pre-key-1.json"}, ev.Artifacts)
	require.Empty(t, ev.Error)

	bundle, err := h.store.Load()
	require.NoError(t, err)
	require.Equal(t, `{"me":"rotated"}`, string(bundle["creds.json"]))
	require.Equal(t, "k", string(bundle["pre-key-1.json"]))
}

func TestInboundMessagesArePublished(t *testing.T) {
	h := newHarness(t, true, nil)
	fake := h.dialer.Push(protocoltest.NewSession(selfID, true))
	h.start(t)

	fake.Open()
	fake.Deliver(protocol.Message{ID: "ABC", SenderID: "1@s.whatsapp.net", ChatID: "1@s.whatsapp.net", Text: "!ping"})

	var ev bus.Event
	for ev.Type != bus.EventInboundMessage {
		ev = nextEvent(t, h.bus)
	}
	require.NotNil(t, ev.Message)
	require.Equal(t, "ABC", ev.Message.ID)
	require.Equal(t, "!ping", ev.Message.Content)
}

func TestGreetingIsSentOnceToSelf(t *testing.T) {
	h := newHarness(t, true, func(o *Options) {
		o.GreetOnConnect = true
		o.Greeting = "online"
	})
	first := h.dialer.Push(protocoltest.NewSession(selfID, true))
	second := h.dialer.Push(protocoltest.NewSession(selfID, true))
	h.start(t)

	first.Open()
	select {
	case <-first.SentSignal():
	case <-time.After(2 * time.Second):
		t.Fatal("greeting not sent")
	}
	require.Equal(t, []protocoltest.Sent{{ChatID: selfID, Text: "online"}}, first.SentMessages())

	first.Drop(500, "restart required")
	second.Open()
	waitForState(t, h.bus, StateActive)
	waitForState(t, h.bus, StateActive)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, second.SentMessages(), "greeting repeated after reconnect")
}

func TestSendRequiresActiveSession(t *testing.T) {
	h := newHarness(t, true, nil)
	err := h.sup.Send(context.Background(), "chat", "hello")
	require.ErrorIs(t, err, ErrNotConnected)

	fake := h.dialer.Push(protocoltest.NewSession(selfID, true))
	h.start(t)
	fake.Open()
	waitForState(t, h.bus, StateActive)

	require.NoError(t, h.sup.Send(context.Background(), "chat", "hello"))
	require.Equal(t, []protocoltest.Sent{{ChatID: "chat", Text: "hello"}}, fake.SentMessages())
	require.Equal(t, selfID, h.sup.SelfID())
}

func TestRunRefusesSecondStart(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)

	time.Sleep(20 * time.Millisecond)
	require.ErrorIs(t, h.sup.Run(context.Background()), ErrAlreadyRunning)
}

func TestShutdownLogsOutAndStops(t *testing.T) {
	h := newHarness(t, true, func(o *Options) {
		o.LogoutOnShutdown = true
	})
	fake := h.dialer.Push(protocoltest.NewSession(selfID, true))
	h.start(t)

	fake.Open()
	waitForState(t, h.bus, StateActive)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sup.Shutdown(ctx))
	require.NoError(t, h.wait(t))

	require.True(t, fake.LoggedOut())
	require.True(t, fake.Closed())
	require.Equal(t, StateIdle, h.sup.State())
}
