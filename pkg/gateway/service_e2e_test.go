package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairbot/pkg/fault"
	"pairbot/pkg/protocol"
	"pairbot/pkg/protocol/protocoltest"
	"pairbot/pkg/session"
)

const botSelfID = "15550001111@s.whatsapp.net"

func seedBundle(t *testing.T, dir string) *session.Store {
	t.Helper()

	store, err := session.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Update(session.Bundle{"creds.json": []byte(`{"me":"bot"}`)}))
	return store
}

func runService(t *testing.T, svc *Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		errCh <- svc.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(10 * time.Second):
		}
	})

	return cancel, errCh
}

func TestGatewayServiceRunE2ECommandRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Port = freeTCPPort(t)
	seedBundle(t, cfg.Session.Dir)

	dialer := protocoltest.NewDialer()
	fake := dialer.Push(protocoltest.NewSession(botSelfID, true))
	fake.Open()

	svc := newTestService(t, cfg, dialer)
	cancel, errCh := runService(t, svc)

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Gateway.Port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, healthURL, 3*time.Second))

	require.True(t, fake.Deliver(protocol.Message{
		ID:       "m1",
		SenderID: "15559998888@s.whatsapp.net",
		ChatID:   "15559998888@s.whatsapp.net",
		Text:     "!ping",
	}))
	require.True(t, fake.Deliver(protocol.Message{
		ID:       "m2",
		SenderID: "15559998888@s.whatsapp.net",
		ChatID:   "120363000000000000@g.us",
		IsGroup:  true,
		Text:     "just chatting",
	}))
	require.True(t, fake.Deliver(protocol.Message{
		ID:       "m3",
		SenderID: "15559998888@s.whatsapp.net",
		ChatID:   "15559998888@s.whatsapp.net",
		Text:     "!count two three words",
	}))

	sent := waitSent(t, fake, 3, 3*time.Second)
	require.Equal(t, "🏓 Pong!", sent[0].Text)
	require.True(t, strings.HasPrefix(sent[1].Text, "⚡ Response time:"), sent[1].Text)
	require.Contains(t, sent[2].Text, "*Words:* 3")
	for _, msg := range sent {
		require.Equal(t, "15559998888@s.whatsapp.net", msg.ChatID)
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}

	require.True(t, fake.LoggedOut(), "expected best-effort logout on shutdown")
	require.Len(t, fake.SentMessages(), 3)
}

func TestGatewayServiceRunE2ELogoutStopsService(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Port = freeTCPPort(t)
	store := seedBundle(t, cfg.Session.Dir)

	dialer := protocoltest.NewDialer()
	fake := dialer.Push(protocoltest.NewSession(botSelfID, true))
	fake.Open()

	svc := newTestService(t, cfg, dialer)
	_, errCh := runService(t, svc)

	require.Eventually(t, func() bool {
		return svc.connectionState() == "active"
	}, 3*time.Second, 10*time.Millisecond)

	fake.Drop(protocol.StatusLoggedOut, "logged out")

	select {
	case err := <-errCh:
		require.Error(t, err)
		require.True(t, errors.Is(err, fault.ErrTerminalAuth), "error = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}

	require.False(t, store.HasBundle(), "logout must purge the stored bundle")
	require.Len(t, dialer.Auths(), 1, "logout must not trigger a reconnect")
}

func waitSent(t *testing.T, fake *protocoltest.Session, n int, timeout time.Duration) []protocoltest.Sent {
	t.Helper()

	deadline := time.After(timeout)
	for {
		if sent := fake.SentMessages(); len(sent) >= n {
			return sent
		}

		select {
		case <-fake.SentSignal():
		case <-time.After(25 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d sent messages, got %d", n, len(fake.SentMessages()))
		}
	}
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
