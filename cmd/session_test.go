package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pairbot/pkg/config"
	"pairbot/pkg/logger"
	"pairbot/pkg/session"
)

func newTestGateway(t *testing.T) (config.SessionConfig, *session.Store) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.SessionConfig{
		Dir:        filepath.Join(dir, "auth", "auth_info"),
		ScratchDir: filepath.Join(dir, "temp"),
	}
	store, err := session.Open(cfg.Dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return cfg, store
}

func TestTransferSessionRequiresID(t *testing.T) {
	t.Parallel()

	cfg, _ := newTestGateway(t)
	g, err := newTransferGateway(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("newTransferGateway error: %v", err)
	}

	var out bytes.Buffer
	if err := transferSession(&out, g, "  "); err == nil {
		t.Fatal("expected error for missing session id")
	}
	if !strings.Contains(out.String(), "Usage: pairbot session transfer") {
		t.Fatalf("output = %q, want usage line", out.String())
	}
}

func TestTransferSessionPromotesScratch(t *testing.T) {
	t.Parallel()

	cfg, store := newTestGateway(t)
	scratch := filepath.Join(cfg.ScratchDir, "ab12cd34")
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		t.Fatalf("mkdir scratch: %v", err)
	}
	for _, name := range []string{"creds.json", "app-state-sync-key-1.json"} {
		if err := os.WriteFile(filepath.Join(scratch, name), []byte(`{}`), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	g, err := newTransferGateway(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("newTransferGateway error: %v", err)
	}

	var out bytes.Buffer
	if err := transferSession(&out, g, "ab12cd34"); err != nil {
		t.Fatalf("transferSession error: %v", err)
	}
	if !strings.Contains(out.String(), "transferred (2 artifacts)") {
		t.Fatalf("output = %q", out.String())
	}
	if !store.HasBundle() {
		t.Fatal("expected stored bundle after transfer")
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present: %v", err)
	}
}

func TestTransferSessionFailsForUnknownID(t *testing.T) {
	t.Parallel()

	cfg, _ := newTestGateway(t)
	g, err := newTransferGateway(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("newTransferGateway error: %v", err)
	}

	var out bytes.Buffer
	if err := transferSession(&out, g, "missing1"); err == nil {
		t.Fatal("expected error for unknown scratch session")
	}
	if !strings.HasPrefix(out.String(), "❌ Failed to transfer session missing1") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCheckAndClearSession(t *testing.T) {
	t.Parallel()

	cfg, store := newTestGateway(t)
	if err := store.Update(session.Bundle{"creds.json": []byte(`{}`)}); err != nil {
		t.Fatalf("seed bundle: %v", err)
	}

	g, err := newTransferGateway(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("newTransferGateway error: %v", err)
	}

	var out bytes.Buffer
	checkSession(&out, g)
	if got := out.String(); got != "Bot has valid session: true\n" {
		t.Fatalf("check output = %q", got)
	}

	out.Reset()
	if err := clearSession(&out, g); err != nil {
		t.Fatalf("clearSession error: %v", err)
	}
	if got := out.String(); got != "✅ Bot session cleared\n" {
		t.Fatalf("clear output = %q", got)
	}

	out.Reset()
	checkSession(&out, g)
	if got := out.String(); got != "Bot has valid session: false\n" {
		t.Fatalf("check output after clear = %q", got)
	}
}
