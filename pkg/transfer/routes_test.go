package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"pairbot/pkg/fault"
)

func newRouter(g *Gateway, state StateFunc) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, g, state)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s %s response: %v", method, target, err)
	}
	return rec.Code, decoded
}

func TestReceiveSessionWritesArtifacts(t *testing.T) {
	g, store, _ := newGateway(t)
	h := newRouter(g, nil)

	status, body := do(t, h, http.MethodPost, "/receive-session",
		`{"sessionId":"abc","sessionData":{"creds.json":{"me":{"id":"1"}},"note.txt":"plain text"}}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["success"] != true || body["sessionId"] != "abc" {
		t.Fatalf("body = %v", body)
	}
	if body["message"] != "Session transferred to bot successfully" {
		t.Fatalf("message = %v", body["message"])
	}

	creds, err := os.ReadFile(filepath.Join(store.Dir(), "creds.json"))
	if err != nil {
		t.Fatalf("read creds.json: %v", err)
	}
	want := "{\n  \"me\": {\n    \"id\": \"1\"\n  }\n}"
	if string(creds) != want {
		t.Fatalf("creds.json = %q, want %q", creds, want)
	}

	note, err := os.ReadFile(filepath.Join(store.Dir(), "note.txt"))
	if err != nil {
		t.Fatalf("read note.txt: %v", err)
	}
	if string(note) != "plain text" {
		t.Fatalf("note.txt = %q", note)
	}
}

func TestReceiveSessionRequiresFields(t *testing.T) {
	g, _, _ := newGateway(t)
	h := newRouter(g, nil)

	for _, payload := range []string{
		`{"sessionData":{"creds.json":"x"}}`,
		`{"sessionId":"abc"}`,
		`{"sessionId":"abc","sessionData":{}}`,
	} {
		status, body := do(t, h, http.MethodPost, "/receive-session", payload)
		if status != http.StatusBadRequest {
			t.Fatalf("payload %s: status = %d, want 400", payload, status)
		}
		if body["success"] != false || body["error"] != "Session data and ID are required" {
			t.Fatalf("payload %s: body = %v", payload, body)
		}
	}
}

func TestClearSessionAndHealth(t *testing.T) {
	g, _, _ := newGateway(t)
	h := newRouter(g, func() string { return "active" })

	if status, _ := do(t, h, http.MethodPost, "/receive-session", `{"sessionId":"abc","sessionData":{"creds.json":"x"}}`); status != http.StatusOK {
		t.Fatalf("receive status = %d", status)
	}

	status, body := do(t, h, http.MethodGet, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if body["status"] != "active" || body["botReady"] != true || body["connection"] != "active" {
		t.Fatalf("health body = %v", body)
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp %v: %v", body["timestamp"], err)
	}

	status, body = do(t, h, http.MethodPost, "/clear-session", "")
	if status != http.StatusOK || body["success"] != true || body["message"] != "Session cleared" {
		t.Fatalf("clear: status = %d, body = %v", status, body)
	}

	_, body = do(t, h, http.MethodGet, "/health", "")
	if body["botReady"] != false {
		t.Fatalf("botReady after clear = %v", body["botReady"])
	}
}

func TestReceiveSessionRejectsNullArtifact(t *testing.T) {
	g, store, _ := newGateway(t)
	h := newRouter(g, nil)

	status, body := do(t, h, http.MethodPost, "/receive-session",
		`{"sessionId":"abc","sessionData":{"creds.json":null}}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if body["success"] != false || body["error"] != `artifact "creds.json" has no content` {
		t.Fatalf("body = %v", body)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "creds.json")); !os.IsNotExist(err) {
		t.Fatalf("creds.json written for null content: %v", err)
	}
}

func TestDetailUnwrapsCategorizedErrors(t *testing.T) {
	wrapped := fmt.Errorf("install bundle: %w", fault.Validationf("artifact name %q is invalid", ".."))
	if got := detail(wrapped); got != `artifact name ".." is invalid` {
		t.Fatalf("detail = %q", got)
	}
	if got := detail(errors.New("plain")); got != "plain" {
		t.Fatalf("detail = %q", got)
	}
}
