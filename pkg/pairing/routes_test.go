package pairing

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"pairbot/pkg/protocol/protocoltest"
)

func serve(t *testing.T, f *fixture, target string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()

	r := chi.NewRouter()
	RegisterRoutes(r, f.coord)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, body
}

func TestPairRouteReturnsCode(t *testing.T) {
	f := newFixture(t, nil)
	f.dialer.Push(protocoltest.NewSession(linkedID, false))

	rec, body := serve(t, f, "/pair?number=15550001111")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body["code"] != "ABCD-EFGH" {
		t.Fatalf("code = %q", body["code"])
	}
}

func TestPairRouteRequiresNumber(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := serve(t, f, "/pair")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body["error"] == "" {
		t.Fatal("expected error message")
	}

	rec, _ = serve(t, f, "/pair?number=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status for non-digit number = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestPairRouteRendersUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.dialer.PushError(errors.New("bridge down"))

	rec, body := serve(t, f, "/pair?number=15550001111")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body["code"] != UnavailableMessage {
		t.Fatalf("code = %q, want %q", body["code"], UnavailableMessage)
	}
}
