package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pairbot/pkg/fault"
	"pairbot/pkg/session"
)

type receiveRequest struct {
	SessionData map[string]json.RawMessage `json:"sessionData"`
	SessionID   string                     `json:"sessionId"`
}

type resultResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string `json:"status"`
	BotReady   bool   `json:"botReady"`
	Timestamp  string `json:"timestamp"`
	Connection string `json:"connection,omitempty"`
}

// StateFunc reports the live connection state for /health.
type StateFunc func() string

// RegisterRoutes mounts the session transfer endpoints on the given router.
// state may be nil.
func RegisterRoutes(r chi.Router, g *Gateway, state StateFunc) {
	r.Post("/receive-session", handleReceive(g))
	r.Post("/clear-session", handleClear(g))
	r.Get("/health", handleHealth(g, state))
}

func handleReceive(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req receiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, resultResponse{Error: "Invalid JSON body"})
			return
		}

		artifacts, err := decodeArtifacts(req.SessionData)
		if err != nil {
			if fault.IsValidation(err) {
				writeJSON(w, http.StatusBadRequest, resultResponse{Error: detail(err)})
				return
			}
			writeJSON(w, http.StatusBadRequest, resultResponse{Error: "Session data is malformed"})
			return
		}

		if err := g.Install(Bundle{ID: req.SessionID, Artifacts: artifacts}); err != nil {
			if fault.IsValidation(err) {
				writeJSON(w, http.StatusBadRequest, resultResponse{Error: detail(err)})
				return
			}
			writeJSON(w, http.StatusInternalServerError, resultResponse{Error: "Failed to process session data"})
			return
		}

		writeJSON(w, http.StatusOK, resultResponse{
			Success:   true,
			Message:   "Session transferred to bot successfully",
			SessionID: req.SessionID,
		})
	}
}

func handleClear(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := g.Clear(); err != nil {
			writeJSON(w, http.StatusInternalServerError, resultResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, resultResponse{Success: true, Message: "Session cleared"})
	}
}

func handleHealth(g *Gateway, state StateFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{
			Status:    "active",
			BotReady:  g.Health().BotReady,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if state != nil {
			resp.Connection = state()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// decodeArtifacts keeps string contents verbatim and writes anything else as
// indented JSON. A null value is not an artifact.
func decodeArtifacts(data map[string]json.RawMessage) (session.Bundle, error) {
	artifacts := make(session.Bundle, len(data))
	for name, raw := range data {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return nil, fault.Validationf("artifact %q has no content", name)
		}
		if trimmed[0] == '"' {
			var text string
			if err := json.Unmarshal(trimmed, &text); err != nil {
				return nil, err
			}
			artifacts[name] = []byte(text)
			continue
		}

		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, err
		}
		artifacts[name] = buf.Bytes()
	}
	return artifacts, nil
}

func detail(err error) string {
	var categorized *fault.Error
	if errors.As(err, &categorized) && categorized.Detail != "" {
		return categorized.Detail
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
