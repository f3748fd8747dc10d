package pairing

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"pairbot/pkg/fault"
)

type codeResponse struct {
	Code string `json:"code"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes mounts the pairing endpoint on the given router.
func RegisterRoutes(r chi.Router, c *Coordinator) {
	r.Get("/pair", handlePair(c))
}

func handlePair(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := strings.TrimSpace(r.URL.Query().Get("number"))
		if number == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "number query parameter is required"})
			return
		}

		code, err := c.Pair(r.Context(), number)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, codeResponse{Code: code})
		case fault.IsValidation(err):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorDetail(err)})
		case errors.Is(err, ErrUnavailable):
			writeJSON(w, http.StatusOK, codeResponse{Code: UnavailableMessage})
		default:
			// The client went away before a code was issued.
			writeJSON(w, http.StatusServiceUnavailable, codeResponse{Code: UnavailableMessage})
		}
	}
}

func errorDetail(err error) string {
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
