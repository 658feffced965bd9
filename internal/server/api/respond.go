// Package api provides the JSON handlers of the fingerspell HTTP API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/ayusman/fingerspell/internal/lgr"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// serverError logs err against the request's trace and answers 500.
func serverError(w http.ResponseWriter, r *http.Request, message string, err error) {
	lgr.Logger.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("response", message),
		slog.Any("error", xerrors.New(err.Error())),
	)
	writeError(w, http.StatusInternalServerError, message)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
