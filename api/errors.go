package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/portalguard/accesscode"
	"github.com/jmcleod/portalguard/internal/httpx"
	"github.com/jmcleod/portalguard/storage"
)

const (
	maxSmallBodySize = 16 << 10

	msgInvalidCode = "Invalid or expired access code"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	httpx.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	httpx.WriteError(w, status, msg)
}

// mapError translates domain errors to a status and a category message.
// Internal failures are logged, never echoed.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, storage.ErrExists):
		writeError(w, http.StatusConflict, "Conflict")
	case errors.Is(err, accesscode.ErrInvalidValidity):
		writeError(w, http.StatusBadRequest, "Validity must be between 1 and 30 days")
	default:
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeJSON reads a size-limited body into T. When allowEmpty is set an
// empty body yields the zero value.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64, allowEmpty bool) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return req, true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "Invalid request body")
		}
		return req, false
	}
	return req, true
}
