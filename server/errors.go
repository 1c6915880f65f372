package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pongarena/server/auth"
	"github.com/pongarena/server/store"
	"github.com/pongarena/server/tournament"
)

// errorBody is the REST error payload.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorMapping is the single table translating service errors to HTTP.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{store.ErrConflict, http.StatusConflict, "CONFLICT"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED"},
	{auth.ErrSessionDead, http.StatusUnauthorized, "UNAUTHORIZED"},
	{tournament.ErrPlayerNotFound, http.StatusNotFound, "NOT_FOUND"},
	{tournament.ErrMatchNotAnnounced, http.StatusConflict, "INVALID_STATE"},
	{tournament.ErrBadWinner, http.StatusBadRequest, "INVALID_INPUT"},
	{errBadRequest, http.StatusBadRequest, "INVALID_INPUT"},
}

// errBadRequest tags malformed payloads and out-of-range values.
var errBadRequest = errors.New("server: bad request")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a service error through the table; unmatched errors are
// internal.
func writeError(w http.ResponseWriter, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, errorBody{Error: err.Error(), Code: m.code})
			return
		}
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
}
