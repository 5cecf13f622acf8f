package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GladstoneOG/wabot/internal/broadcast"
)

// errBadPayload marks request bodies that could not be understood.
var errBadPayload = errors.New("invalid payload")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ok writes {"ok":true} merged with fields.
func ok(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// fail writes {"ok":false,"error":errBody}.
func fail(w http.ResponseWriter, code int, errBody any) {
	writeJSON(w, code, map[string]any{"ok": false, "error": errBody})
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	if errors.Is(err, errBadPayload) {
		return http.StatusBadRequest
	}
	var berr *broadcast.Error
	if errors.As(err, &berr) {
		switch berr.Kind {
		case broadcast.KindAlreadyInProgress, broadcast.KindNotConnected:
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// message is what clients see for err. Broadcast errors drop the wrapping
// context.
func message(err error) string {
	if err == nil {
		return "Unexpected error"
	}
	var berr *broadcast.Error
	if errors.As(err, &berr) {
		return berr.Msg
	}
	return err.Error()
}
