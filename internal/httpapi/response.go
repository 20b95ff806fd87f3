// Package httpapi is the HTTP surface of spec.md §6: a gorilla/mux
// router over JSON handlers for auth, downloads, packages, settings,
// the public install endpoints, and the Wisp tunnel upgrade.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/logging"
)

// envelope is the JSON shape every handler replies with on success.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data})
}

// writeError maps err onto its apperr.Kind's HTTP status and logs
// anything that surfaces as an internal error.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.Global().WithField("component", "httpapi").WithField("err", err.Error()).Error("internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.BadRequest("malformed JSON body: %v", err)
	}
	return nil
}
