package handler

import (
	"encoding/json"
	"net/http"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": {"code", "message"}} with the status mapped
// from err. Internal errors never leak their text.
func WriteError(w http.ResponseWriter, err error) {
	code := appErrors.Code(err)
	msg := err.Error()
	if code == appErrors.CodeInternal {
		msg = "internal error"
	}
	WriteJSON(w, appErrors.HTTPStatus(err), map[string]errorBody{
		"error": {Code: code, Message: msg},
	})
}
