// Package httputil provides shared JSON request and response helpers.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/earnloop/earnloop/internal/errors"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// ErrorResponse is the wire shape of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteError maps err onto the error taxonomy and writes it as JSON.
// Internal errors are masked; the caller is expected to log them.
func WriteError(w http.ResponseWriter, err error) {
	status := apperrors.StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Kind: apperrors.KindOf(err).String()}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	WriteJSON(w, status, resp)
}

// DecodeJSON decodes a request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
