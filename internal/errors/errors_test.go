package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindMatchingWithErrorsIs(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("task not found"))
	if !errors.Is(err, NotFound("")) {
		t.Fatal("wrapped NotFound should match by kind")
	}
	if errors.Is(err, Conflict("")) {
		t.Fatal("kinds must not cross-match")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{Unauthorized("no"), http.StatusUnauthorized},
		{Forbidden("no"), http.StatusForbidden},
		{NotFound("no"), http.StatusNotFound},
		{InvalidCode("no"), http.StatusBadRequest},
		{InvalidAmount("no"), http.StatusBadRequest},
		{InsufficientBalance("no"), http.StatusBadRequest},
		{Validation("no"), http.StatusBadRequest},
		{Conflict("no"), http.StatusConflict},
		{Internal("boom", nil), http.StatusInternalServerError},
		{fmt.Errorf("plain error"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.status {
			t.Fatalf("%v: status %d, want %d", tc.err, got, tc.status)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Internal("query users", cause)
	if !errors.Is(err, cause) {
		t.Fatal("Internal should wrap its cause")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(NotFound("x")) != KindNotFound {
		t.Fatal("KindOf should unwrap the kind")
	}
	if KindOf(fmt.Errorf("plain")) != KindInternal {
		t.Fatal("plain errors default to internal")
	}
}
