package auth

import (
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager("admin", "s3cret", "test-jwt-secret", time.Hour)
}

func TestLoginIssuesValidToken(t *testing.T) {
	m := newTestManager()

	token, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "admin" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := newTestManager()

	cases := []struct{ username, password string }{
		{"admin", "wrong"},
		{"root", "s3cret"},
		{"", ""},
	}
	for _, tc := range cases {
		if _, err := m.Login(tc.username, tc.password); err == nil {
			t.Fatalf("expected login failure for %q/%q", tc.username, tc.password)
		}
	}
}

func TestValidateRejectsForeignToken(t *testing.T) {
	m := newTestManager()
	other := NewManager("admin", "s3cret", "different-secret", time.Hour)

	token, err := other.Login("admin", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := m.Validate(token); err == nil {
		t.Fatal("expected validation failure for a token signed with another secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m := newTestManager()
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := m.Validate(token); err == nil {
		t.Fatal("expected validation failure for an expired token")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	m := newTestManager()
	if _, err := m.Validate("not-a-jwt"); err == nil {
		t.Fatal("expected validation failure")
	}
}
