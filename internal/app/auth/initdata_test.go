package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"
)

const testBotToken = "12345:test-bot-token"

// signInitData builds a signed init data string the way the Telegram client
// would.
func signInitData(botToken string, fields map[string]string) string {
	pairs := make([]string, 0, len(fields))
	for key, value := range fields {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)

	secretMAC := hmac.New(sha256.New, []byte("WebAppData"))
	secretMAC.Write([]byte(botToken))
	secret := secretMAC.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(pairs, "\n")))

	values := url.Values{}
	for key, value := range fields {
		values.Set(key, value)
	}
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func validFields(authDate time.Time) map[string]string {
	return map[string]string{
		"user":      `{"id":42,"first_name":"Ada","last_name":"Lovelace","username":"ada"}`,
		"auth_date": fmt.Sprintf("%d", authDate.Unix()),
		"query_id":  "AAE42",
	}
}

func TestVerifyAcceptsSignedInitData(t *testing.T) {
	v := NewVerifier(testBotToken, 24*time.Hour)
	raw := signInitData(testBotToken, validFields(time.Now()))

	p, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.TelegramID != 42 {
		t.Fatalf("expected telegram id 42, got %d", p.TelegramID)
	}
	if p.Username != "ada" || p.FirstName != "Ada" {
		t.Fatalf("unexpected profile fields: %+v", p)
	}
	if p.UserID() != "tg:42" {
		t.Fatalf("expected user id tg:42, got %s", p.UserID())
	}
}

func TestVerifyExtractsStartParam(t *testing.T) {
	fields := validFields(time.Now())
	fields["start_param"] = "ref_tg:7"

	v := NewVerifier(testBotToken, 0)
	p, err := v.Verify(signInitData(testBotToken, fields))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.StartParam != "ref_tg:7" {
		t.Fatalf("expected start_param ref_tg:7, got %q", p.StartParam)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v := NewVerifier(testBotToken, 0)
	raw := signInitData(testBotToken, validFields(time.Now()))

	tampered := strings.Replace(raw, "Ada", "Eve", 1)
	if _, err := v.Verify(tampered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsWrongBotToken(t *testing.T) {
	v := NewVerifier(testBotToken, 0)
	raw := signInitData("99999:other-token", validFields(time.Now()))

	if _, err := v.Verify(raw); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsEmptyInitData(t *testing.T) {
	v := NewVerifier(testBotToken, 0)
	for _, raw := range []string{"", "   "} {
		if _, err := v.Verify(raw); !errors.Is(err, ErrNoInitData) {
			t.Fatalf("expected ErrNoInitData for %q, got %v", raw, err)
		}
	}
}

func TestVerifyRejectsMissingHash(t *testing.T) {
	v := NewVerifier(testBotToken, 0)
	if _, err := v.Verify("user=%7B%22id%22%3A42%7D&auth_date=1"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsStaleInitData(t *testing.T) {
	v := NewVerifier(testBotToken, time.Hour)
	raw := signInitData(testBotToken, validFields(time.Now().Add(-2*time.Hour)))

	if _, err := v.Verify(raw); !errors.Is(err, ErrExpiredInitData) {
		t.Fatalf("expected ErrExpiredInitData, got %v", err)
	}
}

func TestVerifyAllowsStaleWhenMaxAgeDisabled(t *testing.T) {
	v := NewVerifier(testBotToken, 0)
	raw := signInitData(testBotToken, validFields(time.Now().Add(-48*time.Hour)))

	if _, err := v.Verify(raw); err != nil {
		t.Fatalf("verify with disabled max age: %v", err)
	}
}

func TestVerifyRequiresUserID(t *testing.T) {
	fields := map[string]string{
		"user":      `{"first_name":"NoID"}`,
		"auth_date": fmt.Sprintf("%d", time.Now().Unix()),
	}

	v := NewVerifier(testBotToken, 0)
	if _, err := v.Verify(signInitData(testBotToken, fields)); err == nil {
		t.Fatal("expected an error for init data without a user id")
	}
}
