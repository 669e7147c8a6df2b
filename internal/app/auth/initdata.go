// Package auth verifies Telegram Mini App init data and issues admin
// session tokens.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Errors returned by Verify.
var (
	ErrNoInitData      = errors.New("init data is empty")
	ErrBadSignature    = errors.New("init data signature mismatch")
	ErrExpiredInitData = errors.New("init data is too old")
)

// Principal is a Telegram identity extracted from verified init data.
type Principal struct {
	TelegramID int64
	FirstName  string
	LastName   string
	Username   string
	StartParam string
	AuthDate   time.Time
}

// Verifier validates signed init data against the bot token. The zero value
// is unusable; construct it with NewVerifier.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier derives the signing secret from the bot token. A zero maxAge
// disables the freshness check.
func NewVerifier(botToken string, maxAge time.Duration) *Verifier {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &Verifier{secret: mac.Sum(nil), maxAge: maxAge, now: time.Now}
}

// Verify checks the HMAC signature of raw init data (the query string the
// Telegram client hands to the mini app) and returns the embedded identity.
func (v *Verifier) Verify(raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, ErrNoInitData
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return Principal{}, fmt.Errorf("parse init data: %w", err)
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return Principal{}, ErrBadSignature
	}

	// Data-check string: every field except hash, sorted by key, joined with
	// newlines. This is the format Telegram signs.
	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(pairs, "\n")))
	want := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(want), []byte(gotHash)) {
		return Principal{}, ErrBadSignature
	}

	p := Principal{StartParam: values.Get("start_param")}

	if authDate := values.Get("auth_date"); authDate != "" {
		unix, err := strconv.ParseInt(authDate, 10, 64)
		if err != nil {
			return Principal{}, fmt.Errorf("parse auth_date: %w", err)
		}
		p.AuthDate = time.Unix(unix, 0).UTC()
		if v.maxAge > 0 && v.now().Sub(p.AuthDate) > v.maxAge {
			return Principal{}, ErrExpiredInitData
		}
	}

	if userJSON := values.Get("user"); userJSON != "" {
		p.TelegramID = gjson.Get(userJSON, "id").Int()
		p.FirstName = gjson.Get(userJSON, "first_name").String()
		p.LastName = gjson.Get(userJSON, "last_name").String()
		p.Username = gjson.Get(userJSON, "username").String()
	}
	if p.TelegramID == 0 {
		return Principal{}, fmt.Errorf("init data has no user id")
	}

	return p, nil
}

// UserID returns the canonical internal identifier for the principal.
func (p Principal) UserID() string {
	return "tg:" + strconv.FormatInt(p.TelegramID, 10)
}
