// Package referral decodes referral carriers and binds users to their
// referrer. Attribution happens at most once per user and never fails the
// request that carried it.
package referral

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/metrics"
	"github.com/earnloop/earnloop/internal/app/storage"
	"github.com/earnloop/earnloop/pkg/logger"
	"github.com/tidwall/gjson"
)

// CandidateKind tags the decoded form of a referral carrier.
type CandidateKind int

const (
	// KindRawID is a referrer user id carried verbatim.
	KindRawID CandidateKind = iota
	// KindHandle is a username that must be resolved to a user.
	KindHandle
	// KindEncodedPayload is a base64url JSON envelope wrapping another
	// candidate.
	KindEncodedPayload
)

// Candidate is a decoded referral carrier.
type Candidate struct {
	Kind  CandidateKind
	Value string
}

// Service binds users to referrers and reports referral summaries.
type Service struct {
	users       storage.UserStore
	botUsername string
	signupBonus float64
	log         *logger.Logger
}

// New constructs a referral service. botUsername shapes the invite links in
// summaries; signupBonus is credited to the referrer's balance once per
// referred user, at the moment the link is created (0 disables it).
func New(users storage.UserStore, botUsername string, signupBonus float64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("referral")
	}
	return &Service{users: users, botUsername: botUsername, signupBonus: signupBonus, log: log}
}

// Decode classifies a raw referral carrier. It strips the common link
// prefixes, recognizes @handles, and unwraps one level of base64url JSON
// envelope. An empty result means the carrier held nothing usable.
func Decode(raw string) (Candidate, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Candidate{}, false
	}

	for _, prefix := range []string{"ref_", "user_", "r-"} {
		if strings.HasPrefix(raw, prefix) {
			raw = strings.TrimPrefix(raw, prefix)
			break
		}
	}
	if raw == "" {
		return Candidate{}, false
	}

	if strings.HasPrefix(raw, "@") {
		handle := strings.TrimPrefix(raw, "@")
		if handle == "" {
			return Candidate{}, false
		}
		return Candidate{Kind: KindHandle, Value: handle}, true
	}

	if decoded, ok := decodeEnvelope(raw); ok {
		return Candidate{Kind: KindEncodedPayload, Value: decoded}, true
	}

	return Candidate{Kind: KindRawID, Value: raw}, true
}

// decodeEnvelope unwraps a base64url {"ref": "..."} payload. Only payloads
// that decode to exactly that shape count; anything else passes through as a
// raw id.
func decodeEnvelope(raw string) (string, bool) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		if decoded, err = base64.URLEncoding.DecodeString(raw); err != nil {
			return "", false
		}
	}
	if !gjson.ValidBytes(decoded) {
		return "", false
	}
	ref := gjson.GetBytes(decoded, "ref")
	if !ref.Exists() || ref.String() == "" {
		return "", false
	}
	return ref.String(), true
}

// resolve turns a candidate into a concrete referrer id. An encoded payload
// is decoded once more, so an envelope may wrap a raw id or a handle but not
// another envelope.
func (s *Service) resolve(ctx context.Context, c Candidate) (string, error) {
	switch c.Kind {
	case KindRawID:
		return strings.TrimSpace(c.Value), nil
	case KindHandle:
		u, err := s.users.GetUserByUsername(ctx, c.Value)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	case KindEncodedPayload:
		inner, ok := Decode(c.Value)
		if !ok || inner.Kind == KindEncodedPayload {
			return "", fmt.Errorf("unusable referral payload")
		}
		return s.resolve(ctx, inner)
	default:
		return "", fmt.Errorf("unknown candidate kind %d", c.Kind)
	}
}

// Attribute tries each raw carrier in order and binds the first one that
// resolves to an existing user other than userID. Failures are logged and
// swallowed: a broken referral link must never break the request carrying it.
func (s *Service) Attribute(ctx context.Context, userID string, carriers ...string) {
	for _, raw := range carriers {
		candidate, ok := Decode(raw)
		if !ok {
			continue
		}

		referrerID, err := s.resolve(ctx, candidate)
		if err != nil || referrerID == "" {
			s.log.WithField("carrier", raw).Debug("referral carrier did not resolve")
			continue
		}
		if referrerID == userID {
			continue
		}

		bound, err := s.users.AttributeReferral(ctx, userID, referrerID, s.signupBonus)
		if err != nil {
			s.log.WithError(err).WithField("referrer_id", referrerID).Debug("referral attribution skipped")
			continue
		}
		if bound {
			metrics.RecordReferralAttribution()
			s.log.WithField("user_id", userID).WithField("referrer_id", referrerID).Info("referral attributed")
		}
		// bound == false means an earlier request already attributed this
		// user; either way the user has a referrer and we are done.
		return
	}
}

// Summary describes a user's referral standing.
type Summary struct {
	InviteLink string      `json:"invite_link"`
	Earnings   float64     `json:"earnings"`
	Referrals  []user.User `json:"referrals"`
}

// Summarize reports the users referred by userID together with the invite
// link to share.
func (s *Service) Summarize(ctx context.Context, userID string) (Summary, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	referred, err := s.users.ListReferrals(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	if referred == nil {
		referred = []user.User{}
	}

	return Summary{
		InviteLink: fmt.Sprintf("https://t.me/%s?startapp=ref_%s", s.botUsername, userID),
		Earnings:   u.ReferralEarnings,
		Referrals:  referred,
	}, nil
}
