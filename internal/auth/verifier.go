// Package auth issues and verifies the meeting-scoped bearer credentials
// the control plane hands to participants.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/peergrid/confab/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

const defaultTTL = 2 * time.Hour

// Claims is the verified content of a token. A token is valid for exactly
// one meeting.
type Claims struct {
	Principal domain.Principal
	MeetingID domain.MeetingID
}

// Service signs and verifies HS256 tokens with a shared secret.
type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{secret: []byte(secret), ttl: ttl}
}

// Issue mints a meeting-scoped token for the given principal.
func (s *Service) Issue(p domain.Principal, mid domain.MeetingID) (string, error) {
	if p.ID == "" || mid == "" {
		return "", domain.ErrIdentityEmpty
	}
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub":  string(p.ID),
		"mid":  string(mid),
		"role": string(p.Role),
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	}
	if p.DisplayName != "" {
		claims["name"] = p.DisplayName
	}
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Verify parses and validates a token. Expired, tampered, or malformed
// input yields ErrInvalidToken; it never panics.
func (s *Service) Verify(token string) (Claims, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	sub, _ := mc["sub"].(string)
	mid, _ := mc["mid"].(string)
	role, _ := mc["role"].(string)
	name, _ := mc["name"].(string)
	if sub == "" || mid == "" {
		return Claims{}, ErrInvalidToken
	}
	p, err := domain.NewPrincipal(domain.ParticipantID(sub), domain.Role(role), name)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Principal: p, MeetingID: domain.MeetingID(mid)}, nil
}
