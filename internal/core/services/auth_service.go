package services

import (
	"errors"
	"time"

	"sfulink/internal/core/domain"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// Token scopes
const (
	ScopeSignal = "signal"
	ScopeAdmin  = "admin"
)

type Claims struct {
	MeetingID string `json:"meeting_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenService issues the session tokens presented to the relay and the
// credential endpoint, and validates admin API tokens.
type TokenService struct {
	secret  []byte
	ttl     time.Duration
	meeting domain.MeetingInfo
	clock   clock.Clock
}

func NewTokenService(secret string, ttl time.Duration, meeting domain.MeetingInfo, clk clock.Clock) *TokenService {
	if clk == nil {
		clk = clock.New()
	}
	return &TokenService{
		secret:  []byte(secret),
		ttl:     ttl,
		meeting: meeting,
		clock:   clk,
	}
}

// Issue signs a token for the configured meeting participant
func (s *TokenService) Issue(scope string) (string, error) {
	now := s.clock.Now()
	claims := &Claims{
		MeetingID: s.meeting.MeetingID,
		UserID:    s.meeting.UserID,
		UserName:  s.meeting.UserName,
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.meeting.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// SignalToken is the sessionToken carried by the signaling dial URL
func (s *TokenService) SignalToken() (string, error) {
	return s.Issue(ScopeSignal)
}

func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Authorize validates a token and checks its scope
func (s *TokenService) Authorize(tokenString, scope string) (*Claims, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Scope != scope {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
