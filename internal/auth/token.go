package auth

import (
	"errors"
	"fmt"
	"time"

	"peersupport-chat/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims shared with the login flow.
// The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenConfig holds the signing secret and token policy
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// TokenService issues and verifies HS256 bearer tokens
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenService creates a token service with the given config
func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &TokenService{cfg: cfg, now: time.Now}
}

// Issue signs a token for the given user id
func (s *TokenService) Issue(userID string) (string, error) {
	return s.IssueWithTTL(userID, s.cfg.TTL)
}

// IssueWithTTL signs a token with an explicit lifetime. A negative ttl yields
// an already expired token.
func (s *TokenService) IssueWithTTL(userID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and returns the subject user id.
// Errors wrap domain.ErrTokenExpired or domain.ErrTokenInvalid.
func (s *TokenService) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %v", domain.ErrTokenExpired, err)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", domain.ErrTokenInvalid)
	}

	return claims.Subject, nil
}
