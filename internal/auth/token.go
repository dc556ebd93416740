package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes refresh tokens from access tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// clockSkew tolerates an iat slightly ahead of the verifier's clock. Expiry
// has no tolerance: a token is rejected from its exp second on.
const clockSkew = 5 * time.Second

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of both token classes. Type is set only on refresh tokens.
type Claims struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	Role   Role      `json:"role"`
	Type   TokenType `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// Subject is the identity a token is minted for.
type Subject struct {
	UserID string
	Email  string
	Role   Role
}

// TokenCodec signs and verifies HS256 tokens bound to an issuer and audience.
type TokenCodec struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenCodec fails with ErrMissingSecret when secret is blank.
func NewTokenCodec(secret, issuer, audience string) (*TokenCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if strings.TrimSpace(issuer) == "" || strings.TrimSpace(audience) == "" {
		return nil, errors.New("auth: issuer and audience are required")
	}
	return &TokenCodec{secret: []byte(secret), issuer: issuer, audience: audience}, nil
}

// Sign mints a token of class typ valid for ttl from issuedAt.
func (c *TokenCodec) Sign(sub Subject, typ TokenType, issuedAt time.Time, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return "", time.Time{}, errors.New("auth: subject user id is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("auth: ttl must be greater than zero")
	}
	issuedAt = issuedAt.UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := Claims{
		UserID: sub.UserID,
		Email:  sub.Email,
		Role:   sub.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   sub.UserID,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	if typ == TokenRefresh {
		claims.Type = TokenRefresh
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, audience and expiry against the wall clock.
func (c *TokenCodec) Verify(token string, typ TokenType) (*Claims, error) {
	return c.VerifyAt(token, typ, time.Now())
}

// VerifyAt is Verify evaluated at now.
func (c *TokenCodec) VerifyAt(token string, typ TokenType, now time.Time) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.IssuedAt.After(now.Add(clockSkew)) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	switch typ {
	case TokenRefresh:
		if claims.Type != TokenRefresh {
			return nil, ErrInvalidToken
		}
	default:
		if claims.Type == TokenRefresh {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}
