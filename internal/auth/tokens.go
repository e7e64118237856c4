package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes short-lived access tokens from longer-lived
// refresh tokens. Both are signed with the same secret but carry a
// different type claim so one cannot be mistaken for the other at
// verification time.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrWrongTokenType = errors.New("auth: unexpected token type")
)

// Claims is the JWT payload issued to authenticated users. It embeds the
// registered claim set so exp/iat are validated by the jwt library
// itself.
type Claims struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies access/refresh tokens with a shared
// HS256 secret.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer returns a TokenIssuer using secret as the HMAC key.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// CreateToken produces a signed token for userID/role with the given type
// and time-to-live. exp and iat are set from now (UTC). deviceID is only
// meaningful for refresh tokens and may be empty for access tokens.
func (ti *TokenIssuer) CreateToken(userID, role string, typ TokenType, ttl time.Duration, deviceID string) (string, error) {
	return ti.CreateTokenWithSession(userID, role, typ, ttl, deviceID, "")
}

// CreateTokenWithSession is CreateToken plus an embedded session_id claim,
// used for refresh tokens so the issuing session can be looked up and
// revoked independent of the token string itself.
func (ti *TokenIssuer) CreateTokenWithSession(userID, role string, typ TokenType, ttl time.Duration, deviceID, sessionID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:    userID,
		Role:      role,
		Type:      typ,
		DeviceID:  deviceID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// VerifyToken parses and validates a signed token, returning its claims.
// wantType, if non-empty, rejects tokens of the wrong type (e.g. an
// access token presented where a refresh token is required). A correctly
// signed but expired token returns its decoded claims together with
// ErrTokenExpired, so callers can still report who presented it.
func (ti *TokenIssuer) VerifyToken(raw string, wantType TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenMalformed, t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}
	if wantType != "" && claims.Type != wantType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ExtractBearerToken extracts a bearer token from the Authorization header.
// Returns empty string if not present or malformed.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
