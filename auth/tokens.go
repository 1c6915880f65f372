// Package auth implements the session gate: HMAC-signed access and refresh
// tokens naming a session, verified against the session row's liveness.
// Password hashing, TOTP and OAuth stay outside the core; whatever performs
// a login calls Issue and hands the tokens out.
package auth

import (
	"time"

	"github.com/gorilla/securecookie"
)

const (
	accessTokenName  = "access"
	refreshTokenName = "refresh"
)

// Claims is what a token carries.
type Claims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"sub"`
	ExpiresAt int64  `json:"exp"` // unix seconds
}

// TokenCodec signs and verifies tokens. Access and refresh tokens use
// separate keys so one leaked key cannot mint the other kind.
type TokenCodec struct {
	access     *securecookie.SecureCookie
	refresh    *securecookie.SecureCookie
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenCodec builds a codec from the two secrets.
func NewTokenCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	access := securecookie.New([]byte(accessSecret), nil)
	access.SetSerializer(securecookie.JSONEncoder{})
	access.MaxAge(int(accessTTL.Seconds()))
	refresh := securecookie.New([]byte(refreshSecret), nil)
	refresh.SetSerializer(securecookie.JSONEncoder{})
	refresh.MaxAge(int(refreshTTL.Seconds()))
	return &TokenCodec{access: access, refresh: refresh, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// MintAccess signs an access token for the session.
func (c *TokenCodec) MintAccess(sessionID, userID string, now time.Time) (string, error) {
	return c.access.Encode(accessTokenName, Claims{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(c.accessTTL).Unix(),
	})
}

// MintRefresh signs a refresh token for the session.
func (c *TokenCodec) MintRefresh(sessionID, userID string, now time.Time) (string, error) {
	return c.refresh.Encode(refreshTokenName, Claims{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(c.refreshTTL).Unix(),
	})
}

// DecodeAccess verifies an access token's signature and returns its claims.
// Expiry of the claims is checked by the gate, not here.
func (c *TokenCodec) DecodeAccess(token string) (Claims, error) {
	var claims Claims
	if err := c.access.Decode(accessTokenName, token, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// DecodeRefresh verifies a refresh token's signature and returns its claims.
func (c *TokenCodec) DecodeRefresh(token string) (Claims, error) {
	var claims Claims
	if err := c.refresh.Decode(refreshTokenName, token, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
