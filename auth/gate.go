package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pongarena/server/store"
)

// ErrInvalidToken covers bad signatures, malformed tokens and expired claims.
var ErrInvalidToken = errors.New("auth: invalid token")

// ErrSessionDead covers revoked, expired and unknown sessions.
var ErrSessionDead = errors.New("auth: session not live")

// Gate verifies access tokens against live sessions. It is the only trust
// boundary the core assumes; the HTTP middleware and all three socket
// endpoints go through it.
type Gate struct {
	codec    *TokenCodec
	sessions store.SessionRepo
	now      func() time.Time
}

// NewGate builds a gate over the session repository.
func NewGate(codec *TokenCodec, sessions store.SessionRepo) *Gate {
	return &Gate{codec: codec, sessions: sessions, now: time.Now}
}

// Verify checks the token's signature and expiry and that the named session
// is still live. Returns the subject user id.
func (g *Gate) Verify(ctx context.Context, token string) (string, error) {
	claims, err := g.codec.DecodeAccess(token)
	if err != nil {
		return "", err
	}
	now := g.now()
	if now.Unix() >= claims.ExpiresAt {
		return "", ErrInvalidToken
	}

	session, err := g.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrSessionDead
		}
		return "", err
	}
	if session.RevokedAt != nil || now.After(session.ExpiresAt) {
		return "", ErrSessionDead
	}
	if session.UserID != claims.UserID {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// TokenPair is the result of issuing or refreshing a session.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId"`
}

// Issue creates a session and mints its token pair.
func (g *Gate) Issue(ctx context.Context, userID string) (*TokenPair, error) {
	now := g.now()
	session := &store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(g.codec.refreshTTL),
		CreatedAt: now,
	}
	if err := g.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	access, err := g.codec.MintAccess(session.ID, userID, now)
	if err != nil {
		return nil, err
	}
	refresh, err := g.codec.MintRefresh(session.ID, userID, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, SessionID: session.ID, UserID: userID}, nil
}

// Refresh mints a fresh access token for a live session.
func (g *Gate) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := g.codec.DecodeRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	now := g.now()
	if now.Unix() >= claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	session, err := g.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionDead
		}
		return nil, err
	}
	if session.RevokedAt != nil || now.After(session.ExpiresAt) {
		return nil, ErrSessionDead
	}

	access, err := g.codec.MintAccess(session.ID, session.UserID, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refreshToken, SessionID: session.ID, UserID: session.UserID}, nil
}

// Revoke kills a session; subsequent Verify calls fail with ErrSessionDead.
func (g *Gate) Revoke(ctx context.Context, sessionID string) error {
	return g.sessions.Revoke(ctx, sessionID, g.now())
}

// TokenFromRequest extracts the access token from the Authorization header
// or, for browsers that cannot set headers on WebSocket upgrades, from the
// token query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}
