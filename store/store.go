// Package store defines the durable records the core writes and the narrow
// repository interfaces the components depend on. Postgres implementations
// live in postgres.go; in-memory implementations used by tests and the
// actors' unit suites live in memory.go.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a write violates a uniqueness or state rule.
var ErrConflict = errors.New("store: conflict")

// MatchState is the durable lifecycle state of a match.
type MatchState string

const (
	MatchWaiting   MatchState = "waiting"
	MatchCountdown MatchState = "countdown"
	MatchPlaying   MatchState = "playing"
	MatchPaused    MatchState = "paused"
	MatchEnded     MatchState = "ended"
	MatchForfeited MatchState = "forfeited"
)

// Terminal reports whether the state freezes scores and winner.
func (s MatchState) Terminal() bool {
	return s == MatchEnded || s == MatchForfeited
}

// Match is the durable match record. Historical: never deleted.
type Match struct {
	ID           string
	TournamentID *string
	P1ID         string
	P2ID         string
	P1Score      int
	P2Score      int
	WinnerID     *string
	State        MatchState
	PausedBy     *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// MatchRepo persists match rows.
type MatchRepo interface {
	Create(ctx context.Context, m *Match) error
	Get(ctx context.Context, id string) (*Match, error)
	// SetState records a non-terminal lifecycle edge. startedAt is written
	// only on the first transition out of waiting.
	SetState(ctx context.Context, id string, state MatchState, pausedBy *string, startedAt *time.Time) error
	// Complete records a terminal transition in one statement; calling it on
	// an already-terminal match is a no-op so result writes stay idempotent.
	Complete(ctx context.Context, id string, state MatchState, winnerID string, p1Score, p2Score int, endedAt time.Time) error
}

// TournamentStatus is the tournament lifecycle.
type TournamentStatus string

const (
	TournamentPending   TournamentStatus = "pending"
	TournamentRunning   TournamentStatus = "running"
	TournamentCompleted TournamentStatus = "completed"
)

// TournamentMatchStatus is a bracket match's lifecycle.
type TournamentMatchStatus string

const (
	TMatchPending   TournamentMatchStatus = "pending"
	TMatchAnnounced TournamentMatchStatus = "announced"
	TMatchCompleted TournamentMatchStatus = "completed"
)

// Tournament is the durable tournament record.
type Tournament struct {
	ID          string
	Name        string
	Status      TournamentStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// TournamentPlayer is a registered participant. Alias is unique per
// tournament; QueuedAt is set while the player waits to be paired.
type TournamentPlayer struct {
	ID           string
	TournamentID string
	Alias        string
	UserID       *string
	QueuedAt     *time.Time
	CreatedAt    time.Time
}

// TournamentMatch is a bracket match with a monotonic order index.
type TournamentMatch struct {
	ID           string
	TournamentID string
	P1ID         string
	P2ID         string
	Order        int
	Status       TournamentMatchStatus
	WinnerID     *string
	P1Score      *int
	P2Score      *int
	CreatedAt    time.Time
	AnnouncedAt  *time.Time
	CompletedAt  *time.Time
}

// TournamentRepo persists tournaments, their players and bracket matches.
type TournamentRepo interface {
	Create(ctx context.Context, t *Tournament) error
	Get(ctx context.Context, id string) (*Tournament, error)
	SetStatus(ctx context.Context, id string, status TournamentStatus, at time.Time) error

	AddPlayer(ctx context.Context, p *TournamentPlayer) error
	Players(ctx context.Context, tournamentID string) ([]*TournamentPlayer, error)
	SetQueued(ctx context.Context, playerID string, queuedAt *time.Time) error

	CreateMatch(ctx context.Context, m *TournamentMatch) error
	Matches(ctx context.Context, tournamentID string) ([]*TournamentMatch, error)
	SetMatchStatus(ctx context.Context, matchID string, status TournamentMatchStatus, at time.Time) error
	CompleteMatch(ctx context.Context, matchID, winnerID string, p1Score, p2Score int, at time.Time) error
}

// ChatChannel is a named broadcast topic.
type ChatChannel struct {
	ID         string
	Slug       string
	Title      string
	Visibility string
	CreatedBy  string
	CreatedAt  time.Time
}

// ChatMessageType distinguishes channel messages from direct messages.
type ChatMessageType string

const (
	ChatTypeChannel ChatMessageType = "channel"
	ChatTypeDM      ChatMessageType = "dm"
)

// ChatMessage is a persisted chat line. ChannelID is nil for DMs and
// DMTargetID is nil for channel messages.
type ChatMessage struct {
	ID         string
	ChannelID  *string
	SenderID   string
	Content    string
	Type       ChatMessageType
	DMTargetID *string
	CreatedAt  time.Time
}

// Block is one direction of a block pair; fan-out treats it symmetrically.
type Block struct {
	BlockerID string
	BlockedID string
	Reason    *string
	CreatedAt time.Time
}

// ChatRepo persists channels, memberships, messages and blocks.
type ChatRepo interface {
	ChannelBySlug(ctx context.Context, slug string) (*ChatChannel, error)
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	SaveMessage(ctx context.Context, m *ChatMessage) error
	AddBlock(ctx context.Context, b *Block) error
	RemoveBlock(ctx context.Context, blockerID, blockedID string) error
	Blocks(ctx context.Context) ([]*Block, error)
}

// Session is a live login. A revoked or expired session fails the gate even
// when the token signature is still valid.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// SessionRepo persists sessions.
type SessionRepo interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Revoke(ctx context.Context, id string, at time.Time) error
}

// UserStats is the aggregated win/loss row for one user.
type UserStats struct {
	UserID     string
	Wins       int
	Losses     int
	Streak     int
	LastResult *string // "win" or "loss"
	UpdatedAt  time.Time
}

// RecentMatch is one of a user's last 10 completed matches.
type RecentMatch struct {
	ID             string
	UserID         string
	OpponentUserID *string
	MatchID        string
	P1Score        int
	P2Score        int
	Outcome        string // "win" or "loss"
	PlayedAt       time.Time
}

// StatsRepo persists the derived statistics.
type StatsRepo interface {
	// CompletedMatchesFor returns a user's terminal matches in chronological
	// order of completion.
	CompletedMatchesFor(ctx context.Context, userID string) ([]*Match, error)
	// Rewrite replaces the stats row and the recent-match list atomically.
	Rewrite(ctx context.Context, stats *UserStats, recent []*RecentMatch) error
	Stats(ctx context.Context, userID string) (*UserStats, error)
	RecentMatches(ctx context.Context, userID string) ([]*RecentMatch, error)
}

// Store bundles the repositories the core wires together.
type Store struct {
	Matches     MatchRepo
	Tournaments TournamentRepo
	Chat        ChatRepo
	Sessions    SessionRepo
	Stats       StatsRepo
}
