package match

import "github.com/pongarena/server/physics"

// Wire events sent to pong sockets. The socket layer serializes these as-is,
// so the json tags are the protocol.

// ConnectionOKEvent is the first frame after a successful upgrade.
type ConnectionOKEvent struct {
	Type    string `json:"type"` // "connection_ok"
	UserID  string `json:"userId"`
	MatchID string `json:"matchId"`
}

// JoinedEvent acknowledges a connect and carries the current game state so a
// reconnecting client can resync.
type JoinedEvent struct {
	Type      string            `json:"type"` // "joined"
	MatchID   string            `json:"matchId"`
	UserID    string            `json:"userId"`
	State     string            `json:"state"`
	GameState *physics.Snapshot `json:"gameState,omitempty"`
}

// ReadyStateEvent broadcasts one participant's ready flag.
type ReadyStateEvent struct {
	Type   string `json:"type"` // "ready_state"
	UserID string `json:"userId"`
	Ready  bool   `json:"ready"`
}

// CountdownEvent is broadcast once per countdown second: 3, 2, 1.
type CountdownEvent struct {
	Type    string `json:"type"` // "countdown"
	Seconds int    `json:"seconds"`
}

// ScorePayload is the score pair inside a state frame.
type ScorePayload struct {
	P1 int `json:"p1"`
	P2 int `json:"p2"`
}

// StateEvent is the 60 Hz snapshot broadcast.
type StateEvent struct {
	Type      string       `json:"type"` // "state"
	Timestamp int64        `json:"timestamp"` // unix milliseconds
	Ball      physics.Ball `json:"ball"`
	P1        float64      `json:"p1"`
	P2        float64      `json:"p2"`
	Score     ScorePayload `json:"score"`
}

// PausedEvent is broadcast when a participant pauses.
type PausedEvent struct {
	Type string `json:"type"` // "paused"
	By   string `json:"by"`
}

// ResumedEvent is broadcast before the resume countdown starts.
type ResumedEvent struct {
	Type string `json:"type"` // "resume"
	By   string `json:"by"`
}

// GameOverEvent is broadcast on a terminal transition.
type GameOverEvent struct {
	Type     string `json:"type"` // "game_over"
	WinnerID string `json:"winnerId"`
	P1Score  int    `json:"p1Score"`
	P2Score  int    `json:"p2Score"`
	Reason   string `json:"reason"` // "score" or "forfeit"
}

// LeftEvent is broadcast when a participant leaves cleanly.
type LeftEvent struct {
	Type   string `json:"type"` // "left"
	UserID string `json:"userId"`
}

// ErrorEvent is an inline error; the connection stays open.
type ErrorEvent struct {
	Type string `json:"type"` // "error"
	Code string `json:"code"`
}

// PongEvent answers a client ping.
type PongEvent struct {
	Type      string `json:"type"` // "pong"
	Timestamp int64  `json:"timestamp"`
}

// RematchRequestEvent tells the other participant a rematch was offered.
type RematchRequestEvent struct {
	Type      string `json:"type"` // "rematch_request"
	From      string `json:"from"`
	ExpiresAt int64  `json:"expiresAt"` // unix milliseconds
}

// RematchAcceptEvent carries the id of the freshly created match.
type RematchAcceptEvent struct {
	Type    string `json:"type"` // "rematch_accept"
	MatchID string `json:"matchId"`
}

// RematchDeclineEvent is sent to both sides on decline.
type RematchDeclineEvent struct {
	Type string `json:"type"` // "rematch_decline"
	By   string `json:"by"`
}

// RematchCancelledEvent closes a pending rematch on TTL expiry or disconnect.
type RematchCancelledEvent struct {
	Type   string `json:"type"` // "rematch_cancelled"
	Reason string `json:"reason"` // "timeout" or "disconnect"
}

// Error codes surfaced inline on the pong socket.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidState       = "INVALID_STATE"
	CodeUnauthorizedResume = "UNAUTHORIZED_RESUME"
	CodeRateLimit          = "RATE_LIMIT"
	CodeInternal           = "INTERNAL"
)
