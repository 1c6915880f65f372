package match

// Outbound is the send side of one player socket. TrySend must not block:
// it returns false when the connection's queue is full, and the runtime
// treats that as a disconnect. Implemented by the server package's conn and
// by test fakes.
type Outbound interface {
	TrySend(event interface{}) bool
	Close(code int, reason string)
}

// Commands delivered to a runtime's mailbox. Every external stimulus is one
// of these; the runtime never sees a socket directly.

// Connect seats a participant's socket. A second Connect for the same user
// replaces the previous entry (reconnect).
type Connect struct {
	UserID string
	Conn   Outbound
}

// Disconnect reports transport loss on a specific connection. The Conn field
// lets the runtime ignore losses on connections already replaced by a
// reconnect.
type Disconnect struct {
	UserID string
	Conn   Outbound
}

// Ready marks a participant ready for the countdown.
type Ready struct {
	UserID string
}

// Input is a paddle command. Seq must be strictly increasing per participant.
type Input struct {
	UserID    string
	Direction string
	Seq       int64
}

// Pause suspends play. Only the pausing participant may Resume.
type Pause struct {
	UserID string
}

// Resume restarts the countdown after a pause.
type Resume struct {
	UserID string
}

// Leave is an explicit clean departure; forfeits only when play has begun.
type Leave struct {
	UserID string
}

// Forfeit concedes the match to the opponent.
type Forfeit struct {
	UserID string
}

// RequestState asks for a full state snapshot outside the tick loop.
type RequestState struct {
	UserID string
}

// RequestRematch offers a rematch after a terminal state. The second
// participant's own request implicitly accepts.
type RequestRematch struct {
	UserID string
}

// AcceptRematch accepts a pending rematch offer.
type AcceptRematch struct {
	UserID string
}

// DeclineRematch declines a pending rematch offer.
type DeclineRematch struct {
	UserID string
}

// Internal timer messages. Epochs guard against stale timers firing after
// the phase they belonged to ended.

type tickMsg struct{}

type countdownMsg struct {
	epoch int
}

type rematchExpiredMsg struct {
	epoch int
}

type graceExpiredMsg struct {
	userID string
	epoch  int
}

type cleanupMsg struct{}
