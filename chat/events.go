package chat

// Wire events sent to chat sockets; the json tags are the protocol.

// WelcomeEvent is the first frame after a successful upgrade.
type WelcomeEvent struct {
	Type   string `json:"type"` // "welcome"
	UserID string `json:"userId"`
}

// JoinedRoomEvent acknowledges a channel join.
type JoinedRoomEvent struct {
	Type string `json:"type"` // "joined"
	Room string `json:"room"`
}

// PresenceEvent is broadcast to a channel when a user's first socket joins
// or last socket leaves.
type PresenceEvent struct {
	Type   string `json:"type"` // "presence"
	Room   string `json:"room"`
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// ChannelMessageEvent fans a persisted channel message out to members.
type ChannelMessageEvent struct {
	Type      string `json:"type"` // "channel"
	From      string `json:"from"`
	Room      string `json:"room"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// DMEvent fans a persisted direct message out to both parties' sockets.
type DMEvent struct {
	Type      string `json:"type"` // "dm"
	From      string `json:"from"`
	UserID    string `json:"userId"` // recipient
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MatchChatEvent relays in-match banter to both participants' chat sockets.
type MatchChatEvent struct {
	Type    string `json:"type"` // "match_chat"
	MatchID string `json:"matchId"`
	From    string `json:"from"`
	Body    string `json:"body"`
	TS      int64  `json:"ts"`
}

// InviteEvent tells the recipient a match invite arrived.
type InviteEvent struct {
	Type      string `json:"type"` // "match_invite"
	InviteID  string `json:"inviteId"`
	From      string `json:"from"`
	ExpiresAt int64  `json:"expiresAt"` // unix milliseconds
}

// InviteSentEvent acknowledges the sender's invite.
type InviteSentEvent struct {
	Type      string `json:"type"` // "match_invite_sent"
	InviteID  string `json:"inviteId"`
	To        string `json:"to"`
	ExpiresAt int64  `json:"expiresAt"`
}

// InviteAcceptedEvent goes to the sender when the recipient accepts; it
// carries the freshly created match id.
type InviteAcceptedEvent struct {
	Type     string `json:"type"` // "match_invite_accepted"
	InviteID string `json:"inviteId"`
	MatchID  string `json:"matchId"`
}

// InviteConfirmedEvent goes to the recipient on accept.
type InviteConfirmedEvent struct {
	Type     string `json:"type"` // "match_invite_confirmed"
	InviteID string `json:"inviteId"`
	MatchID  string `json:"matchId"`
}

// InviteDeclinedEvent goes to the sender on decline.
type InviteDeclinedEvent struct {
	Type     string `json:"type"` // "match_invite_declined"
	InviteID string `json:"inviteId"`
}

// InviteCancelledEvent goes to the recipient on decline.
type InviteCancelledEvent struct {
	Type     string `json:"type"` // "match_invite_cancelled"
	InviteID string `json:"inviteId"`
}

// InviteExpiredEvent goes to both live sides on TTL expiry or disconnect.
type InviteExpiredEvent struct {
	Type     string `json:"type"` // "match_invite_expired"
	InviteID string `json:"inviteId"`
	Reason   string `json:"reason"` // "timeout" or "disconnect"
}

// InviteErrorEvent rejects an invalid invite operation.
type InviteErrorEvent struct {
	Type string `json:"type"` // "match_invite_error"
	Code string `json:"code"`
}

// BlockedEvent acknowledges a block.
type BlockedEvent struct {
	Type   string `json:"type"` // "blocked"
	UserID string `json:"userId"`
}

// UnblockedEvent acknowledges an unblock.
type UnblockedEvent struct {
	Type   string `json:"type"` // "unblocked"
	UserID string `json:"userId"`
}

// ErrorEvent is an inline error; the connection stays open.
type ErrorEvent struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}

// PongEvent answers a client ping.
type PongEvent struct {
	Type string `json:"type"` // "pong"
	TS   int64  `json:"ts"`
}

// Error codes surfaced on the chat socket.
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeNotMember      = "NOT_A_MEMBER"
	CodeNotFound       = "NOT_FOUND"
	CodeSelfInvite     = "SELF_INVITE"
	CodeDuplicate      = "DUPLICATE_INVITE"
	CodeNotRecipient   = "NOT_RECIPIENT"
	CodeRateLimit      = "RATE_LIMIT"
	CodeMessageTooLong = "MESSAGE_TOO_LONG"
	CodeInternal       = "INTERNAL"
)
