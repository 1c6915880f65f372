package chat

// Outbound is the send side of one chat socket. TrySend must not block; a
// false return means the connection's queue is full and the hub drops the
// socket.
type Outbound interface {
	TrySend(event interface{}) bool
	Close(code int, reason string)
}

// Hub commands. A user may hold several sockets at once, so connection-level
// commands carry the Outbound they concern.

// Connect registers a socket for a user.
type Connect struct {
	UserID string
	Conn   Outbound
}

// Disconnect unregisters a socket. The user counts as offline once their
// last socket is gone.
type Disconnect struct {
	UserID string
	Conn   Outbound
}

// JoinChannel subscribes a socket to a channel, subject to membership.
type JoinChannel struct {
	UserID string
	Conn   Outbound
	Room   string
}

// ChannelMessage posts to a joined channel.
type ChannelMessage struct {
	UserID string
	Conn   Outbound
	Room   string
	Body   string
}

// DirectMessage sends to every live socket of the recipient and echoes to
// the sender's sockets.
type DirectMessage struct {
	UserID string
	To     string
	Body   string
}

// MatchChat relays banter to both match participants' chat sockets.
type MatchChat struct {
	UserID  string
	MatchID string
	Body    string
}

// BlockUser adds a block pair; fan-out honors it immediately.
type BlockUser struct {
	UserID string
	Target string
	Reason *string
}

// UnblockUser removes a block pair.
type UnblockUser struct {
	UserID string
	Target string
}

// Notify delivers an event to every live socket of a user. The invitation
// broker uses it to reach users through the hub's mailbox.
type Notify struct {
	UserID string
	Event  interface{}
}

// Invitation broker commands.

// SendInvite offers a match to another user.
type SendInvite struct {
	From string
	To   string
}

// RespondInvite accepts or declines a pending invite. Only the recipient
// may respond.
type RespondInvite struct {
	UserID   string
	InviteID string
	Accepted bool
}

// UserOffline cancels every pending invite involving the user. The hub posts
// it when a user's last socket closes.
type UserOffline struct {
	UserID string
}

type inviteExpiredMsg struct {
	inviteID string
}
