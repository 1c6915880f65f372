// Package chat owns the chat fabric: a hub actor fanning out channel
// messages, DMs, presence and match banter, plus the invitation broker that
// turns a chat handshake into a waiting match. Both serialize their state
// through actor mailboxes, so per-topic ordering comes for free.
package chat

import (
	"context"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/config"
	"github.com/pongarena/server/store"
)

const persistTimeout = 5 * time.Second

// blockPair is one direction of a block; lookups check both directions.
type blockPair struct {
	blocker, blocked string
}

// channelSubs tracks which sockets have joined a channel.
type channelSubs struct {
	id      string
	members map[string]map[Outbound]bool
}

// HubDeps are the hub's collaborators. Offline is invoked when a user's last
// socket closes (wired to the invitation broker).
type HubDeps struct {
	Repo    store.ChatRepo
	Matches store.MatchRepo
	Log     *zap.Logger
	Offline func(userID string)
}

// Hub is the single-writer chat state machine.
type Hub struct {
	cfg  *config.Config
	deps HubDeps
	log  *zap.Logger
	now  func() time.Time

	socks    map[string]map[Outbound]bool
	channels map[string]*channelSubs
	blocks   map[blockPair]bool
}

// NewHub builds the hub; it starts processing when spawned.
func NewHub(cfg *config.Config, deps HubDeps) *Hub {
	return &Hub{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Log.Named("chat"),
		now:      time.Now,
		socks:    make(map[string]map[Outbound]bool),
		channels: make(map[string]*channelSubs),
		blocks:   make(map[blockPair]bool),
	}
}

func (h *Hub) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case actor.Started:
		h.loadBlocks()
	case actor.Stopping:
		for _, conns := range h.socks {
			for conn := range conns {
				conn.Close(1000, "server shutting down")
			}
		}
	case Connect:
		h.handleConnect(msg)
	case Disconnect:
		h.handleDisconnect(msg)
	case JoinChannel:
		h.handleJoin(msg)
	case ChannelMessage:
		h.handleChannelMessage(msg)
	case DirectMessage:
		h.handleDM(msg)
	case MatchChat:
		h.handleMatchChat(msg)
	case BlockUser:
		h.handleBlock(msg)
	case UnblockUser:
		h.handleUnblock(msg)
	case Notify:
		h.sendToUser(msg.UserID, msg.Event)
	}
}

func (h *Hub) loadBlocks() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	blocks, err := h.deps.Repo.Blocks(ctx)
	if err != nil {
		h.log.Error("load blocks", zap.Error(err))
		return
	}
	for _, b := range blocks {
		h.blocks[blockPair{b.BlockerID, b.BlockedID}] = true
	}
}

func (h *Hub) blocked(a, b string) bool {
	return h.blocks[blockPair{a, b}] || h.blocks[blockPair{b, a}]
}

func (h *Hub) handleConnect(c Connect) {
	if h.socks[c.UserID] == nil {
		h.socks[c.UserID] = make(map[Outbound]bool)
	}
	h.socks[c.UserID][c.Conn] = true
	h.push(c.UserID, c.Conn, WelcomeEvent{Type: "welcome", UserID: c.UserID})
	h.log.Info("chat socket connected", zap.String("userId", c.UserID))
}

func (h *Hub) handleDisconnect(d Disconnect) {
	conns, ok := h.socks[d.UserID]
	if !ok || !conns[d.Conn] {
		return
	}
	delete(conns, d.Conn)

	for slug, subs := range h.channels {
		userConns := subs.members[d.UserID]
		if userConns == nil || !userConns[d.Conn] {
			continue
		}
		delete(userConns, d.Conn)
		if len(userConns) == 0 {
			delete(subs.members, d.UserID)
			h.broadcastChannel(slug, PresenceEvent{Type: "presence", Room: slug, UserID: d.UserID, Online: false})
		}
	}

	if len(conns) == 0 {
		delete(h.socks, d.UserID)
		if h.deps.Offline != nil {
			h.deps.Offline(d.UserID)
		}
		h.log.Info("user offline", zap.String("userId", d.UserID))
	}
}

func (h *Hub) handleJoin(j JoinChannel) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	channel, err := h.deps.Repo.ChannelBySlug(ctx, j.Room)
	if err != nil {
		h.push(j.UserID, j.Conn, ErrorEvent{Type: "error", Error: CodeNotFound})
		return
	}
	member, err := h.deps.Repo.IsMember(ctx, channel.ID, j.UserID)
	if err != nil {
		h.push(j.UserID, j.Conn, ErrorEvent{Type: "error", Error: CodeInternal})
		return
	}
	if !member {
		h.push(j.UserID, j.Conn, ErrorEvent{Type: "error", Error: CodeNotMember})
		return
	}

	subs := h.channels[j.Room]
	if subs == nil {
		subs = &channelSubs{id: channel.ID, members: make(map[string]map[Outbound]bool)}
		h.channels[j.Room] = subs
	}
	first := len(subs.members[j.UserID]) == 0
	if subs.members[j.UserID] == nil {
		subs.members[j.UserID] = make(map[Outbound]bool)
	}
	subs.members[j.UserID][j.Conn] = true

	h.push(j.UserID, j.Conn, JoinedRoomEvent{Type: "joined", Room: j.Room})
	if first {
		h.broadcastChannel(j.Room, PresenceEvent{Type: "presence", Room: j.Room, UserID: j.UserID, Online: true})
	}
}

func (h *Hub) handleChannelMessage(m ChannelMessage) {
	subs := h.channels[m.Room]
	if subs == nil || subs.members[m.UserID] == nil || !subs.members[m.UserID][m.Conn] {
		h.push(m.UserID, m.Conn, ErrorEvent{Type: "error", Error: CodeNotMember})
		return
	}
	if m.Body == "" || len(m.Body) > h.cfg.MaxMessageLength {
		h.push(m.UserID, m.Conn, ErrorEvent{Type: "error", Error: CodeMessageTooLong})
		return
	}

	saved := &store.ChatMessage{
		ID:        ksuid.New().String(),
		ChannelID: &subs.id,
		SenderID:  m.UserID,
		Content:   m.Body,
		Type:      store.ChatTypeChannel,
		CreatedAt: h.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.deps.Repo.SaveMessage(ctx, saved); err != nil {
		h.log.Error("save channel message", zap.Error(err))
		h.push(m.UserID, m.Conn, ErrorEvent{Type: "error", Error: CodeInternal})
		return
	}

	event := ChannelMessageEvent{
		Type:      "channel",
		From:      m.UserID,
		Room:      m.Room,
		Content:   saved.Content,
		Timestamp: saved.CreatedAt.UnixMilli(),
	}
	for userID := range subs.members {
		if userID != m.UserID && h.blocked(userID, m.UserID) {
			continue
		}
		for conn := range subs.members[userID] {
			h.push(userID, conn, event)
		}
	}
}

func (h *Hub) handleDM(m DirectMessage) {
	if m.Body == "" || len(m.Body) > h.cfg.MaxMessageLength {
		h.sendToUser(m.UserID, ErrorEvent{Type: "error", Error: CodeMessageTooLong})
		return
	}

	to := m.To
	saved := &store.ChatMessage{
		ID:         ksuid.New().String(),
		SenderID:   m.UserID,
		Content:    m.Body,
		Type:       store.ChatTypeDM,
		DMTargetID: &to,
		CreatedAt:  h.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.deps.Repo.SaveMessage(ctx, saved); err != nil {
		h.log.Error("save dm", zap.Error(err))
		h.sendToUser(m.UserID, ErrorEvent{Type: "error", Error: CodeInternal})
		return
	}

	event := DMEvent{
		Type:      "dm",
		From:      m.UserID,
		UserID:    m.To,
		Content:   saved.Content,
		Timestamp: saved.CreatedAt.UnixMilli(),
	}
	// Suppressed toward the receiver when blocked in either direction; the
	// sender still sees their own echo.
	if !h.blocked(m.UserID, m.To) {
		h.sendToUser(m.To, event)
	}
	h.sendToUser(m.UserID, event)
}

func (h *Hub) handleMatchChat(m MatchChat) {
	if m.Body == "" || len(m.Body) > h.cfg.MaxMessageLength {
		h.sendToUser(m.UserID, ErrorEvent{Type: "error", Error: CodeMessageTooLong})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	match, err := h.deps.Matches.Get(ctx, m.MatchID)
	if err != nil {
		h.sendToUser(m.UserID, ErrorEvent{Type: "error", Error: CodeNotFound})
		return
	}
	if m.UserID != match.P1ID && m.UserID != match.P2ID {
		h.sendToUser(m.UserID, ErrorEvent{Type: "error", Error: CodeNotMember})
		return
	}

	event := MatchChatEvent{Type: "match_chat", MatchID: m.MatchID, From: m.UserID, Body: m.Body, TS: h.now().UnixMilli()}
	for _, userID := range []string{match.P1ID, match.P2ID} {
		if userID != m.UserID && h.blocked(userID, m.UserID) {
			continue
		}
		h.sendToUser(userID, event)
	}
}

func (h *Hub) handleBlock(b BlockUser) {
	if b.Target == b.UserID || b.Target == "" {
		h.sendToUser(b.UserID, ErrorEvent{Type: "error", Error: CodeInvalidInput})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	err := h.deps.Repo.AddBlock(ctx, &store.Block{
		BlockerID: b.UserID,
		BlockedID: b.Target,
		Reason:    b.Reason,
		CreatedAt: h.now(),
	})
	if err != nil && err != store.ErrConflict {
		h.log.Error("add block", zap.Error(err))
		h.sendToUser(b.UserID, ErrorEvent{Type: "error", Error: CodeInternal})
		return
	}
	h.blocks[blockPair{b.UserID, b.Target}] = true
	h.sendToUser(b.UserID, BlockedEvent{Type: "blocked", UserID: b.Target})
}

func (h *Hub) handleUnblock(u UnblockUser) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.deps.Repo.RemoveBlock(ctx, u.UserID, u.Target); err != nil {
		h.log.Error("remove block", zap.Error(err))
		h.sendToUser(u.UserID, ErrorEvent{Type: "error", Error: CodeInternal})
		return
	}
	delete(h.blocks, blockPair{u.UserID, u.Target})
	h.sendToUser(u.UserID, UnblockedEvent{Type: "unblocked", UserID: u.Target})
}

func (h *Hub) broadcastChannel(slug string, event interface{}) {
	subs := h.channels[slug]
	if subs == nil {
		return
	}
	for userID, conns := range subs.members {
		for conn := range conns {
			h.push(userID, conn, event)
		}
	}
}

func (h *Hub) sendToUser(userID string, event interface{}) {
	for conn := range h.socks[userID] {
		h.push(userID, conn, event)
	}
}

// push writes one event to one socket; a full queue drops the socket.
func (h *Hub) push(userID string, conn Outbound, event interface{}) {
	if conn.TrySend(event) {
		return
	}
	h.log.Warn("chat send queue full, dropping socket", zap.String("userId", userID))
	conn.Close(1009, "send queue overflow")
	h.handleDisconnect(Disconnect{UserID: userID, Conn: conn})
}
