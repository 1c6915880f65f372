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

// Invite is an ephemeral offer from one user to another. It lives only in
// the broker's memory and is removed exactly once.
type Invite struct {
	ID          string
	SenderID    string
	RecipientID string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// BrokerDeps are the invitation broker's collaborators. Notify reaches a
// user's chat sockets through the hub mailbox.
type BrokerDeps struct {
	Matches store.MatchRepo
	Log     *zap.Logger
	Notify  func(userID string, event interface{})
}

type inviteKey struct {
	sender, recipient string
}

type inviteWindow struct {
	start time.Time
	count int
}

// InviteBroker owns all pending invites on a single command queue.
type InviteBroker struct {
	cfg  *config.Config
	deps BrokerDeps
	log  *zap.Logger
	now  func() time.Time

	invites map[string]*Invite
	pending map[inviteKey]string // unresolved sender->recipient pairs
	windows map[string]*inviteWindow

	self *actor.PID
	eng  *actor.Engine
}

// NewInviteBroker builds the broker; it starts processing when spawned.
func NewInviteBroker(cfg *config.Config, deps BrokerDeps) *InviteBroker {
	return &InviteBroker{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.Named("invites"),
		now:     time.Now,
		invites: make(map[string]*Invite),
		pending: make(map[inviteKey]string),
		windows: make(map[string]*inviteWindow),
	}
}

func (b *InviteBroker) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case actor.Started:
		b.self = ctx.Self()
		b.eng = ctx.Engine()
	case SendInvite:
		b.handleSend(msg)
	case RespondInvite:
		b.handleRespond(msg)
	case UserOffline:
		b.handleOffline(msg)
	case inviteExpiredMsg:
		b.handleExpired(msg)
	}
}

func (b *InviteBroker) notify(userID string, event interface{}) {
	if b.deps.Notify != nil {
		b.deps.Notify(userID, event)
	}
}

func (b *InviteBroker) handleSend(m SendInvite) {
	if m.To == "" || m.To == m.From {
		b.notify(m.From, InviteErrorEvent{Type: "match_invite_error", Code: CodeSelfInvite})
		return
	}
	if _, dup := b.pending[inviteKey{m.From, m.To}]; dup {
		b.notify(m.From, InviteErrorEvent{Type: "match_invite_error", Code: CodeDuplicate})
		return
	}
	if b.overRateLimit(m.From) {
		b.notify(m.From, InviteErrorEvent{Type: "match_invite_error", Code: CodeRateLimit})
		return
	}

	now := b.now()
	inv := &Invite{
		ID:          ksuid.New().String(),
		SenderID:    m.From,
		RecipientID: m.To,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.cfg.InviteTTL),
	}
	b.invites[inv.ID] = inv
	b.pending[inviteKey{m.From, m.To}] = inv.ID

	id := inv.ID
	time.AfterFunc(b.cfg.InviteTTL, func() {
		b.eng.Send(b.self, inviteExpiredMsg{inviteID: id}, nil)
	})

	b.notify(m.From, InviteSentEvent{Type: "match_invite_sent", InviteID: inv.ID, To: m.To, ExpiresAt: inv.ExpiresAt.UnixMilli()})
	b.notify(m.To, InviteEvent{Type: "match_invite", InviteID: inv.ID, From: m.From, ExpiresAt: inv.ExpiresAt.UnixMilli()})
	b.log.Info("invite sent", zap.String("inviteId", inv.ID), zap.String("from", m.From), zap.String("to", m.To))
}

func (b *InviteBroker) overRateLimit(userID string) bool {
	now := b.now()
	w := b.windows[userID]
	if w == nil || now.Sub(w.start) >= time.Minute {
		b.windows[userID] = &inviteWindow{start: now, count: 1}
		return false
	}
	w.count++
	if w.count > b.cfg.InviteRateLimit {
		b.log.Warn("invite rate limit hit", zap.String("userId", userID))
		return true
	}
	return false
}

func (b *InviteBroker) handleRespond(m RespondInvite) {
	inv, ok := b.invites[m.InviteID]
	if !ok {
		b.notify(m.UserID, InviteErrorEvent{Type: "match_invite_error", Code: CodeNotFound})
		return
	}
	if m.UserID != inv.RecipientID {
		b.notify(m.UserID, InviteErrorEvent{Type: "match_invite_error", Code: CodeNotRecipient})
		return
	}
	b.remove(inv)

	if !m.Accepted {
		b.notify(inv.SenderID, InviteDeclinedEvent{Type: "match_invite_declined", InviteID: inv.ID})
		b.notify(inv.RecipientID, InviteCancelledEvent{Type: "match_invite_cancelled", InviteID: inv.ID})
		b.log.Info("invite declined", zap.String("inviteId", inv.ID))
		return
	}

	match := &store.Match{
		ID:        ksuid.New().String(),
		P1ID:      inv.SenderID,
		P2ID:      inv.RecipientID,
		State:     store.MatchWaiting,
		CreatedAt: b.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := b.deps.Matches.Create(ctx, match); err != nil {
		b.log.Error("create match from invite", zap.Error(err))
		b.notify(inv.RecipientID, InviteErrorEvent{Type: "match_invite_error", Code: CodeInternal})
		return
	}

	b.notify(inv.SenderID, InviteAcceptedEvent{Type: "match_invite_accepted", InviteID: inv.ID, MatchID: match.ID})
	b.notify(inv.RecipientID, InviteConfirmedEvent{Type: "match_invite_confirmed", InviteID: inv.ID, MatchID: match.ID})
	b.log.Info("invite accepted", zap.String("inviteId", inv.ID), zap.String("matchId", match.ID))
}

func (b *InviteBroker) handleExpired(m inviteExpiredMsg) {
	inv, ok := b.invites[m.inviteID]
	if !ok {
		return // already resolved
	}
	b.remove(inv)
	expired := InviteExpiredEvent{Type: "match_invite_expired", InviteID: inv.ID, Reason: "timeout"}
	b.notify(inv.SenderID, expired)
	b.notify(inv.RecipientID, expired)
	b.log.Info("invite expired", zap.String("inviteId", inv.ID))
}

func (b *InviteBroker) handleOffline(m UserOffline) {
	for _, inv := range b.invites {
		if inv.SenderID != m.UserID && inv.RecipientID != m.UserID {
			continue
		}
		b.remove(inv)
		expired := InviteExpiredEvent{Type: "match_invite_expired", InviteID: inv.ID, Reason: "disconnect"}
		b.notify(inv.SenderID, expired)
		b.notify(inv.RecipientID, expired)
		b.log.Info("invite cancelled by disconnect", zap.String("inviteId", inv.ID), zap.String("userId", m.UserID))
	}
}

// remove resolves an invite; every resolution path goes through here exactly
// once because it deletes the map entry the caller looked up.
func (b *InviteBroker) remove(inv *Invite) {
	delete(b.invites, inv.ID)
	delete(b.pending, inviteKey{inv.SenderID, inv.RecipientID})
}
