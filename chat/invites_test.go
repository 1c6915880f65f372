package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/config"
	"github.com/pongarena/server/store"
)

// inbox records per-user broker notifications.
type inbox struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func newInbox() *inbox {
	return &inbox{events: make(map[string][]interface{})}
}

func (i *inbox) add(userID string, event interface{}) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.events[userID] = append(i.events[userID], event)
}

func (i *inbox) find(userID string, pred func(e interface{}) bool) interface{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, e := range i.events[userID] {
		if pred(e) {
			return e
		}
	}
	return nil
}

func (i *inbox) hasInviteError(userID, code string) bool {
	return i.find(userID, func(e interface{}) bool {
		ev, ok := e.(InviteErrorEvent)
		return ok && ev.Code == code
	}) != nil
}

func (i *inbox) inviteID(recipient string) string {
	e := i.find(recipient, func(e interface{}) bool { _, ok := e.(InviteEvent); return ok })
	if e == nil {
		return ""
	}
	return e.(InviteEvent).InviteID
}

type brokerHarness struct {
	eng     *actor.Engine
	pid     *actor.PID
	matches *store.MemoryMatchRepo
	box     *inbox
}

func newBrokerHarness(t *testing.T, cfg *config.Config) *brokerHarness {
	t.Helper()
	eng := actor.NewEngine()
	t.Cleanup(func() { eng.Shutdown(time.Second) })

	matches := store.NewMemoryMatchRepo()
	box := newInbox()
	broker := NewInviteBroker(cfg, BrokerDeps{
		Matches: matches,
		Log:     zap.NewNop(),
		Notify:  box.add,
	})
	pid := eng.SpawnNamed(actor.NewProps(func() actor.Actor { return broker }), "invites")
	require.NotNil(t, pid)
	return &brokerHarness{eng: eng, pid: pid, matches: matches, box: box}
}

func (h *brokerHarness) send(msg interface{}) {
	h.eng.Send(h.pid, msg, nil)
}

// invite sends an invite and waits until the recipient sees it.
func (h *brokerHarness) invite(t *testing.T, from, to string) string {
	t.Helper()
	h.send(SendInvite{From: from, To: to})
	var id string
	waitFor(t, func() bool {
		id = h.box.inviteID(to)
		return id != ""
	}, "recipient never saw invite")
	return id
}

func TestSelfInviteRejected(t *testing.T) {
	h := newBrokerHarness(t, config.Default())
	h.send(SendInvite{From: "alice", To: "alice"})
	waitFor(t, func() bool { return h.box.hasInviteError("alice", CodeSelfInvite) }, "self invite not rejected")
}

func TestDuplicateInviteRejected(t *testing.T) {
	h := newBrokerHarness(t, config.Default())
	h.invite(t, "alice", "bob")
	h.send(SendInvite{From: "alice", To: "bob"})
	waitFor(t, func() bool { return h.box.hasInviteError("alice", CodeDuplicate) }, "duplicate invite not rejected")
}

func TestAcceptCreatesWaitingMatch(t *testing.T) {
	h := newBrokerHarness(t, config.Default())
	id := h.invite(t, "alice", "bob")

	// Sender got the sent ack with the same id and a 30 s TTL.
	sent := h.box.find("alice", func(e interface{}) bool { _, ok := e.(InviteSentEvent); return ok })
	require.NotNil(t, sent)
	assert.Equal(t, id, sent.(InviteSentEvent).InviteID)

	h.send(RespondInvite{UserID: "bob", InviteID: id, Accepted: true})

	var matchID string
	waitFor(t, func() bool {
		e := h.box.find("alice", func(e interface{}) bool { _, ok := e.(InviteAcceptedEvent); return ok })
		if e == nil {
			return false
		}
		matchID = e.(InviteAcceptedEvent).MatchID
		return true
	}, "sender never saw accept")

	confirmed := h.box.find("bob", func(e interface{}) bool { _, ok := e.(InviteConfirmedEvent); return ok })
	require.NotNil(t, confirmed)
	assert.Equal(t, matchID, confirmed.(InviteConfirmedEvent).MatchID)

	m, err := h.matches.Get(context.Background(), matchID)
	require.NoError(t, err)
	assert.Equal(t, store.MatchWaiting, m.State)
	assert.Equal(t, "alice", m.P1ID)
	assert.Equal(t, "bob", m.P2ID)
}

func TestDeclineNotifiesBothSides(t *testing.T) {
	h := newBrokerHarness(t, config.Default())
	id := h.invite(t, "alice", "bob")

	h.send(RespondInvite{UserID: "bob", InviteID: id, Accepted: false})
	waitFor(t, func() bool {
		return h.box.find("alice", func(e interface{}) bool { _, ok := e.(InviteDeclinedEvent); return ok }) != nil
	}, "sender never saw decline")
	assert.NotNil(t, h.box.find("bob", func(e interface{}) bool { _, ok := e.(InviteCancelledEvent); return ok }))
	assert.Empty(t, h.matches.All())
}

func TestOnlyRecipientMayRespond(t *testing.T) {
	h := newBrokerHarness(t, config.Default())
	id := h.invite(t, "alice", "bob")

	h.send(RespondInvite{UserID: "alice", InviteID: id, Accepted: true})
	waitFor(t, func() bool { return h.box.hasInviteError("alice", CodeNotRecipient) }, "sender response not rejected")

	// The invite survives the bad response: the recipient can still accept.
	h.send(RespondInvite{UserID: "bob", InviteID: id, Accepted: true})
	waitFor(t, func() bool {
		return h.box.find("bob", func(e interface{}) bool { _, ok := e.(InviteConfirmedEvent); return ok }) != nil
	}, "recipient accept failed after bad response")
}

func TestInviteExpiresExactlyOnce(t *testing.T) {
	cfg := config.Default()
	cfg.InviteTTL = 20 * time.Millisecond
	h := newBrokerHarness(t, cfg)
	id := h.invite(t, "alice", "bob")

	isTimeout := func(e interface{}) bool {
		ev, ok := e.(InviteExpiredEvent)
		return ok && ev.InviteID == id && ev.Reason == "timeout"
	}
	waitFor(t, func() bool { return h.box.find("alice", isTimeout) != nil }, "sender never saw expiry")
	waitFor(t, func() bool { return h.box.find("bob", isTimeout) != nil }, "recipient never saw expiry")

	// The invite is gone; a late response finds nothing.
	h.send(RespondInvite{UserID: "bob", InviteID: id, Accepted: true})
	waitFor(t, func() bool { return h.box.hasInviteError("bob", CodeNotFound) }, "late response not rejected")
}

func TestDisconnectCancelsPendingInvites(t *testing.T) {
	h := newBrokerHarness(t, config.Default())
	id := h.invite(t, "alice", "bob")

	h.send(UserOffline{UserID: "bob"})
	waitFor(t, func() bool {
		return h.box.find("alice", func(e interface{}) bool {
			ev, ok := e.(InviteExpiredEvent)
			return ok && ev.InviteID == id && ev.Reason == "disconnect"
		}) != nil
	}, "sender never saw disconnect cancellation")
}

func TestInviteFloodRateLimited(t *testing.T) {
	cfg := config.Default()
	cfg.InviteRateLimit = 2
	h := newBrokerHarness(t, cfg)

	h.invite(t, "alice", "bob")
	h.invite(t, "alice", "carol")
	h.send(SendInvite{From: "alice", To: "dave"})
	waitFor(t, func() bool { return h.box.hasInviteError("alice", CodeRateLimit) }, "invite flood not limited")
	assert.Empty(t, h.box.inviteID("dave"))
}
