package match

import (
	"context"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/pongarena/server/store"
)

// rematchOffer pairs the two participants after a terminal state. At most
// one offer exists per runtime; it is resolved exactly once.
type rematchOffer struct {
	from      string
	expiresAt time.Time
}

func (r *Runtime) handleRematchRequest(m RequestRematch) {
	if _, ok := r.seats[m.UserID]; !ok {
		return
	}
	if !r.state.Terminal() {
		r.sendTo(m.UserID, ErrorEvent{Type: "error", Code: CodeInvalidState})
		return
	}
	if r.rematch != nil {
		if r.rematch.from == m.UserID {
			return // duplicate request
		}
		// The other side asked too: that is an accept.
		r.acceptRematch(m.UserID)
		return
	}

	r.rematch = &rematchOffer{from: m.UserID, expiresAt: r.now().Add(r.cfg.RematchTTL)}
	r.rematchEpoch++
	epoch := r.rematchEpoch
	time.AfterFunc(r.cfg.RematchTTL, func() {
		r.eng.Send(r.self, rematchExpiredMsg{epoch: epoch}, nil)
	})
	r.sendTo(r.opponentOf(m.UserID), RematchRequestEvent{
		Type:      "rematch_request",
		From:      m.UserID,
		ExpiresAt: r.rematch.expiresAt.UnixMilli(),
	})
	r.log.Info("rematch requested", zap.String("from", m.UserID))
}

func (r *Runtime) handleRematchAccept(m AcceptRematch) {
	if _, ok := r.seats[m.UserID]; !ok {
		return
	}
	if r.rematch == nil || r.rematch.from == m.UserID {
		r.sendTo(m.UserID, ErrorEvent{Type: "error", Code: CodeInvalidState})
		return
	}
	r.acceptRematch(m.UserID)
}

func (r *Runtime) acceptRematch(acceptorID string) {
	next := &store.Match{
		ID:        ksuid.New().String(),
		P1ID:      r.p1ID,
		P2ID:      r.p2ID,
		State:     store.MatchWaiting,
		CreatedAt: r.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.deps.Matches.Create(ctx, next); err != nil {
		r.log.Error("create rematch", zap.Error(err))
		r.sendTo(acceptorID, ErrorEvent{Type: "error", Code: CodeInternal})
		return
	}
	r.clearRematch()
	r.broadcast(RematchAcceptEvent{Type: "rematch_accept", MatchID: next.ID})
	r.log.Info("rematch accepted", zap.String("nextMatchId", next.ID))
}

func (r *Runtime) handleRematchDecline(m DeclineRematch) {
	if _, ok := r.seats[m.UserID]; !ok {
		return
	}
	if r.rematch == nil {
		r.sendTo(m.UserID, ErrorEvent{Type: "error", Code: CodeInvalidState})
		return
	}
	r.clearRematch()
	r.broadcast(RematchDeclineEvent{Type: "rematch_decline", By: m.UserID})
	r.log.Info("rematch declined", zap.String("by", m.UserID))
}

func (r *Runtime) handleRematchExpired(m rematchExpiredMsg) {
	if r.rematch == nil || m.epoch != r.rematchEpoch {
		return
	}
	r.clearRematch()
	r.broadcast(RematchCancelledEvent{Type: "rematch_cancelled", Reason: "timeout"})
	r.log.Info("rematch expired")
}

// cancelRematchFor cancels a pending offer when a participant departs during
// the post-game window.
func (r *Runtime) cancelRematchFor(userID string) {
	if r.rematch == nil {
		return
	}
	r.clearRematch()
	r.broadcast(RematchCancelledEvent{Type: "rematch_cancelled", Reason: "disconnect"})
	r.log.Info("rematch cancelled by disconnect", zap.String("userId", userID))
}

func (r *Runtime) clearRematch() {
	r.rematch = nil
	r.rematchEpoch++
}
