// Package tournament runs the announce-next state machine: one coordinator
// actor per tournament serializes queue pairing, result recording and
// subscriber fan-out, so every subscriber observes announce and result
// events in the same order.
package tournament

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/store"
)

const persistTimeout = 5 * time.Second

// ErrPlayerNotFound means the player id is not registered in the tournament.
var ErrPlayerNotFound = errors.New("tournament: player not found")

// ErrMatchNotAnnounced means the result targets a match that is not in the
// announced state.
var ErrMatchNotAnnounced = errors.New("tournament: match not announced")

// ErrBadWinner means the winner is not one of the match's players.
var ErrBadWinner = errors.New("tournament: winner not in match")

// Coordinator commands. REST operations go through Ask and receive replies;
// socket subscriptions are plain sends.

// Subscribe adds a socket to the tournament's subscription set. The current
// announced match, if any, is replayed to the new subscriber.
type Subscribe struct {
	Conn Outbound
}

// Unsubscribe removes a socket from the subscription set.
type Unsubscribe struct {
	Conn Outbound
}

// EnqueueCmd marks a registered player as queued for pairing.
type EnqueueCmd struct {
	PlayerID string
}

// DequeueCmd clears a player's queue flag.
type DequeueCmd struct {
	PlayerID string
}

// AnnounceNextCmd pops the two earliest-queued players into a new announced
// match. Idempotent while a match is already announced.
type AnnounceNextCmd struct{}

// RecordResultCmd completes the announced match.
type RecordResultCmd struct {
	MatchID  string
	P1Score  int
	P2Score  int
	WinnerID string
}

// AnnounceReply wraps AnnounceNextCmd's answer; Match is nil when fewer than
// two players are queued.
type AnnounceReply struct {
	Match *store.TournamentMatch
}

type okReply struct{}

// Coordinator is the single-writer state machine for one tournament.
type Coordinator struct {
	id      string
	repo    store.TournamentRepo
	matches store.MatchRepo
	log     *zap.Logger
	now     func() time.Time

	players   map[string]*store.TournamentPlayer
	bracket   map[string]*store.TournamentMatch
	announced *store.TournamentMatch
	maxOrder  int
	status    store.TournamentStatus
	subs      map[Outbound]bool
}

// NewCoordinator builds a coordinator; state is loaded from the repository
// when the actor starts.
func NewCoordinator(id string, repo store.TournamentRepo, matches store.MatchRepo, log *zap.Logger) *Coordinator {
	return &Coordinator{
		id:       id,
		repo:     repo,
		matches:  matches,
		log:      log.Named("tournament").With(zap.String("tournamentId", id)),
		now:      time.Now,
		players:  make(map[string]*store.TournamentPlayer),
		bracket:  make(map[string]*store.TournamentMatch),
		subs:     make(map[Outbound]bool),
	}
}

func (c *Coordinator) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case actor.Started:
		c.load()
	case actor.Stopping:
		for conn := range c.subs {
			conn.Close(1000, "tournament closed")
		}
	case Subscribe:
		c.handleSubscribe(msg)
	case Unsubscribe:
		delete(c.subs, msg.Conn)
		msg.Conn.TrySend(UnsubscribedEvent{Type: "unsubscribed", TournamentID: c.id})
	case EnqueueCmd:
		ctx.Reply(c.setQueued(msg.PlayerID, true))
	case DequeueCmd:
		ctx.Reply(c.setQueued(msg.PlayerID, false))
	case AnnounceNextCmd:
		c.handleAnnounceNext(ctx)
	case RecordResultCmd:
		c.handleRecordResult(ctx, msg)
	}
}

// load rebuilds in-memory state from the repository. Started is always the
// first mailbox message, so commands never race the load.
func (c *Coordinator) load() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	t, err := c.repo.Get(ctx, c.id)
	if err != nil {
		c.log.Error("load tournament", zap.Error(err))
		return
	}
	c.status = t.Status

	players, err := c.repo.Players(ctx, c.id)
	if err != nil {
		c.log.Error("load players", zap.Error(err))
		return
	}
	for _, p := range players {
		c.players[p.ID] = p
	}

	matches, err := c.repo.Matches(ctx, c.id)
	if err != nil {
		c.log.Error("load matches", zap.Error(err))
		return
	}
	for _, m := range matches {
		c.bracket[m.ID] = m
		if m.Order > c.maxOrder {
			c.maxOrder = m.Order
		}
		if m.Status == store.TMatchAnnounced {
			c.announced = m
		}
	}
	c.log.Info("coordinator loaded",
		zap.Int("players", len(c.players)),
		zap.Int("matches", len(c.bracket)))
}

func (c *Coordinator) handleSubscribe(s Subscribe) {
	c.subs[s.Conn] = true
	s.Conn.TrySend(SubscribedEvent{Type: "subscribed", TournamentID: c.id})
	if c.announced != nil {
		s.Conn.TrySend(c.announceEvent(c.announced))
	}
}

func (c *Coordinator) setQueued(playerID string, queued bool) interface{} {
	p, ok := c.players[playerID]
	if !ok {
		// The player may have registered after the coordinator loaded.
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		players, err := c.repo.Players(ctx, c.id)
		cancel()
		if err == nil {
			for _, fresh := range players {
				if _, known := c.players[fresh.ID]; !known {
					c.players[fresh.ID] = fresh
				}
			}
			p, ok = c.players[playerID]
		}
		if !ok {
			return ErrPlayerNotFound
		}
	}

	var at *time.Time
	if queued {
		if p.QueuedAt != nil {
			return okReply{} // already queued
		}
		now := c.now()
		at = &now
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.repo.SetQueued(ctx, playerID, at); err != nil {
		c.log.Error("persist queue flag", zap.Error(err))
		return err
	}
	p.QueuedAt = at
	return okReply{}
}

func (c *Coordinator) handleAnnounceNext(actx actor.Context) {
	if c.announced != nil {
		actx.Reply(AnnounceReply{Match: c.announced})
		return
	}

	queued := make([]*store.TournamentPlayer, 0, len(c.players))
	for _, p := range c.players {
		if p.QueuedAt != nil {
			queued = append(queued, p)
		}
	}
	if len(queued) < 2 {
		actx.Reply(AnnounceReply{})
		return
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].QueuedAt.Before(*queued[j].QueuedAt) })
	p1, p2 := queued[0], queued[1]

	now := c.now()
	m := &store.TournamentMatch{
		ID:           uuid.NewString(),
		TournamentID: c.id,
		P1ID:         p1.ID,
		P2ID:         p2.ID,
		Order:        c.maxOrder + 1,
		Status:       store.TMatchAnnounced,
		CreatedAt:    now,
		AnnouncedAt:  &now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.repo.CreateMatch(ctx, m); err != nil {
		c.log.Error("persist announced match", zap.Error(err))
		actx.Reply(err)
		return
	}
	if err := c.repo.SetQueued(ctx, p1.ID, nil); err != nil {
		c.log.Error("clear queue flag", zap.String("playerId", p1.ID), zap.Error(err))
	}
	if err := c.repo.SetQueued(ctx, p2.ID, nil); err != nil {
		c.log.Error("clear queue flag", zap.String("playerId", p2.ID), zap.Error(err))
	}
	p1.QueuedAt = nil
	p2.QueuedAt = nil
	c.createPlayable(ctx, m, p1, p2)

	c.bracket[m.ID] = m
	c.maxOrder = m.Order
	c.announced = m
	c.markRunning()

	c.broadcast(c.announceEvent(m))
	c.log.Info("match announced",
		zap.String("matchId", m.ID),
		zap.String("p1", p1.Alias),
		zap.String("p2", p2.Alias),
		zap.Int("order", m.Order))
	actx.Reply(AnnounceReply{Match: m})
}

func (c *Coordinator) markRunning() {
	if c.status != store.TournamentPending {
		return
	}
	c.status = store.TournamentRunning
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.repo.SetStatus(ctx, c.id, store.TournamentRunning, c.now()); err != nil {
		c.log.Error("mark running", zap.Error(err))
	}
}

func (c *Coordinator) handleRecordResult(actx actor.Context, r RecordResultCmd) {
	m, ok := c.bracket[r.MatchID]
	if !ok {
		actx.Reply(ErrMatchNotAnnounced)
		return
	}
	winnerID := c.resolveWinner(m, r.WinnerID)
	if m.Status == store.TMatchCompleted {
		// Re-recording an identical result is a no-op, not a conflict.
		if m.WinnerID != nil && *m.WinnerID == winnerID &&
			m.P1Score != nil && *m.P1Score == r.P1Score &&
			m.P2Score != nil && *m.P2Score == r.P2Score {
			actx.Reply(okReply{})
			return
		}
		actx.Reply(ErrMatchNotAnnounced)
		return
	}
	if m.Status != store.TMatchAnnounced {
		actx.Reply(ErrMatchNotAnnounced)
		return
	}
	if winnerID == "" {
		actx.Reply(ErrBadWinner)
		return
	}

	now := c.now()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.repo.CompleteMatch(ctx, m.ID, winnerID, r.P1Score, r.P2Score, now); err != nil {
		c.log.Error("persist result", zap.Error(err))
		actx.Reply(err)
		return
	}
	m.Status = store.TMatchCompleted
	m.WinnerID = &winnerID
	m.P1Score = &r.P1Score
	m.P2Score = &r.P2Score
	m.CompletedAt = &now
	if c.announced != nil && c.announced.ID == m.ID {
		c.announced = nil
	}

	c.broadcast(Event{
		Type:         "result",
		TournamentID: c.id,
		Payload: ResultPayload{
			MatchID:  m.ID,
			WinnerID: winnerID,
			P1Score:  r.P1Score,
			P2Score:  r.P2Score,
		},
	})
	c.log.Info("result recorded", zap.String("matchId", m.ID), zap.String("winnerId", winnerID))

	c.maybeComplete()
	actx.Reply(okReply{})
}

// resolveWinner maps the submitted winner to a tournament player id. The
// organizer may submit either the player id or the linked user id of one of
// the match's players; "" means neither matched.
func (c *Coordinator) resolveWinner(m *store.TournamentMatch, winnerID string) string {
	if winnerID == m.P1ID || winnerID == m.P2ID {
		return winnerID
	}
	for _, pid := range []string{m.P1ID, m.P2ID} {
		if p, ok := c.players[pid]; ok && p.UserID != nil && *p.UserID == winnerID {
			return p.ID
		}
	}
	return ""
}

// createPlayable writes the pong match row backing an announced pairing. The
// row shares the tournament match id, so the runtime's completion hook can
// route the result back here. Pairings with an unlinked player have no
// playable row; the organizer records their result directly.
func (c *Coordinator) createPlayable(ctx context.Context, m *store.TournamentMatch, p1, p2 *store.TournamentPlayer) {
	if p1.UserID == nil || p2.UserID == nil {
		return
	}
	err := c.matches.Create(ctx, &store.Match{
		ID:           m.ID,
		TournamentID: &c.id,
		P1ID:         *p1.UserID,
		P2ID:         *p2.UserID,
		State:        store.MatchWaiting,
		CreatedAt:    c.now(),
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		c.log.Error("create playable match", zap.String("matchId", m.ID), zap.Error(err))
	}
}

// maybeComplete finishes the tournament when nothing is pending or announced
// and the queue is empty.
func (c *Coordinator) maybeComplete() {
	if c.status == store.TournamentCompleted {
		return
	}
	for _, m := range c.bracket {
		if m.Status != store.TMatchCompleted {
			return
		}
	}
	for _, p := range c.players {
		if p.QueuedAt != nil {
			return
		}
	}
	c.status = store.TournamentCompleted
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.repo.SetStatus(ctx, c.id, store.TournamentCompleted, c.now()); err != nil {
		c.log.Error("mark completed", zap.Error(err))
	}
	c.log.Info("tournament completed")
}

func (c *Coordinator) announceEvent(m *store.TournamentMatch) Event {
	payload := AnnouncePayload{MatchID: m.ID, P1: m.P1ID, P2: m.P2ID, Order: m.Order}
	if p, ok := c.players[m.P1ID]; ok {
		payload.P1Alias = p.Alias
	}
	if p, ok := c.players[m.P2ID]; ok {
		payload.P2Alias = p.Alias
	}
	return Event{Type: "announceNext", TournamentID: c.id, Payload: payload}
}

func (c *Coordinator) broadcast(event Event) {
	var slow []Outbound
	for conn := range c.subs {
		if !conn.TrySend(event) {
			slow = append(slow, conn)
		}
	}
	for _, conn := range slow {
		c.log.Warn("subscriber send queue full, dropping")
		conn.Close(1009, "send queue overflow")
		delete(c.subs, conn)
	}
}
