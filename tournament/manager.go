package tournament

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/store"
)

const askTimeout = 5 * time.Second

// Manager spawns coordinators on demand and fronts their mailboxes with a
// synchronous API for the REST layer. One coordinator per tournament.
type Manager struct {
	actors  *actor.Engine
	repo    store.TournamentRepo
	matches store.MatchRepo
	log     *zap.Logger

	mu   sync.Mutex
	live map[string]*actor.PID
}

// NewManager builds the manager. matches is the pong match repository the
// coordinators write playable rows into.
func NewManager(actors *actor.Engine, repo store.TournamentRepo, matches store.MatchRepo, log *zap.Logger) *Manager {
	return &Manager{actors: actors, repo: repo, matches: matches, log: log, live: make(map[string]*actor.PID)}
}

// Coordinator returns the coordinator for the tournament, spawning it on
// first use. Unknown tournaments never get a coordinator; nil marks them.
func (m *Manager) Coordinator(tournamentID string) *actor.PID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pid, ok := m.live[tournamentID]; ok {
		return pid
	}
	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	_, err := m.repo.Get(ctx, tournamentID)
	cancel()
	if err != nil {
		return nil
	}
	coord := NewCoordinator(tournamentID, m.repo, m.matches, m.log)
	pid := m.actors.SpawnNamed(actor.NewProps(func() actor.Actor { return coord }), "tournament-"+tournamentID)
	if pid == nil {
		return nil // engine shutting down
	}
	m.live[tournamentID] = pid
	return pid
}

// Subscribe adds a socket to the tournament's subscription set. Returns false
// when the tournament does not exist.
func (m *Manager) Subscribe(tournamentID string, conn Outbound) bool {
	pid := m.Coordinator(tournamentID)
	if pid == nil {
		return false
	}
	m.actors.Send(pid, Subscribe{Conn: conn}, nil)
	return true
}

// Unsubscribe removes a socket from the subscription set.
func (m *Manager) Unsubscribe(tournamentID string, conn Outbound) {
	m.mu.Lock()
	pid, ok := m.live[tournamentID]
	m.mu.Unlock()
	if ok {
		m.actors.Send(pid, Unsubscribe{Conn: conn}, nil)
	}
}

// Enqueue marks a registered player as queued.
func (m *Manager) Enqueue(tournamentID, playerID string) error {
	pid := m.Coordinator(tournamentID)
	if pid == nil {
		return store.ErrNotFound
	}
	_, err := m.actors.Ask(pid, EnqueueCmd{PlayerID: playerID}, askTimeout)
	return err
}

// Dequeue clears a player's queue flag.
func (m *Manager) Dequeue(tournamentID, playerID string) error {
	pid := m.Coordinator(tournamentID)
	if pid == nil {
		return store.ErrNotFound
	}
	_, err := m.actors.Ask(pid, DequeueCmd{PlayerID: playerID}, askTimeout)
	return err
}

// AnnounceNext pairs the two earliest-queued players. Returns nil when fewer
// than two are queued; returns the already-announced match unchanged when
// one exists.
func (m *Manager) AnnounceNext(tournamentID string) (*store.TournamentMatch, error) {
	pid := m.Coordinator(tournamentID)
	if pid == nil {
		return nil, store.ErrNotFound
	}
	res, err := m.actors.Ask(pid, AnnounceNextCmd{}, askTimeout)
	if err != nil {
		return nil, err
	}
	reply, ok := res.(AnnounceReply)
	if !ok {
		return nil, fmt.Errorf("tournament: unexpected announce reply %T", res)
	}
	return reply.Match, nil
}

// RecordResult completes the announced match.
func (m *Manager) RecordResult(tournamentID, matchID string, p1Score, p2Score int, winnerID string) error {
	pid := m.Coordinator(tournamentID)
	if pid == nil {
		return store.ErrNotFound
	}
	_, err := m.actors.Ask(pid, RecordResultCmd{
		MatchID:  matchID,
		P1Score:  p1Score,
		P2Score:  p2Score,
		WinnerID: winnerID,
	}, askTimeout)
	return err
}
