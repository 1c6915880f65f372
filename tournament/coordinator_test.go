package tournament

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/store"
)

// subConn records broadcast events in arrival order.
type subConn struct {
	mu     sync.Mutex
	events []interface{}
}

func (c *subConn) TrySend(event interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

func (c *subConn) Close(int, string) {}

// broadcastTypes returns the announce/result sequence, ignoring acks.
func (c *subConn) broadcastTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		if ev, ok := e.(Event); ok {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (c *subConn) lastAnnounce() *AnnouncePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if ev, ok := c.events[i].(Event); ok && ev.Type == "announceNext" {
			p := ev.Payload.(AnnouncePayload)
			return &p
		}
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

const tournamentID = "t-1"

type coordHarness struct {
	mgr     *Manager
	repo    *store.MemoryTournamentRepo
	matches store.MatchRepo
}

func newCoordHarness(t *testing.T) *coordHarness {
	t.Helper()
	eng := actor.NewEngine()
	t.Cleanup(func() { eng.Shutdown(time.Second) })

	repo := store.NewMemoryTournamentRepo()
	require.NoError(t, repo.Create(context.Background(), &store.Tournament{
		ID:        tournamentID,
		Name:      "Friday Cup",
		Status:    store.TournamentPending,
		CreatedAt: time.Now(),
	}))

	matches := store.NewMemoryMatchRepo()
	return &coordHarness{mgr: NewManager(eng, repo, matches, zap.NewNop()), repo: repo, matches: matches}
}

func (h *coordHarness) addPlayer(t *testing.T, id, alias string) {
	t.Helper()
	require.NoError(t, h.repo.AddPlayer(context.Background(), &store.TournamentPlayer{
		ID:           id,
		TournamentID: tournamentID,
		Alias:        alias,
		CreatedAt:    time.Now(),
	}))
}

func (h *coordHarness) addLinkedPlayer(t *testing.T, id, alias, userID string) {
	t.Helper()
	require.NoError(t, h.repo.AddPlayer(context.Background(), &store.TournamentPlayer{
		ID:           id,
		TournamentID: tournamentID,
		UserID:       &userID,
		Alias:        alias,
		CreatedAt:    time.Now(),
	}))
}

func (h *coordHarness) status(t *testing.T) store.TournamentStatus {
	t.Helper()
	tour, err := h.repo.Get(context.Background(), tournamentID)
	require.NoError(t, err)
	return tour.Status
}

func TestAnnounceNeedsTwoQueuedPlayers(t *testing.T) {
	h := newCoordHarness(t)
	h.addPlayer(t, "p1", "ada")

	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))

	m, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestAnnouncePairsEarliestQueued(t *testing.T) {
	h := newCoordHarness(t)
	h.addPlayer(t, "p1", "ada")
	h.addPlayer(t, "p2", "grace")
	h.addPlayer(t, "p3", "linus")

	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p2"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p3"))

	m, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "p1", m.P1ID)
	assert.Equal(t, "p2", m.P2ID)
	assert.Equal(t, 1, m.Order)
	assert.Equal(t, store.TMatchAnnounced, m.Status)

	// Queue flags of the paired players are cleared; p3 still waits.
	players, err := h.repo.Players(context.Background(), tournamentID)
	require.NoError(t, err)
	for _, p := range players {
		if p.ID == "p3" {
			assert.NotNil(t, p.QueuedAt)
		} else {
			assert.Nil(t, p.QueuedAt)
		}
	}
	assert.Equal(t, store.TournamentRunning, h.status(t))
}

func TestAnnounceIdempotentWhileMatchAnnounced(t *testing.T) {
	h := newCoordHarness(t)
	h.addPlayer(t, "p1", "ada")
	h.addPlayer(t, "p2", "grace")
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p2"))

	first, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	matches, err := h.repo.Matches(context.Background(), tournamentID)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRecordResultValidations(t *testing.T) {
	h := newCoordHarness(t)
	h.addPlayer(t, "p1", "ada")
	h.addPlayer(t, "p2", "grace")
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p2"))

	m, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, m)

	err = h.mgr.RecordResult(tournamentID, "no-such-match", 11, 5, "p1")
	assert.ErrorIs(t, err, ErrMatchNotAnnounced)

	err = h.mgr.RecordResult(tournamentID, m.ID, 11, 5, "p9")
	assert.ErrorIs(t, err, ErrBadWinner)

	require.NoError(t, h.mgr.RecordResult(tournamentID, m.ID, 11, 5, "p1"))

	// Identical re-record is a no-op, a different one is rejected.
	require.NoError(t, h.mgr.RecordResult(tournamentID, m.ID, 11, 5, "p1"))
	err = h.mgr.RecordResult(tournamentID, m.ID, 5, 11, "p2")
	assert.ErrorIs(t, err, ErrMatchNotAnnounced)
}

func TestEnqueueUnknownPlayer(t *testing.T) {
	h := newCoordHarness(t)
	err := h.mgr.Enqueue(tournamentID, "ghost")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestSubscribersObserveIdenticalOrder(t *testing.T) {
	h := newCoordHarness(t)
	for _, p := range []struct{ id, alias string }{
		{"p1", "ada"}, {"p2", "grace"}, {"p3", "linus"}, {"p4", "dennis"},
	} {
		h.addPlayer(t, p.id, p.alias)
	}

	x, y := &subConn{}, &subConn{}
	h.mgr.Subscribe(tournamentID, x)
	h.mgr.Subscribe(tournamentID, y)

	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p2"))
	m1, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, m1)
	require.NoError(t, h.mgr.RecordResult(tournamentID, m1.ID, 11, 5, "p1"))

	require.NoError(t, h.mgr.Enqueue(tournamentID, "p3"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p4"))
	m2, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, m2)
	assert.Equal(t, 2, m2.Order)

	expected := []string{"announceNext", "result", "announceNext"}
	waitFor(t, func() bool { return len(x.broadcastTypes()) == 3 }, "first subscriber missed events")
	waitFor(t, func() bool { return len(y.broadcastTypes()) == 3 }, "second subscriber missed events")
	assert.Equal(t, expected, x.broadcastTypes())
	assert.Equal(t, expected, y.broadcastTypes())

	// A late subscriber is caught up with the currently announced match.
	z := &subConn{}
	h.mgr.Subscribe(tournamentID, z)
	waitFor(t, func() bool { return z.lastAnnounce() != nil }, "late subscriber got no replay")
	assert.Equal(t, m2.ID, z.lastAnnounce().MatchID)
}

func TestAnnounceCreatesPlayableMatchForLinkedPlayers(t *testing.T) {
	h := newCoordHarness(t)
	h.addLinkedPlayer(t, "p1", "ada", "u-ada")
	h.addLinkedPlayer(t, "p2", "grace", "u-grace")
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p2"))

	m, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, m)

	row, err := h.matches.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-ada", row.P1ID)
	assert.Equal(t, "u-grace", row.P2ID)
	assert.Equal(t, store.MatchWaiting, row.State)
	require.NotNil(t, row.TournamentID)
	assert.Equal(t, tournamentID, *row.TournamentID)
}

func TestAnnounceSkipsPlayableMatchForUnlinkedPlayers(t *testing.T) {
	h := newCoordHarness(t)
	h.addPlayer(t, "p1", "ada")
	h.addLinkedPlayer(t, "p2", "grace", "u-grace")
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p2"))

	m, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = h.matches.Get(context.Background(), m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordResultAcceptsLinkedUserID(t *testing.T) {
	h := newCoordHarness(t)
	h.addLinkedPlayer(t, "p1", "ada", "u-ada")
	h.addLinkedPlayer(t, "p2", "grace", "u-grace")
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p2"))

	m, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, m)

	// The completion hook reports the winner by user id; it lands as the
	// player id.
	require.NoError(t, h.mgr.RecordResult(tournamentID, m.ID, 11, 4, "u-ada"))

	matches, err := h.repo.Matches(context.Background(), tournamentID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NotNil(t, matches[0].WinnerID)
	assert.Equal(t, "p1", *matches[0].WinnerID)

	// Re-recording the same result by player id is still a no-op.
	require.NoError(t, h.mgr.RecordResult(tournamentID, m.ID, 11, 4, "p1"))
}

func TestManagerRejectsUnknownTournament(t *testing.T) {
	h := newCoordHarness(t)

	assert.ErrorIs(t, h.mgr.Enqueue("no-such-tournament", "p1"), store.ErrNotFound)
	assert.ErrorIs(t, h.mgr.Dequeue("no-such-tournament", "p1"), store.ErrNotFound)
	_, err := h.mgr.AnnounceNext("no-such-tournament")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, h.mgr.RecordResult("no-such-tournament", "m", 1, 0, "p1"), store.ErrNotFound)

	assert.False(t, h.mgr.Subscribe("no-such-tournament", &subConn{}))
	assert.True(t, h.mgr.Subscribe(tournamentID, &subConn{}))
}

func TestTournamentCompletesWhenNothingRemains(t *testing.T) {
	h := newCoordHarness(t)
	h.addPlayer(t, "p1", "ada")
	h.addPlayer(t, "p2", "grace")
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p1"))
	require.NoError(t, h.mgr.Enqueue(tournamentID, "p2"))

	m, err := h.mgr.AnnounceNext(tournamentID)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, h.mgr.RecordResult(tournamentID, m.ID, 11, 5, "p2"))

	waitFor(t, func() bool { return h.status(t) == store.TournamentCompleted }, "tournament never completed")
}
