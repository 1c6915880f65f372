package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/pongarena/server/store"
)

func (h *testServer) dial(path, token string) *websocket.Conn {
	h.t.Helper()
	u := "ws" + strings.TrimPrefix(h.ts.URL, "http") + path
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	c, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { c.Close() })
	return c
}

// readEvent skips frames until one of the wanted type arrives.
func readEvent(t *testing.T, c *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, c.SetReadDeadline(deadline))
		var ev map[string]interface{}
		require.NoError(t, c.ReadJSON(&ev), "waiting for %q", wantType)
		if ev["type"] == wantType {
			return ev
		}
	}
}

// expectClose drains the socket until the peer closes it and asserts the
// close code.
func expectClose(t *testing.T, c *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, code, ce.Code)
			return
		}
	}
}

func (h *testServer) seedMatch(id, p1, p2 string) {
	h.t.Helper()
	require.NoError(h.t, h.st.Matches.Create(context.Background(), &store.Match{
		ID:        id,
		P1ID:      p1,
		P2ID:      p2,
		State:     store.MatchWaiting,
		CreatedAt: time.Now(),
	}))
}

func TestPongSocketRejectsBadToken(t *testing.T) {
	h := newTestServer(t)
	h.seedMatch("m-1", "alice", "bob")

	c := h.dial("/ws/pong/m-1", "garbage")
	expectClose(t, c, 4401)
}

func TestPongSocketUnknownMatch(t *testing.T) {
	h := newTestServer(t)

	c := h.dial("/ws/pong/no-such-match", h.token("alice"))
	expectClose(t, c, 4404)
}

func TestPongSocketRejectsNonParticipant(t *testing.T) {
	h := newTestServer(t)
	h.seedMatch("m-1", "alice", "bob")

	c := h.dial("/ws/pong/m-1", h.token("carol"))
	expectClose(t, c, 4401)
}

func TestPongSocketTokenInQueryParameter(t *testing.T) {
	h := newTestServer(t)
	h.seedMatch("m-1", "alice", "bob")

	u := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/pong/m-1?token=" + url.QueryEscape(h.token("alice"))
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer c.Close()

	ev := readEvent(t, c, "connection_ok")
	require.Equal(t, "alice", ev["userId"])
	require.Equal(t, "m-1", ev["matchId"])
}

func TestPongSocketPingAndMalformedFrames(t *testing.T) {
	h := newTestServer(t)
	h.seedMatch("m-1", "alice", "bob")

	c := h.dial("/ws/pong/m-1", h.token("alice"))
	readEvent(t, c, "connection_ok")
	readEvent(t, c, "joined")

	// Malformed JSON is answered inline; the connection stays open.
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := readEvent(t, c, "error")
	require.Equal(t, "INVALID_INPUT", ev["code"])

	require.NoError(t, c.WriteJSON(map[string]string{"type": "no_such_command"}))
	ev = readEvent(t, c, "error")
	require.Equal(t, "INVALID_INPUT", ev["code"])

	require.NoError(t, c.WriteJSON(map[string]string{"type": "ping"}))
	ev = readEvent(t, c, "pong")
	require.NotZero(t, ev["timestamp"])
}

func TestPongSocketBothReadyStartsCountdown(t *testing.T) {
	h := newTestServer(t)
	h.seedMatch("m-1", "alice", "bob")

	a := h.dial("/ws/pong/m-1", h.token("alice"))
	b := h.dial("/ws/pong/m-1", h.token("bob"))
	readEvent(t, a, "connection_ok")
	readEvent(t, b, "connection_ok")

	require.NoError(t, a.WriteJSON(map[string]string{"type": "ready"}))
	require.NoError(t, b.WriteJSON(map[string]string{"type": "ready"}))

	for _, c := range []*websocket.Conn{a, b} {
		ev := readEvent(t, c, "countdown")
		require.Equal(t, float64(3), ev["seconds"])
	}
}

func TestChatSocketChannelFlow(t *testing.T) {
	h := newTestServer(t)
	h.chatRepo.AddChannel(&store.ChatChannel{ID: "ch-general", Slug: "general", Title: "General"})
	h.chatRepo.AddMember("ch-general", "alice")
	h.chatRepo.AddMember("ch-general", "bob")

	a := h.dial("/ws/chat", h.token("alice"))
	b := h.dial("/ws/chat", h.token("bob"))
	readEvent(t, a, "welcome")
	readEvent(t, b, "welcome")

	require.NoError(t, a.WriteJSON(map[string]string{"type": "join", "room": "general"}))
	require.NoError(t, b.WriteJSON(map[string]string{"type": "join", "room": "general"}))
	readEvent(t, a, "joined")
	readEvent(t, b, "joined")

	require.NoError(t, a.WriteJSON(map[string]string{"type": "channel", "room": "general", "body": "hello"}))
	ev := readEvent(t, b, "channel")
	require.Equal(t, "alice", ev["from"])
	require.Equal(t, "hello", ev["content"])

	// Non-members are told so inline.
	c := h.dial("/ws/chat", h.token("carol"))
	readEvent(t, c, "welcome")
	require.NoError(t, c.WriteJSON(map[string]string{"type": "join", "room": "general"}))
	ev = readEvent(t, c, "error")
	require.Equal(t, "NOT_A_MEMBER", ev["error"])

	require.NoError(t, a.WriteJSON(map[string]string{"type": "ping"}))
	readEvent(t, a, "pong")
}

func TestChatInviteAcceptCreatesMatch(t *testing.T) {
	h := newTestServer(t)

	a := h.dial("/ws/chat", h.token("alice"))
	b := h.dial("/ws/chat", h.token("bob"))
	readEvent(t, a, "welcome")
	readEvent(t, b, "welcome")

	require.NoError(t, a.WriteJSON(map[string]string{"type": "match_invite", "to": "bob"}))
	inv := readEvent(t, b, "match_invite")
	require.Equal(t, "alice", inv["from"])
	inviteID := inv["inviteId"].(string)

	require.NoError(t, b.WriteJSON(map[string]interface{}{
		"type": "match_invite_response", "inviteId": inviteID, "accepted": true,
	}))
	acc := readEvent(t, a, "match_invite_accepted")
	matchID := acc["matchId"].(string)

	m, err := h.st.Matches.Get(context.Background(), matchID)
	require.NoError(t, err)
	require.Equal(t, store.MatchWaiting, m.State)
	require.Equal(t, "alice", m.P1ID)
	require.Equal(t, "bob", m.P2ID)
}

func TestTournamentSocketObservesAnnouncement(t *testing.T) {
	h := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, h.st.Tournaments.Create(ctx, &store.Tournament{
		ID: "t-1", Name: "Friday Cup", Status: store.TournamentPending, CreatedAt: time.Now(),
	}))
	for _, id := range []string{"p-1", "p-2"} {
		require.NoError(t, h.st.Tournaments.AddPlayer(ctx, &store.TournamentPlayer{
			ID: id, TournamentID: "t-1", Alias: "alias-" + id, CreatedAt: time.Now(),
		}))
		require.NoError(t, h.tournaments.Enqueue("t-1", id))
	}

	c := h.dial("/ws/tournament", h.token("spectator"))
	require.NoError(t, c.WriteJSON(map[string]string{"type": "subscribe", "tournamentId": "t-1"}))
	readEvent(t, c, "subscribed")

	announced, err := h.tournaments.AnnounceNext("t-1")
	require.NoError(t, err)
	require.NotNil(t, announced)

	ev := readEvent(t, c, "announceNext")
	require.Equal(t, "t-1", ev["tournamentId"])
	payload := ev["payload"].(map[string]interface{})
	require.Equal(t, announced.ID, payload["matchId"])

	require.NoError(t, c.WriteJSON(map[string]string{"type": "ping"}))
	readEvent(t, c, "pong")
}

func TestTournamentSocketUnknownTournament(t *testing.T) {
	h := newTestServer(t)
	require.NoError(t, h.st.Tournaments.Create(context.Background(), &store.Tournament{
		ID: "t-1", Name: "Friday Cup", Status: store.TournamentPending, CreatedAt: time.Now(),
	}))

	c := h.dial("/ws/tournament", h.token("spectator"))
	require.NoError(t, c.WriteJSON(map[string]string{"type": "subscribe", "tournamentId": "no-such-tournament"}))
	ev := readEvent(t, c, "error")
	require.Equal(t, "NOT_FOUND", ev["error"])

	// The socket survives and can still follow a real tournament.
	require.NoError(t, c.WriteJSON(map[string]string{"type": "subscribe", "tournamentId": "t-1"}))
	readEvent(t, c, "subscribed")
}

func TestTournamentMatchForfeitReportsResult(t *testing.T) {
	h := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, h.st.Tournaments.Create(ctx, &store.Tournament{
		ID: "t-1", Name: "Friday Cup", Status: store.TournamentPending, CreatedAt: time.Now(),
	}))
	for _, p := range []struct{ id, user string }{{"p-1", "alice"}, {"p-2", "bob"}} {
		user := p.user
		require.NoError(t, h.st.Tournaments.AddPlayer(ctx, &store.TournamentPlayer{
			ID: p.id, TournamentID: "t-1", UserID: &user, Alias: user, CreatedAt: time.Now(),
		}))
		require.NoError(t, h.tournaments.Enqueue("t-1", p.id))
	}

	viewer := h.dial("/ws/tournament", h.token("spectator"))
	require.NoError(t, viewer.WriteJSON(map[string]string{"type": "subscribe", "tournamentId": "t-1"}))
	readEvent(t, viewer, "subscribed")

	announced, err := h.tournaments.AnnounceNext("t-1")
	require.NoError(t, err)
	require.NotNil(t, announced)

	// The announcement wrote a playable match row under the same id.
	row, err := h.st.Matches.Get(ctx, announced.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", row.P1ID)
	require.NotNil(t, row.TournamentID)

	a := h.dial("/ws/pong/"+announced.ID, h.token("alice"))
	b := h.dial("/ws/pong/"+announced.ID, h.token("bob"))
	readEvent(t, a, "connection_ok")
	readEvent(t, b, "connection_ok")

	require.NoError(t, b.WriteJSON(map[string]string{"type": "forfeit"}))
	readEvent(t, a, "game_over")

	// The completion hook carries the outcome back into the bracket.
	ev := readEvent(t, viewer, "result")
	payload := ev["payload"].(map[string]interface{})
	require.Equal(t, announced.ID, payload["matchId"])
	require.Equal(t, "p-1", payload["winnerId"])
}

func TestTournamentSocketRejectsBadToken(t *testing.T) {
	h := newTestServer(t)

	c := h.dial("/ws/tournament", "garbage")
	expectClose(t, c, 4401)
}
