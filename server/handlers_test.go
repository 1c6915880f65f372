package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/auth"
	"github.com/pongarena/server/chat"
	"github.com/pongarena/server/config"
	"github.com/pongarena/server/match"
	"github.com/pongarena/server/store"
	"github.com/pongarena/server/tournament"
)

type testServer struct {
	t           *testing.T
	ts          *httptest.Server
	cfg         *config.Config
	st          *store.Store
	gate        *auth.Gate
	eng         *actor.Engine
	tournaments *tournament.Manager
	chatRepo    *store.MemoryChatRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.IdlePingInterval = time.Second

	log := zap.NewNop()
	st := store.NewMemoryStore()
	codec := auth.NewTokenCodec("test-access-secret-0123456789ab", "test-refresh-secret-0123456789a", time.Minute, time.Hour)
	gate := auth.NewGate(codec, st.Sessions)
	eng := actor.NewEngine()
	tournaments := tournament.NewManager(eng, st.Tournaments, st.Matches, log)
	registry := match.NewRegistry(eng, cfg, st.Matches, log, func(m *store.Match) {
		if m.TournamentID != nil && m.WinnerID != nil {
			tournaments.RecordResult(*m.TournamentID, m.ID, m.P1Score, m.P2Score, *m.WinnerID)
		}
	})

	// Hub and broker reach each other through the engine; the closures bind
	// the PIDs before any traffic arrives.
	var hubPID, brokerPID *actor.PID
	hub := chat.NewHub(cfg, chat.HubDeps{
		Repo:    st.Chat,
		Matches: st.Matches,
		Log:     log,
		Offline: func(userID string) { eng.Send(brokerPID, chat.UserOffline{UserID: userID}, nil) },
	})
	broker := chat.NewInviteBroker(cfg, chat.BrokerDeps{
		Matches: st.Matches,
		Log:     log,
		Notify:  func(userID string, event interface{}) { eng.Send(hubPID, chat.Notify{UserID: userID, Event: event}, nil) },
	})
	hubPID = eng.SpawnNamed(actor.NewProps(func() actor.Actor { return hub }), "chat-hub")
	require.NotNil(t, hubPID)
	brokerPID = eng.SpawnNamed(actor.NewProps(func() actor.Actor { return broker }), "invite-broker")
	require.NotNil(t, brokerPID)

	srv := New(cfg, log, st, gate, registry, tournaments, eng, hubPID, brokerPID)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		eng.Shutdown(time.Second)
	})

	return &testServer{
		t:           t,
		ts:          ts,
		cfg:         cfg,
		st:          st,
		gate:        gate,
		eng:         eng,
		tournaments: tournaments,
		chatRepo:    st.Chat.(*store.MemoryChatRepo),
	}
}

func (h *testServer) token(userID string) string {
	h.t.Helper()
	pair, err := h.gate.Issue(context.Background(), userID)
	require.NoError(h.t, err)
	return pair.AccessToken
}

func (h *testServer) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.ts.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer res.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func TestRESTRejectsMissingAndGarbageTokens(t *testing.T) {
	h := newTestServer(t)

	status, body := h.do(http.MethodPost, "/matches/pong", "", map[string]string{"opponentId": "bob"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHORIZED", body["code"])

	status, body = h.do(http.MethodPost, "/matches/pong", "garbage", map[string]string{"opponentId": "bob"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHORIZED", body["code"])
}

func TestSessionIssueAndRefresh(t *testing.T) {
	h := newTestServer(t)

	status, body := h.do(http.MethodPost, "/auth/session", "", map[string]string{"userId": "alice"})
	require.Equal(t, http.StatusCreated, status)
	access, _ := body["accessToken"].(string)
	refresh, _ := body["refreshToken"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	// The issued token authorizes requests.
	status, _ = h.do(http.MethodPost, "/matches/pong", access, map[string]string{"opponentId": "bob"})
	require.Equal(t, http.StatusCreated, status)

	// So does a refreshed one.
	status, body = h.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, status)
	fresh, _ := body["accessToken"].(string)
	require.NotEmpty(t, fresh)
	status, _ = h.do(http.MethodPost, "/matches/pong", fresh, map[string]string{"opponentId": "carol"})
	require.Equal(t, http.StatusCreated, status)
}

func TestCreateAndFetchMatch(t *testing.T) {
	h := newTestServer(t)
	token := h.token("alice")

	status, body := h.do(http.MethodPost, "/matches/pong", token, map[string]string{"opponentId": "bob"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "waiting", body["state"])
	require.Equal(t, "alice", body["p1Id"])
	require.Equal(t, "bob", body["p2Id"])
	id, _ := body["matchId"].(string)
	require.NotEmpty(t, id)

	status, body = h.do(http.MethodGet, "/matches/pong/"+id, token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, id, body["matchId"])

	status, body = h.do(http.MethodGet, "/matches/pong/no-such-match", token, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", body["code"])
}

func TestCreateMatchRejectsSelfOpponent(t *testing.T) {
	h := newTestServer(t)
	token := h.token("alice")

	status, body := h.do(http.MethodPost, "/matches/pong", token, map[string]string{"opponentId": "alice"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "INVALID_INPUT", body["code"])
}

func TestPatchMatchRecordsResultOnce(t *testing.T) {
	h := newTestServer(t)
	token := h.token("alice")

	_, body := h.do(http.MethodPost, "/matches/pong", token, map[string]string{"opponentId": "bob"})
	id := body["matchId"].(string)

	p1, p2 := 7, 11
	status, body := h.do(http.MethodPatch, "/matches/pong/"+id, token, map[string]interface{}{
		"winnerId": "bob", "p1Score": p1, "p2Score": p2,
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ended", body["state"])
	require.Equal(t, "bob", body["winnerId"])

	// A second completion is a no-op; the first result stands.
	status, body = h.do(http.MethodPatch, "/matches/pong/"+id, token, map[string]interface{}{
		"winnerId": "alice", "p1Score": 11, "p2Score": 0,
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "bob", body["winnerId"])
	require.Equal(t, float64(7), body["p1Score"])

	// The winner must be a participant.
	status, body = h.do(http.MethodPatch, "/matches/pong/"+id, token, map[string]interface{}{
		"winnerId": "mallory", "p1Score": 11, "p2Score": 0,
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "INVALID_INPUT", body["code"])
}

func TestTournamentLifecycleOverREST(t *testing.T) {
	h := newTestServer(t)
	token := h.token("organizer")

	status, body := h.do(http.MethodPost, "/tournament", token, map[string]string{"name": "Friday Cup"})
	require.Equal(t, http.StatusCreated, status)
	tid := body["tournamentId"].(string)
	require.NotEmpty(t, tid)

	// Nothing queued yet: no pairing.
	status, body = h.do(http.MethodPost, "/tournament/announce-next", token, map[string]string{"tournamentId": tid})
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, body["match"])

	var players []string
	for _, alias := range []string{"Ace", "Bolt"} {
		status, body = h.do(http.MethodPost, "/tournament/register", token, map[string]string{
			"tournamentId": tid, "alias": alias,
		})
		require.Equal(t, http.StatusCreated, status)
		players = append(players, body["playerId"].(string))
	}

	// Duplicate alias conflicts.
	status, body = h.do(http.MethodPost, "/tournament/register", token, map[string]string{
		"tournamentId": tid, "alias": "Ace",
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "CONFLICT", body["code"])

	for _, pid := range players {
		status, _ = h.do(http.MethodPost, "/tournament/queue/join", token, queueRequest{TournamentID: tid, PlayerID: pid})
		require.Equal(t, http.StatusOK, status)
	}

	status, body = h.do(http.MethodPost, "/tournament/announce-next", token, map[string]string{"tournamentId": tid})
	require.Equal(t, http.StatusOK, status)
	announced, ok := body["match"].(map[string]interface{})
	require.True(t, ok, "expected a pairing, got %v", body["match"])
	mid := announced["matchId"].(string)
	winner := announced["p1"].(string)

	status, _ = h.do(http.MethodPost, "/tournament/result", token, map[string]interface{}{
		"tournamentId": tid, "matchId": mid, "p1Score": 11, "p2Score": 4, "winnerId": winner,
	})
	require.Equal(t, http.StatusOK, status)

	status, body = h.do(http.MethodGet, "/tournament/"+tid+"/board", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "completed", body["status"])
	require.Len(t, body["players"], 2)
	matches := body["matches"].([]interface{})
	require.Len(t, matches, 1)
	require.Equal(t, "completed", matches[0].(map[string]interface{})["status"])
	require.Empty(t, body["queue"])
}

func TestQueueJoinUnknownPlayer(t *testing.T) {
	h := newTestServer(t)
	token := h.token("organizer")

	_, body := h.do(http.MethodPost, "/tournament", token, map[string]string{"name": "Friday Cup"})
	tid := body["tournamentId"].(string)

	status, body := h.do(http.MethodPost, "/tournament/queue/join", token, queueRequest{TournamentID: tid, PlayerID: "nobody"})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", body["code"])
}

func TestRecordResultValidatesPayload(t *testing.T) {
	h := newTestServer(t)
	token := h.token("organizer")

	_, body := h.do(http.MethodPost, "/tournament", token, map[string]string{"name": "Friday Cup"})
	tid := body["tournamentId"].(string)

	// Negative scores never reach the coordinator.
	status, resp := h.do(http.MethodPost, "/tournament/result", token, map[string]interface{}{
		"tournamentId": tid, "matchId": "m-1", "p1Score": -1, "p2Score": 4, "winnerId": "p-1",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "INVALID_INPUT", resp["code"])

	// A result for a match that was never announced is an invalid state.
	status, resp = h.do(http.MethodPost, "/tournament/result", token, map[string]interface{}{
		"tournamentId": tid, "matchId": "m-1", "p1Score": 11, "p2Score": 4, "winnerId": "p-1",
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "INVALID_STATE", resp["code"])
}
