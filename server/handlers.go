package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/pongarena/server/store"
)

// matchView is the REST shape of a match row.
type matchView struct {
	MatchID      string  `json:"matchId"`
	TournamentID *string `json:"tournamentId,omitempty"`
	P1ID         string  `json:"p1Id"`
	P2ID         string  `json:"p2Id"`
	P1Score      int     `json:"p1Score"`
	P2Score      int     `json:"p2Score"`
	WinnerID     *string `json:"winnerId,omitempty"`
	State        string  `json:"state"`
	CreatedAt    int64   `json:"createdAt"`
	StartedAt    *int64  `json:"startedAt,omitempty"`
	EndedAt      *int64  `json:"endedAt,omitempty"`
}

func viewOfMatch(m *store.Match) matchView {
	v := matchView{
		MatchID:      m.ID,
		TournamentID: m.TournamentID,
		P1ID:         m.P1ID,
		P2ID:         m.P2ID,
		P1Score:      m.P1Score,
		P2Score:      m.P2Score,
		WinnerID:     m.WinnerID,
		State:        string(m.State),
		CreatedAt:    m.CreatedAt.UnixMilli(),
	}
	if m.StartedAt != nil {
		ms := m.StartedAt.UnixMilli()
		v.StartedAt = &ms
	}
	if m.EndedAt != nil {
		ms := m.EndedAt.UnixMilli()
		v.EndedAt = &ms
	}
	return v
}

func (s *Server) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, errBadRequest)
		return
	}
	pair, err := s.gate.Issue(r.Context(), body.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeError(w, errBadRequest)
		return
	}
	pair, err := s.gate.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		OpponentID string `json:"opponentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OpponentID == "" || body.OpponentID == userID {
		writeError(w, errBadRequest)
		return
	}

	m := &store.Match{
		ID:        ksuid.New().String(),
		P1ID:      userID,
		P2ID:      body.OpponentID,
		State:     store.MatchWaiting,
		CreatedAt: time.Now(),
	}
	if err := s.store.Matches.Create(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("match created", zap.String("matchId", m.ID), zap.String("p1", m.P1ID), zap.String("p2", m.P2ID))
	writeJSON(w, http.StatusCreated, viewOfMatch(m))
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request, _ string) {
	m, err := s.store.Matches.Get(r.Context(), mux.Vars(r)["matchId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOfMatch(m))
}

// handlePatchMatch records a result directly. Idempotent: completing an
// already-terminal match changes nothing.
func (s *Server) handlePatchMatch(w http.ResponseWriter, r *http.Request, _ string) {
	id := mux.Vars(r)["matchId"]
	var body struct {
		WinnerID string `json:"winnerId"`
		P1Score  *int   `json:"p1Score"`
		P2Score  *int   `json:"p2Score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		body.WinnerID == "" || body.P1Score == nil || body.P2Score == nil ||
		*body.P1Score < 0 || *body.P2Score < 0 {
		writeError(w, errBadRequest)
		return
	}

	m, err := s.store.Matches.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if body.WinnerID != m.P1ID && body.WinnerID != m.P2ID {
		writeError(w, errBadRequest)
		return
	}

	if err := s.store.Matches.Complete(r.Context(), id, store.MatchEnded, body.WinnerID, *body.P1Score, *body.P2Score, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	m, err = s.store.Matches.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOfMatch(m))
}

func (s *Server) handleCreateTournament(w http.ResponseWriter, r *http.Request, _ string) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, errBadRequest)
		return
	}
	t := &store.Tournament{
		ID:        uuid.NewString(),
		Name:      body.Name,
		Status:    store.TournamentPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.Tournaments.Create(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"tournamentId": t.ID,
		"name":         t.Name,
		"status":       string(t.Status),
	})
}

func (s *Server) handleRegisterPlayer(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		TournamentID string  `json:"tournamentId"`
		Alias        string  `json:"alias"`
		UserID       *string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TournamentID == "" || body.Alias == "" {
		writeError(w, errBadRequest)
		return
	}
	if _, err := s.store.Tournaments.Get(r.Context(), body.TournamentID); err != nil {
		writeError(w, err)
		return
	}

	linked := body.UserID
	if linked == nil {
		linked = &userID
	}
	p := &store.TournamentPlayer{
		ID:           uuid.NewString(),
		TournamentID: body.TournamentID,
		Alias:        body.Alias,
		UserID:       linked,
		CreatedAt:    time.Now(),
	}
	if err := s.store.Tournaments.AddPlayer(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"playerId": p.ID,
		"alias":    p.Alias,
	})
}

type queueRequest struct {
	TournamentID string `json:"tournamentId"`
	PlayerID     string `json:"playerId"`
}

func (s *Server) handleQueueJoin(w http.ResponseWriter, r *http.Request, _ string) {
	var body queueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TournamentID == "" || body.PlayerID == "" {
		writeError(w, errBadRequest)
		return
	}
	if err := s.tournaments.Enqueue(body.TournamentID, body.PlayerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"queued": true})
}

func (s *Server) handleQueueLeave(w http.ResponseWriter, r *http.Request, _ string) {
	var body queueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TournamentID == "" || body.PlayerID == "" {
		writeError(w, errBadRequest)
		return
	}
	if err := s.tournaments.Dequeue(body.TournamentID, body.PlayerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"queued": false})
}

type tournamentMatchView struct {
	MatchID  string  `json:"matchId"`
	P1       string  `json:"p1"`
	P2       string  `json:"p2"`
	Order    int     `json:"order"`
	Status   string  `json:"status"`
	WinnerID *string `json:"winnerId,omitempty"`
	P1Score  *int    `json:"p1Score,omitempty"`
	P2Score  *int    `json:"p2Score,omitempty"`
}

func viewOfTournamentMatch(m *store.TournamentMatch) tournamentMatchView {
	return tournamentMatchView{
		MatchID:  m.ID,
		P1:       m.P1ID,
		P2:       m.P2ID,
		Order:    m.Order,
		Status:   string(m.Status),
		WinnerID: m.WinnerID,
		P1Score:  m.P1Score,
		P2Score:  m.P2Score,
	}
}

func (s *Server) handleAnnounceNext(w http.ResponseWriter, r *http.Request, _ string) {
	var body struct {
		TournamentID string `json:"tournamentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TournamentID == "" {
		writeError(w, errBadRequest)
		return
	}
	if _, err := s.store.Tournaments.Get(r.Context(), body.TournamentID); err != nil {
		writeError(w, err)
		return
	}

	m, err := s.tournaments.AnnounceNext(body.TournamentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if m == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"match": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"match": viewOfTournamentMatch(m)})
}

func (s *Server) handleRecordResult(w http.ResponseWriter, r *http.Request, _ string) {
	var body struct {
		TournamentID string `json:"tournamentId"`
		MatchID      string `json:"matchId"`
		P1Score      *int   `json:"p1Score"`
		P2Score      *int   `json:"p2Score"`
		WinnerID     string `json:"winnerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		body.TournamentID == "" || body.MatchID == "" || body.WinnerID == "" ||
		body.P1Score == nil || body.P2Score == nil || *body.P1Score < 0 || *body.P2Score < 0 {
		writeError(w, errBadRequest)
		return
	}
	if err := s.tournaments.RecordResult(body.TournamentID, body.MatchID, *body.P1Score, *body.P2Score, body.WinnerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

func (s *Server) handleGetTournament(w http.ResponseWriter, r *http.Request, _ string) {
	t, err := s.store.Tournaments.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tournamentId": t.ID,
		"name":         t.Name,
		"status":       string(t.Status),
	})
}

// handleTournamentBoard aggregates players, bracket matches and the current
// queue into one response.
func (s *Server) handleTournamentBoard(w http.ResponseWriter, r *http.Request, _ string) {
	id := mux.Vars(r)["id"]
	t, err := s.store.Tournaments.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	players, err := s.store.Tournaments.Players(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	matches, err := s.store.Tournaments.Matches(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	type playerView struct {
		PlayerID string `json:"playerId"`
		Alias    string `json:"alias"`
		Queued   bool   `json:"queued"`
	}
	playerViews := make([]playerView, 0, len(players))
	queue := make([]string, 0)
	for _, p := range players {
		playerViews = append(playerViews, playerView{PlayerID: p.ID, Alias: p.Alias, Queued: p.QueuedAt != nil})
		if p.QueuedAt != nil {
			queue = append(queue, p.ID)
		}
	}
	matchViews := make([]tournamentMatchView, 0, len(matches))
	for _, m := range matches {
		matchViews = append(matchViews, viewOfTournamentMatch(m))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tournamentId": t.ID,
		"name":         t.Name,
		"status":       string(t.Status),
		"players":      playerViews,
		"matches":      matchViews,
		"queue":        queue,
	})
}
