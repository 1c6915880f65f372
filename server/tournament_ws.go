package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pongarena/server/auth"
)

// Spectator-socket frames. The feed itself is tournament.Event.
type spectatorErrorEvent struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}

type spectatorPongEvent struct {
	Type string `json:"type"` // "pong"
	TS   int64  `json:"ts"`
}

// handleTournamentSocket is the spectator feed. A socket may follow any
// number of tournaments; subscriptions are torn down when the socket goes
// away so coordinators never hold dead connections.
func (s *Server) handleTournamentSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("tournament upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(ws, s.cfg.SendQueueSize, s.cfg.IdlePingInterval, s.log)
	go conn.writePump()

	if _, err := s.gate.Verify(r.Context(), auth.TokenFromRequest(r)); err != nil {
		conn.Close(4401, "unauthorized")
		return
	}

	// Only the read loop touches this set.
	subscribed := make(map[string]bool)

	conn.readPump(func(data []byte) {
		var msg struct {
			Type         string `json:"type"`
			TournamentID string `json:"tournamentId"`
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			conn.TrySend(spectatorErrorEvent{Type: "error", Error: "INVALID_INPUT"})
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.TournamentID == "" {
				conn.TrySend(spectatorErrorEvent{Type: "error", Error: "INVALID_INPUT"})
				return
			}
			if !s.tournaments.Subscribe(msg.TournamentID, conn) {
				conn.TrySend(spectatorErrorEvent{Type: "error", Error: "NOT_FOUND"})
				return
			}
			subscribed[msg.TournamentID] = true
		case "unsubscribe":
			delete(subscribed, msg.TournamentID)
			s.tournaments.Unsubscribe(msg.TournamentID, conn)
		case "ping":
			conn.TrySend(spectatorPongEvent{Type: "pong", TS: time.Now().UnixMilli()})
		default:
			conn.TrySend(spectatorErrorEvent{Type: "error", Error: "INVALID_INPUT"})
		}
	})

	conn.Close(1000, "")
	for id := range subscribed {
		s.tournaments.Unsubscribe(id, conn)
	}
}
