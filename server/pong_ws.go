package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/auth"
	"github.com/pongarena/server/match"
)

// handlePongSocket is the match ingress: authenticate, verify participation,
// then bridge the socket into the runtime's mailbox. Close codes: 4401 auth,
// 4404 unknown match.
func (s *Server) handlePongSocket(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("pong upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(ws, s.cfg.SendQueueSize, s.cfg.IdlePingInterval, s.log)
	go conn.writePump()

	userID, err := s.gate.Verify(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		conn.Close(4401, "unauthorized")
		return
	}
	m, err := s.store.Matches.Get(r.Context(), matchID)
	if err != nil {
		conn.Close(4404, "unknown match")
		return
	}
	if userID != m.P1ID && userID != m.P2ID {
		conn.Close(4401, "not a participant")
		return
	}

	conn.TrySend(match.ConnectionOKEvent{Type: "connection_ok", UserID: userID, MatchID: matchID})

	pid := s.registry.GetOrCreate(m.ID, m.P1ID, m.P2ID, m.TournamentID)
	if pid == nil {
		conn.Close(1000, "server shutting down")
		return
	}
	s.actors.Send(pid, match.Connect{UserID: userID, Conn: conn}, nil)

	conn.readPump(func(data []byte) {
		s.routePongMessage(pid, userID, conn, data)
	})

	conn.Close(1000, "")
	s.actors.Send(pid, match.Disconnect{UserID: userID, Conn: conn}, nil)
}

// pongClientMessage is the tagged union of everything a match client sends.
// Unknown fields are ignored; unknown types are validation errors.
type pongClientMessage struct {
	Type       string `json:"type"`
	Direction  string `json:"direction"`
	Seq        int64  `json:"seq"`
	ClientTime int64  `json:"clientTime"`
}

func (s *Server) routePongMessage(pid *actor.PID, userID string, conn *wsConn, data []byte) {
	var msg pongClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		conn.TrySend(match.ErrorEvent{Type: "error", Code: match.CodeInvalidInput})
		return
	}

	switch msg.Type {
	case "join_match":
		s.actors.Send(pid, match.Connect{UserID: userID, Conn: conn}, nil)
	case "leave_match":
		s.actors.Send(pid, match.Leave{UserID: userID}, nil)
	case "ready":
		s.actors.Send(pid, match.Ready{UserID: userID}, nil)
	case "input":
		s.actors.Send(pid, match.Input{UserID: userID, Direction: msg.Direction, Seq: msg.Seq}, nil)
	case "pause":
		s.actors.Send(pid, match.Pause{UserID: userID}, nil)
	case "resume":
		s.actors.Send(pid, match.Resume{UserID: userID}, nil)
	case "request_state":
		s.actors.Send(pid, match.RequestState{UserID: userID}, nil)
	case "rematch_request":
		s.actors.Send(pid, match.RequestRematch{UserID: userID}, nil)
	case "rematch_accept":
		s.actors.Send(pid, match.AcceptRematch{UserID: userID}, nil)
	case "rematch_decline":
		s.actors.Send(pid, match.DeclineRematch{UserID: userID}, nil)
	case "forfeit":
		s.actors.Send(pid, match.Forfeit{UserID: userID}, nil)
	case "ping":
		// Answered inline without touching the runtime.
		conn.TrySend(match.PongEvent{Type: "pong", Timestamp: time.Now().UnixMilli()})
	default:
		conn.TrySend(match.ErrorEvent{Type: "error", Code: match.CodeInvalidInput})
	}
}
