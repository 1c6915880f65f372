package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pongarena/server/auth"
	"github.com/pongarena/server/chat"
)

// handleChatSocket is the chat ingress. One socket per call; users may open
// several. Everything routes through the hub's mailbox except invites, which
// go to the broker.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("chat upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(ws, s.cfg.SendQueueSize, s.cfg.IdlePingInterval, s.log)
	go conn.writePump()

	userID, err := s.gate.Verify(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		conn.Close(4401, "unauthorized")
		return
	}

	s.actors.Send(s.hubPID, chat.Connect{UserID: userID, Conn: conn}, nil)

	conn.readPump(func(data []byte) {
		s.routeChatMessage(userID, conn, data)
	})

	conn.Close(1000, "")
	s.actors.Send(s.hubPID, chat.Disconnect{UserID: userID, Conn: conn}, nil)
}

type chatClientMessage struct {
	Type     string  `json:"type"`
	Room     string  `json:"room"`
	Body     string  `json:"body"`
	To       string  `json:"to"`
	MatchID  string  `json:"matchId"`
	InviteID string  `json:"inviteId"`
	Accepted bool    `json:"accepted"`
	UserID   string  `json:"userId"`
	Reason   *string `json:"reason"`
}

func (s *Server) routeChatMessage(userID string, conn *wsConn, data []byte) {
	var msg chatClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		conn.TrySend(chat.ErrorEvent{Type: "error", Error: chat.CodeInvalidInput})
		return
	}

	switch msg.Type {
	case "join":
		s.actors.Send(s.hubPID, chat.JoinChannel{UserID: userID, Conn: conn, Room: msg.Room}, nil)
	case "channel":
		s.actors.Send(s.hubPID, chat.ChannelMessage{UserID: userID, Conn: conn, Room: msg.Room, Body: msg.Body}, nil)
	case "dm":
		s.actors.Send(s.hubPID, chat.DirectMessage{UserID: userID, To: msg.To, Body: msg.Body}, nil)
	case "match":
		s.actors.Send(s.hubPID, chat.MatchChat{UserID: userID, MatchID: msg.MatchID, Body: msg.Body}, nil)
	case "match_invite":
		s.actors.Send(s.brokerPID, chat.SendInvite{From: userID, To: msg.To}, nil)
	case "match_invite_response":
		s.actors.Send(s.brokerPID, chat.RespondInvite{UserID: userID, InviteID: msg.InviteID, Accepted: msg.Accepted}, nil)
	case "block":
		s.actors.Send(s.hubPID, chat.BlockUser{UserID: userID, Target: msg.UserID, Reason: msg.Reason}, nil)
	case "unblock":
		s.actors.Send(s.hubPID, chat.UnblockUser{UserID: userID, Target: msg.UserID}, nil)
	case "ping":
		conn.TrySend(chat.PongEvent{Type: "pong", TS: time.Now().UnixMilli()})
	default:
		conn.TrySend(chat.ErrorEvent{Type: "error", Error: chat.CodeInvalidInput})
	}
}
