package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/auth"
	"github.com/pongarena/server/config"
	"github.com/pongarena/server/match"
	"github.com/pongarena/server/store"
	"github.com/pongarena/server/tournament"
)

// Server wires the REST surface and the socket endpoints to the core.
type Server struct {
	cfg         *config.Config
	log         *zap.Logger
	store       *store.Store
	gate        *auth.Gate
	registry    *match.Registry
	tournaments *tournament.Manager
	actors      *actor.Engine
	hubPID      *actor.PID
	brokerPID   *actor.PID
	upgrader    websocket.Upgrader
}

// New builds the server. hubPID and brokerPID are the spawned chat hub and
// invitation broker.
func New(cfg *config.Config, log *zap.Logger, st *store.Store, gate *auth.Gate,
	registry *match.Registry, tournaments *tournament.Manager,
	actors *actor.Engine, hubPID, brokerPID *actor.PID) *Server {
	return &Server{
		cfg:         cfg,
		log:         log.Named("server"),
		store:       st,
		gate:        gate,
		registry:    registry,
		tournaments: tournaments,
		actors:      actors,
		hubPID:      hubPID,
		brokerPID:   brokerPID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS layer; the
			// upgrader accepts what the router let through.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router assembles the route table with CORS per configured origins.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/auth/session", s.handleIssueSession).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefreshSession).Methods(http.MethodPost)

	r.HandleFunc("/matches/pong", s.withAuth(s.handleCreateMatch)).Methods(http.MethodPost)
	r.HandleFunc("/matches/pong/{matchId}", s.withAuth(s.handleGetMatch)).Methods(http.MethodGet)
	r.HandleFunc("/matches/pong/{matchId}", s.withAuth(s.handlePatchMatch)).Methods(http.MethodPatch)

	r.HandleFunc("/tournament", s.withAuth(s.handleCreateTournament)).Methods(http.MethodPost)
	r.HandleFunc("/tournament/register", s.withAuth(s.handleRegisterPlayer)).Methods(http.MethodPost)
	r.HandleFunc("/tournament/queue/join", s.withAuth(s.handleQueueJoin)).Methods(http.MethodPost)
	r.HandleFunc("/tournament/queue/leave", s.withAuth(s.handleQueueLeave)).Methods(http.MethodPost)
	r.HandleFunc("/tournament/announce-next", s.withAuth(s.handleAnnounceNext)).Methods(http.MethodPost)
	r.HandleFunc("/tournament/result", s.withAuth(s.handleRecordResult)).Methods(http.MethodPost)
	r.HandleFunc("/tournament/{id}", s.withAuth(s.handleGetTournament)).Methods(http.MethodGet)
	r.HandleFunc("/tournament/{id}/board", s.withAuth(s.handleTournamentBoard)).Methods(http.MethodGet)

	r.HandleFunc("/ws/pong/{matchId}", s.handlePongSocket)
	r.HandleFunc("/ws/chat", s.handleChatSocket)
	r.HandleFunc("/ws/tournament", s.handleTournamentSocket)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// withAuth verifies the access token and hands the subject to the handler.
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			writeError(w, auth.ErrInvalidToken)
			return
		}
		userID, err := s.gate.Verify(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, userID)
	}
}
