// Package match owns the live Pong matches: a runtime actor per match, the
// process-wide registry of live runtimes, and the post-game rematch pairing.
// Every external stimulus (socket message, disconnect, timer) enters a
// runtime as a mailbox message, so no two handlers ever run concurrently
// against the same match.
package match

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/config"
	"github.com/pongarena/server/physics"
	"github.com/pongarena/server/store"
)

const persistTimeout = 5 * time.Second

// Deps are the collaborators a runtime calls out to. OnComplete runs after a
// terminal transition is persisted (stats, tournament notification);
// OnDestroy asks the registry to tear the runtime down.
type Deps struct {
	Matches    store.MatchRepo
	Log        *zap.Logger
	OnComplete func(m *store.Match)
	OnDestroy  func(id string)
}

// seat is one participant's slot in the connection map. conn is nil while
// the participant is inside a reconnect grace window.
type seat struct {
	conn     Outbound
	ready    bool
	lastSeq  int64
	winStart time.Time
	winCount int
}

// Runtime is the single-writer state machine for one match.
type Runtime struct {
	id           string
	p1ID, p2ID   string
	tournamentID *string
	cfg          *config.Config
	deps         Deps
	log          *zap.Logger

	engine *physics.Engine
	state  store.MatchState
	seats  map[string]*seat

	pausedBy string
	started  bool // startedAt persisted

	countdownLeft  int
	countdownEpoch int
	countdownStep  time.Duration

	graceEpochs  map[string]int
	rematch      *rematchOffer
	rematchEpoch int

	tickerStop chan struct{}

	self *actor.PID
	eng  *actor.Engine
	now  func() time.Time
}

// NewRuntime builds a runtime for the given match row. It does not start
// processing until spawned on an actor engine.
func NewRuntime(id, p1ID, p2ID string, tournamentID *string, cfg *config.Config, deps Deps) *Runtime {
	return &Runtime{
		id:            id,
		p1ID:          p1ID,
		p2ID:          p2ID,
		tournamentID:  tournamentID,
		cfg:           cfg,
		deps:          deps,
		log:           deps.Log.Named("match").With(zap.String("matchId", id)),
		engine:        physics.NewEngine(physicsConfig(cfg)),
		state:         store.MatchWaiting,
		seats:         make(map[string]*seat),
		graceEpochs:   make(map[string]int),
		countdownStep: time.Second,
		now:           time.Now,
	}
}

func physicsConfig(cfg *config.Config) physics.Config {
	return physics.Config{
		BallSpeed:    cfg.BallSpeed,
		PaddleSpeed:  cfg.PaddleSpeed,
		PaddleHeight: cfg.PaddleHeight,
		PaddleWidth:  cfg.PaddleWidth,
		BallSize:     cfg.BallSize,
		WinningScore: cfg.WinningScore,
	}
}

// Receive drains the mailbox one command at a time.
func (r *Runtime) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case actor.Started:
		r.self = ctx.Self()
		r.eng = ctx.Engine()
		if r.state.Terminal() {
			// Re-created over a finished row; reap on the same schedule
			// as a naturally completed match.
			eng, self := r.eng, r.self
			time.AfterFunc(r.cfg.CleanupDelay, func() {
				eng.Send(self, cleanupMsg{}, nil)
			})
		}
		r.log.Info("runtime started", zap.String("p1", r.p1ID), zap.String("p2", r.p2ID))
	case actor.Stopping:
		r.stopTicker()
		for _, s := range r.seats {
			if s.conn != nil {
				s.conn.Close(1000, "match closed")
			}
		}
		r.log.Info("runtime stopped")
	case Connect:
		r.handleConnect(msg)
	case Disconnect:
		r.handleDisconnect(msg)
	case Ready:
		r.handleReady(msg)
	case Input:
		r.handleInput(msg)
	case Pause:
		r.handlePause(msg)
	case Resume:
		r.handleResume(msg)
	case Leave:
		r.handleLeave(msg)
	case Forfeit:
		r.handleForfeit(msg)
	case RequestState:
		r.handleRequestState(msg)
	case RequestRematch:
		r.handleRematchRequest(msg)
	case AcceptRematch:
		r.handleRematchAccept(msg)
	case DeclineRematch:
		r.handleRematchDecline(msg)
	case tickMsg:
		r.handleTick()
	case countdownMsg:
		r.handleCountdown(msg)
	case graceExpiredMsg:
		r.handleGraceExpired(msg)
	case rematchExpiredMsg:
		r.handleRematchExpired(msg)
	case cleanupMsg:
		if r.deps.OnDestroy != nil {
			r.deps.OnDestroy(r.id)
		}
	}
}

func (r *Runtime) isParticipant(userID string) bool {
	return userID == r.p1ID || userID == r.p2ID
}

func (r *Runtime) opponentOf(userID string) string {
	if userID == r.p1ID {
		return r.p2ID
	}
	return r.p1ID
}

func (r *Runtime) sideOf(userID string) physics.Side {
	if userID == r.p1ID {
		return physics.SideP1
	}
	return physics.SideP2
}

func (r *Runtime) handleConnect(c Connect) {
	if !r.isParticipant(c.UserID) {
		c.Conn.Close(4401, "not a participant")
		return
	}
	s, exists := r.seats[c.UserID]
	if exists {
		if s.conn != nil && s.conn != c.Conn {
			s.conn.Close(1000, "replaced by reconnect")
		}
		s.conn = c.Conn
	} else {
		s = &seat{conn: c.Conn}
		r.seats[c.UserID] = s
	}
	r.graceEpochs[c.UserID]++ // cancels any pending grace timer

	joined := JoinedEvent{Type: "joined", MatchID: r.id, UserID: c.UserID, State: string(r.state)}
	if r.state != store.MatchWaiting && !r.state.Terminal() {
		snap := r.engine.Snapshot()
		joined.GameState = &snap
	}
	r.sendTo(c.UserID, joined)
	r.log.Info("participant connected", zap.String("userId", c.UserID), zap.Bool("reconnect", exists))
}

func (r *Runtime) handleReady(m Ready) {
	s, ok := r.seats[m.UserID]
	if !ok {
		return
	}
	if r.state != store.MatchWaiting {
		r.sendTo(m.UserID, ErrorEvent{Type: "error", Code: CodeInvalidState})
		return
	}
	s.ready = true
	r.broadcast(ReadyStateEvent{Type: "ready_state", UserID: m.UserID, Ready: true})

	p1, okP1 := r.seats[r.p1ID]
	p2, okP2 := r.seats[r.p2ID]
	if okP1 && okP2 && p1.conn != nil && p2.conn != nil && p1.ready && p2.ready {
		r.beginCountdown()
	}
}

func (r *Runtime) beginCountdown() {
	fromWaiting := r.state == store.MatchWaiting
	r.state = store.MatchCountdown
	r.pausedBy = ""

	var startedAt *time.Time
	if fromWaiting && !r.started {
		now := r.now()
		startedAt = &now
		r.started = true
	}
	r.persistState(store.MatchCountdown, nil, startedAt)

	r.countdownLeft = r.cfg.CountdownSeconds
	r.countdownEpoch++
	epoch := r.countdownEpoch
	r.broadcast(CountdownEvent{Type: "countdown", Seconds: r.countdownLeft})
	time.AfterFunc(r.countdownStep, func() {
		r.eng.Send(r.self, countdownMsg{epoch: epoch}, nil)
	})
}

func (r *Runtime) handleCountdown(m countdownMsg) {
	if r.state != store.MatchCountdown || m.epoch != r.countdownEpoch {
		return
	}
	r.countdownLeft--
	if r.countdownLeft > 0 {
		epoch := r.countdownEpoch
		r.broadcast(CountdownEvent{Type: "countdown", Seconds: r.countdownLeft})
		time.AfterFunc(r.countdownStep, func() {
			r.eng.Send(r.self, countdownMsg{epoch: epoch}, nil)
		})
		return
	}
	r.startPlaying()
}

func (r *Runtime) startPlaying() {
	r.state = store.MatchPlaying
	r.pausedBy = ""
	r.persistState(store.MatchPlaying, nil, nil)
	r.startTicker()
	r.log.Info("playing")
}

func (r *Runtime) startTicker() {
	if r.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	r.tickerStop = stop
	eng, self := r.eng, r.self
	go func() {
		ticker := time.NewTicker(r.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				eng.Send(self, tickMsg{}, nil)
			case <-stop:
				return
			}
		}
	}()
}

func (r *Runtime) stopTicker() {
	if r.tickerStop != nil {
		close(r.tickerStop)
		r.tickerStop = nil
	}
}

func (r *Runtime) handleTick() {
	if r.state != store.MatchPlaying {
		return
	}
	continues := r.engine.Tick(r.now())
	r.broadcastState()
	if !continues {
		winner := r.p1ID
		if r.engine.WinnerSide() == physics.SideP2 {
			winner = r.p2ID
		}
		r.complete(store.MatchEnded, winner, "score")
	}
}

func (r *Runtime) broadcastState() {
	snap := r.engine.Snapshot()
	r.broadcast(StateEvent{
		Type:      "state",
		Timestamp: r.now().UnixMilli(),
		Ball:      snap.Ball,
		P1:        snap.P1Y,
		P2:        snap.P2Y,
		Score:     ScorePayload{P1: snap.P1Score, P2: snap.P2Score},
	})
}

func (r *Runtime) handleInput(in Input) {
	s, ok := r.seats[in.UserID]
	if !ok || r.state != store.MatchPlaying {
		return
	}
	if in.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = in.Seq

	now := r.now()
	if now.Sub(s.winStart) >= time.Second {
		s.winStart = now
		s.winCount = 0
	}
	s.winCount++
	if s.winCount > r.cfg.InputRateLimit {
		if s.winCount == r.cfg.InputRateLimit+1 {
			r.log.Warn("input rate limit hit", zap.String("userId", in.UserID))
		}
		return
	}

	dir, ok := physics.ParseDirection(in.Direction)
	if !ok {
		r.sendTo(in.UserID, ErrorEvent{Type: "error", Code: CodeInvalidInput})
		return
	}
	r.engine.SetDirection(r.sideOf(in.UserID), dir)
}

func (r *Runtime) handlePause(m Pause) {
	if _, ok := r.seats[m.UserID]; !ok {
		return
	}
	if r.state != store.MatchPlaying {
		r.sendTo(m.UserID, ErrorEvent{Type: "error", Code: CodeInvalidState})
		return
	}
	r.state = store.MatchPaused
	r.pausedBy = m.UserID
	r.stopTicker()
	pausedBy := m.UserID
	r.persistState(store.MatchPaused, &pausedBy, nil)
	r.broadcast(PausedEvent{Type: "paused", By: m.UserID})
	r.log.Info("paused", zap.String("by", m.UserID))
}

func (r *Runtime) handleResume(m Resume) {
	if _, ok := r.seats[m.UserID]; !ok {
		return
	}
	if r.state != store.MatchPaused {
		r.sendTo(m.UserID, ErrorEvent{Type: "error", Code: CodeInvalidState})
		return
	}
	if m.UserID != r.pausedBy {
		r.sendTo(m.UserID, ErrorEvent{Type: "error", Code: CodeUnauthorizedResume})
		return
	}
	r.broadcast(ResumedEvent{Type: "resume", By: m.UserID})
	r.beginCountdown()
}

func (r *Runtime) handleRequestState(m RequestState) {
	if _, ok := r.seats[m.UserID]; !ok {
		return
	}
	snap := r.engine.Snapshot()
	r.sendTo(m.UserID, StateEvent{
		Type:      "state",
		Timestamp: r.now().UnixMilli(),
		Ball:      snap.Ball,
		P1:        snap.P1Y,
		P2:        snap.P2Y,
		Score:     ScorePayload{P1: snap.P1Score, P2: snap.P2Score},
	})
}

func (r *Runtime) handleLeave(m Leave) {
	s, ok := r.seats[m.UserID]
	if !ok {
		return
	}
	if s.conn != nil {
		s.conn.Close(1000, "left match")
	}
	r.broadcast(LeftEvent{Type: "left", UserID: m.UserID})
	r.departed(m.UserID)
}

func (r *Runtime) handleForfeit(m Forfeit) {
	if _, ok := r.seats[m.UserID]; !ok {
		return
	}
	if r.state.Terminal() {
		return
	}
	r.complete(store.MatchForfeited, r.opponentOf(m.UserID), "forfeit")
}

func (r *Runtime) handleDisconnect(d Disconnect) {
	s, ok := r.seats[d.UserID]
	if !ok || s.conn != d.Conn {
		return // connection already replaced by a reconnect
	}
	if r.cfg.ReconnectGrace > 0 && !r.state.Terminal() {
		s.conn = nil
		r.graceEpochs[d.UserID]++
		epoch := r.graceEpochs[d.UserID]
		userID := d.UserID
		time.AfterFunc(r.cfg.ReconnectGrace, func() {
			r.eng.Send(r.self, graceExpiredMsg{userID: userID, epoch: epoch}, nil)
		})
		r.log.Info("transport loss, grace window open", zap.String("userId", d.UserID))
		return
	}
	r.departed(d.UserID)
}

func (r *Runtime) handleGraceExpired(m graceExpiredMsg) {
	if m.epoch != r.graceEpochs[m.userID] {
		return
	}
	if s, ok := r.seats[m.userID]; ok && s.conn == nil {
		r.departed(m.userID)
	}
}

// departed handles a participant leaving for good, by clean leave, transport
// loss, or grace expiry.
func (r *Runtime) departed(userID string) {
	switch {
	case r.state == store.MatchWaiting:
		delete(r.seats, userID)
		if r.liveConnCount() == 0 && r.deps.OnDestroy != nil {
			r.deps.OnDestroy(r.id)
		}
	case r.state.Terminal():
		delete(r.seats, userID)
		r.cancelRematchFor(userID)
	default:
		// Mid-play departure forfeits. When the opponent is also gone the
		// earlier-seated participant (p1) takes the win.
		opponent := r.opponentOf(userID)
		winner := opponent
		if s, ok := r.seats[opponent]; !ok || s.conn == nil {
			winner = r.p1ID
		}
		delete(r.seats, userID)
		r.complete(store.MatchForfeited, winner, "forfeit")
	}
}

func (r *Runtime) liveConnCount() int {
	n := 0
	for _, s := range r.seats {
		if s.conn != nil {
			n++
		}
	}
	return n
}

// complete performs the terminal transition exactly once.
func (r *Runtime) complete(state store.MatchState, winnerID, reason string) {
	if r.state.Terminal() {
		return
	}
	r.state = state
	r.stopTicker()
	r.countdownEpoch++

	p1Score, p2Score := r.engine.Score()
	endedAt := r.now()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.deps.Matches.Complete(ctx, r.id, state, winnerID, p1Score, p2Score, endedAt); err != nil {
		r.log.Error("persist terminal state", zap.Error(err))
	}

	r.broadcast(GameOverEvent{
		Type:     "game_over",
		WinnerID: winnerID,
		P1Score:  p1Score,
		P2Score:  p2Score,
		Reason:   reason,
	})
	r.log.Info("game over",
		zap.String("winnerId", winnerID),
		zap.String("reason", reason),
		zap.Int("p1Score", p1Score),
		zap.Int("p2Score", p2Score))

	if r.deps.OnComplete != nil {
		record := &store.Match{
			ID:           r.id,
			TournamentID: r.tournamentID,
			P1ID:         r.p1ID,
			P2ID:         r.p2ID,
			P1Score:      p1Score,
			P2Score:      p2Score,
			WinnerID:     &winnerID,
			State:        state,
			EndedAt:      &endedAt,
		}
		go r.deps.OnComplete(record)
	}

	eng, self := r.eng, r.self
	time.AfterFunc(r.cfg.CleanupDelay, func() {
		eng.Send(self, cleanupMsg{}, nil)
	})
}

func (r *Runtime) persistState(state store.MatchState, pausedBy *string, startedAt *time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.deps.Matches.SetState(ctx, r.id, state, pausedBy, startedAt); err != nil {
		r.log.Error("persist state", zap.String("state", string(state)), zap.Error(err))
	}
}

// broadcast fans an event out to every live connection. A full send queue
// closes the socket with 1009 and counts as a departure.
func (r *Runtime) broadcast(event interface{}) {
	var slow []string
	for userID, s := range r.seats {
		if s.conn == nil {
			continue
		}
		if !s.conn.TrySend(event) {
			slow = append(slow, userID)
		}
	}
	for _, userID := range slow {
		r.dropSlow(userID)
	}
}

func (r *Runtime) sendTo(userID string, event interface{}) {
	s, ok := r.seats[userID]
	if !ok || s.conn == nil {
		return
	}
	if !s.conn.TrySend(event) {
		r.dropSlow(userID)
	}
}

func (r *Runtime) dropSlow(userID string) {
	s, ok := r.seats[userID]
	if !ok || s.conn == nil {
		return
	}
	r.log.Warn("send queue full, dropping connection", zap.String("userId", userID))
	s.conn.Close(1009, "send queue overflow")
	r.departed(userID)
}
