package match

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/config"
	"github.com/pongarena/server/store"
)

// Registry is the process-wide index of live match runtimes. It is the only
// global mutable state in the core; everything else lives inside an actor.
type Registry struct {
	actors     *actor.Engine
	cfg        *config.Config
	matches    store.MatchRepo
	log        *zap.Logger
	onComplete func(m *store.Match)

	mu   sync.Mutex
	live map[string]*actor.PID
}

// NewRegistry builds the registry. onComplete is invoked by runtimes after a
// terminal transition (may be nil).
func NewRegistry(actors *actor.Engine, cfg *config.Config, matches store.MatchRepo, log *zap.Logger, onComplete func(m *store.Match)) *Registry {
	return &Registry{
		actors:     actors,
		cfg:        cfg,
		matches:    matches,
		log:        log,
		onComplete: onComplete,
		live:       make(map[string]*actor.PID),
	}
}

// GetOrCreate returns the runtime for the match, spawning it on first use.
// Concurrent calls for the same id produce exactly one runtime.
func (g *Registry) GetOrCreate(id, p1ID, p2ID string, tournamentID *string) *actor.PID {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pid, ok := g.live[id]; ok {
		return pid
	}
	rt := NewRuntime(id, p1ID, p2ID, tournamentID, g.cfg, Deps{
		Matches:    g.matches,
		Log:        g.log,
		OnComplete: g.onComplete,
		OnDestroy:  g.Destroy,
	})
	// A runtime re-created over a finished row must not replay the match:
	// it comes up terminal and serves only joined and rematch traffic.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	if row, err := g.matches.Get(ctx, id); err == nil && row.State.Terminal() {
		rt.state = row.State
	}
	cancel()
	pid := g.actors.SpawnNamed(actor.NewProps(func() actor.Actor { return rt }), "match-"+id)
	if pid == nil {
		return nil // engine shutting down
	}
	g.live[id] = pid
	return pid
}

// Get returns the live runtime for the match, if any.
func (g *Registry) Get(id string) (*actor.PID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pid, ok := g.live[id]
	return pid, ok
}

// Destroy stops the runtime and drops it from the index. Runtimes call this
// themselves at end of life; calling it twice is harmless.
func (g *Registry) Destroy(id string) {
	g.mu.Lock()
	pid, ok := g.live[id]
	delete(g.live, id)
	g.mu.Unlock()
	if ok {
		g.actors.Stop(pid)
		g.log.Info("match runtime destroyed", zap.String("matchId", id))
	}
}

// Len reports how many runtimes are live.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live)
}
