package actor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAskTimeout is returned by Ask when no reply arrives in time.
var ErrAskTimeout = fmt.Errorf("actor: ask timed out")

// ErrActorNotFound is returned by Ask when the target PID is not registered.
var ErrActorNotFound = fmt.Errorf("actor: not found")

// Engine manages actor lifecycles and message dispatch.
type Engine struct {
	pidCounter uint64
	reqCounter uint64
	actors     map[string]*process
	mu         sync.RWMutex // Protects the actors map
	stopping   atomic.Bool
}

// NewEngine creates a new actor engine.
func NewEngine() *Engine {
	return &Engine{actors: make(map[string]*process)}
}

func (e *Engine) nextPID(name string) *PID {
	id := atomic.AddUint64(&e.pidCounter, 1)
	if name == "" {
		name = "actor"
	}
	return &PID{ID: fmt.Sprintf("%s-%d", name, id)}
}

// Spawn creates and starts a new actor from the given Props and returns its
// PID, or nil when the engine is shutting down.
func (e *Engine) Spawn(props *Props) *PID {
	return e.SpawnNamed(props, "")
}

// SpawnNamed is Spawn with a PID prefix, which keeps logs readable when many
// actors of the same kind are alive.
func (e *Engine) SpawnNamed(props *Props, name string) *PID {
	if e.stopping.Load() {
		return nil
	}

	pid := e.nextPID(name)
	proc := newProcess(e, pid, props)

	e.mu.Lock()
	e.actors[pid.ID] = proc
	e.mu.Unlock()

	go proc.run()

	e.Send(pid, Started{}, nil)
	return pid
}

// Send delivers a message to the actor identified by pid. The sender may be
// nil when the message originates outside the actor system. Sends never
// block: a full mailbox drops the message.
func (e *Engine) Send(pid *PID, message interface{}, sender *PID) {
	if pid == nil {
		return
	}
	_, isStopping := message.(Stopping)
	_, isStopped := message.(Stopped)
	isSystem := isStopping || isStopped || message == (Started{})
	if e.stopping.Load() && !isSystem {
		return
	}

	e.mu.RLock()
	proc, ok := e.actors[pid.ID]
	e.mu.RUnlock()
	if ok {
		proc.post(&envelope{sender: sender, message: message})
	}
}

// Ask sends a message and waits for the actor to Reply, up to timeout.
func (e *Engine) Ask(pid *PID, message interface{}, timeout time.Duration) (interface{}, error) {
	if pid == nil {
		return nil, ErrActorNotFound
	}
	e.mu.RLock()
	proc, ok := e.actors[pid.ID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrActorNotFound
	}

	reqID := fmt.Sprintf("req-%d", atomic.AddUint64(&e.reqCounter, 1))
	replyCh := make(chan interface{}, 1)
	if !proc.post(&envelope{message: message, requestID: reqID, replyCh: replyCh}) {
		return nil, ErrActorNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case response := <-replyCh:
		if err, ok := response.(error); ok {
			return nil, err
		}
		return response, nil
	case <-timer.C:
		return nil, ErrAskTimeout
	}
}

// Stop requests an actor to stop. The actor processes Stopping, then Stopped
// after its goroutine exits.
func (e *Engine) Stop(pid *PID) {
	if pid == nil {
		return
	}
	e.mu.RLock()
	proc, ok := e.actors[pid.ID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	e.Send(pid, Stopping{}, nil)
	// Signal the stop channel directly so a full mailbox cannot keep the
	// actor alive.
	proc.signalStop()
}

// remove drops an actor process from the engine's tracking. Called by the
// process itself when it fully stops.
func (e *Engine) remove(pid *PID) {
	e.mu.Lock()
	delete(e.actors, pid.ID)
	e.mu.Unlock()
}

// ActorCount reports how many actors are currently registered.
func (e *Engine) ActorCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.actors)
}

// Shutdown stops all actors and waits up to timeout for them to terminate.
func (e *Engine) Shutdown(timeout time.Duration) {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}

	e.mu.RLock()
	pidsToStop := make([]*PID, 0, len(e.actors))
	for _, proc := range e.actors {
		pidsToStop = append(pidsToStop, proc.pid)
	}
	e.mu.RUnlock()

	for _, pid := range pidsToStop {
		e.Stop(pid)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.ActorCount() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	e.mu.Lock()
	if len(e.actors) > 0 {
		fmt.Printf("actor: shutdown timeout, %d actors did not stop gracefully\n", len(e.actors))
		e.actors = make(map[string]*process)
	}
	e.mu.Unlock()
}
