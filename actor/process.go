package actor

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

const defaultMailboxSize = 1024

// process is the running instance of an actor: its mailbox and the goroutine
// draining it.
type process struct {
	engine  *Engine
	pid     *PID
	actor   Actor
	mailbox chan *envelope
	props   *Props
	stopCh  chan struct{}
	stopped atomic.Bool
}

func newProcess(engine *Engine, pid *PID, props *Props) *process {
	return &process{
		engine:  engine,
		pid:     pid,
		props:   props,
		mailbox: make(chan *envelope, props.mailboxSize),
		stopCh:  make(chan struct{}),
	}
}

// post enqueues an envelope without blocking. Returns false when the message
// was dropped (actor stopped or mailbox full).
func (p *process) post(env *envelope) bool {
	_, isStopping := env.message.(Stopping)
	_, isStopped := env.message.(Stopped)
	if p.stopped.Load() && !isStopping && !isStopped {
		return false
	}
	select {
	case p.mailbox <- env:
		return true
	default:
		fmt.Printf("actor: %s mailbox full, dropping %T\n", p.pid.ID, env.message)
		return false
	}
}

func (p *process) signalStop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

// run is the actor's main loop. All of the actor's state is touched only
// from this goroutine.
func (p *process) run() {
	defer func() {
		p.stopped.Store(true)
		if p.actor != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						fmt.Printf("actor: %s panicked during Stopped: %v\n", p.pid.ID, r)
					}
				}()
				p.invokeReceive(&envelope{message: Stopped{}})
			}()
		}
		p.engine.remove(p.pid)
	}()

	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("actor: %s panicked: %v\n%s\n", p.pid.ID, r, debug.Stack())
			p.stopped.Store(true)
			p.signalStop()
		}
	}()

	p.actor = p.props.Produce()
	if p.actor == nil {
		panic(fmt.Sprintf("actor: %s producer returned nil", p.pid.ID))
	}

	for {
		select {
		case <-p.stopCh:
			if p.stopped.CompareAndSwap(false, true) {
				p.invokeReceive(&envelope{message: Stopping{}})
			}
			return

		case env := <-p.mailbox:
			_, isStopping := env.message.(Stopping)
			_, isStoppedMsg := env.message.(Stopped)
			if p.stopped.Load() && !isStopping && !isStoppedMsg {
				continue
			}

			if isStopping {
				if p.stopped.CompareAndSwap(false, true) {
					p.invokeReceive(env)
					p.signalStop()
				}
				continue
			}
			p.invokeReceive(env)
		}
	}
}

// invokeReceive calls the actor's Receive, recovering panics so one bad
// message cannot take the mailbox loop down.
func (p *process) invokeReceive(env *envelope) {
	ctx := &messageContext{
		engine:    p.engine,
		self:      p.pid,
		sender:    env.sender,
		message:   env.message,
		requestID: env.requestID,
		replyCh:   env.replyCh,
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("actor: %s panicked during Receive(%T): %v\n%s\n", p.pid.ID, env.message, r, debug.Stack())
				ctx.Reply(fmt.Errorf("actor: %s panicked: %v", p.pid.ID, r))
			}
		}()
		p.actor.Receive(ctx)
	}()
}
