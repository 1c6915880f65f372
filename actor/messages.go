package actor

// Started is delivered to an actor after its goroutine has started.
type Started struct{}

// Stopping is delivered when the actor should finish up. No further user
// messages are delivered after Stopping.
type Stopping struct{}

// Stopped is the final message an actor receives before its goroutine exits.
type Stopped struct{}

// envelope wraps a user message with sender and request/reply bookkeeping.
type envelope struct {
	sender    *PID
	message   interface{}
	requestID string
	replyCh   chan interface{}
}
