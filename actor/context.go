package actor

// Context provides information and capabilities to an Actor while it
// processes one message.
type Context interface {
	// Engine returns the engine managing this actor.
	Engine() *Engine
	// Self returns the PID of the actor processing the message.
	Self() *PID
	// Sender returns the PID of the sending actor, if any.
	Sender() *PID
	// Message returns the message being processed.
	Message() interface{}
	// RequestID is non-empty when the message arrived via Ask and a reply
	// is expected.
	RequestID() string
	// Reply answers an Ask request. It is a no-op for plain Sends and for
	// duplicate replies.
	Reply(response interface{})
}

type messageContext struct {
	engine    *Engine
	self      *PID
	sender    *PID
	message   interface{}
	requestID string
	replyCh   chan interface{}
	replied   bool
}

func (c *messageContext) Engine() *Engine      { return c.engine }
func (c *messageContext) Self() *PID           { return c.self }
func (c *messageContext) Sender() *PID         { return c.sender }
func (c *messageContext) Message() interface{} { return c.message }
func (c *messageContext) RequestID() string    { return c.requestID }

func (c *messageContext) Reply(response interface{}) {
	if c.replyCh == nil || c.replied {
		return
	}
	c.replied = true
	select {
	case c.replyCh <- response:
	default:
	}
}
