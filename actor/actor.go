package actor

// Actor is the interface implemented by anything that processes messages.
// Messages are delivered one at a time from the actor's mailbox, so an
// actor's state never sees two handlers running concurrently.
type Actor interface {
	// Receive processes a single message. The context exposes the engine,
	// the actor's own PID, the sender and, for Ask requests, a Reply path.
	Receive(ctx Context)
}

// Producer creates a new instance of an Actor.
type Producer func() Actor

// Props configures actor creation.
type Props struct {
	producer    Producer
	mailboxSize int
}

// NewProps creates Props with the given producer and the default mailbox size.
func NewProps(producer Producer) *Props {
	if producer == nil {
		panic("actor: producer cannot be nil")
	}
	return &Props{producer: producer, mailboxSize: defaultMailboxSize}
}

// WithMailboxSize overrides the mailbox capacity.
func (p *Props) WithMailboxSize(size int) *Props {
	if size > 0 {
		p.mailboxSize = size
	}
	return p
}

// Produce creates a new actor instance using the configured producer.
func (p *Props) Produce() Actor {
	return p.producer()
}
