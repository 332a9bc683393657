package bus

// Bus is the contract between chat channels and the agent core.
type Bus interface {
	// PublishInbound delivers a message from a channel to the agent.
	PublishInbound(msg InboundMessage)
	// PublishOutbound delivers a response from the agent to a channel.
	PublishOutbound(msg OutboundMessage)
	// InboundChan returns a receive-only channel for the agent to consume.
	InboundChan() <-chan InboundMessage
	// OutboundChan returns a receive-only channel for the channel manager to consume.
	OutboundChan() <-chan OutboundMessage
}

// MessageBus is the default in-process Bus implementation backed by buffered
// Go channels.
//
// Channels push InboundMessages; the agent consumes them one at a time,
// processes, and pushes OutboundMessages back for the channel manager to
// route. Delivery order is strict FIFO per direction.
type MessageBus struct {
	inbound  chan InboundMessage  // channels -> agent
	outbound chan OutboundMessage // agent -> channels
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, bufSize),
		outbound: make(chan OutboundMessage, bufSize),
	}
}

func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

func (b *MessageBus) InboundChan() <-chan InboundMessage {
	return b.inbound
}

func (b *MessageBus) OutboundChan() <-chan OutboundMessage {
	return b.outbound
}

// InboundSize reports the number of queued inbound messages.
func (b *MessageBus) InboundSize() int { return len(b.inbound) }

// OutboundSize reports the number of queued outbound messages.
func (b *MessageBus) OutboundSize() int { return len(b.outbound) }
