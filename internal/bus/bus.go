package bus

import "context"

// MessageBus carries inbound messages from channels to the gateway.
type MessageBus struct {
	Inbound chan InboundMessage
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 100
	}
	return &MessageBus{Inbound: make(chan InboundMessage, bufSize)}
}

// Publish queues msg, giving up when ctx is done.
func (b *MessageBus) Publish(ctx context.Context, msg InboundMessage) error {
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
