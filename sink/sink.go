package sink

import (
	"context"

	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/errors"
)

// ChannelSink buffers events for a single connection.
// Delivery is best-effort: a slow client that fills its buffer loses the
// event rather than stalling the room (history replay on reconnect is the
// recovery path).
type ChannelSink struct {
	Events chan event.DomainEvent
}

func NewChannelSink(bufferSize int) *ChannelSink {
	return &ChannelSink{Events: make(chan event.DomainEvent, bufferSize)}
}

// Consume hands the event to the connection's writer.
func (s *ChannelSink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.ErrSlowConsumer
	}
}

var _ contract.EventSink = (*ChannelSink)(nil)
