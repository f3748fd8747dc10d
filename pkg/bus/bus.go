package bus

import (
	"context"
	"errors"
	"sync"
)

const defaultBufferSize = 100

// ErrBusClosed is returned when replying through a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

// MessageBus carries supervisor events to their single ordered consumer,
// copies them to lossy observers, and queues outbound replies.
type MessageBus struct {
	events   chan Event
	outbound chan OutboundMessage

	observers      map[uint64]chan Event
	nextObserverID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		events:    make(chan Event, defaultBufferSize),
		outbound:  make(chan OutboundMessage, defaultBufferSize),
		observers: make(map[uint64]chan Event),
		done:      make(chan struct{}),
	}
}

// ConsumeEvent returns the next event in publish order.
func (mb *MessageBus) ConsumeEvent(ctx context.Context) (Event, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return Event{}, false
	case <-mb.done:
		return Event{}, false
	case event := <-mb.events:
		return event, true
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.outbound <- msg:
		return true
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-mb.done:
		return OutboundMessage{}, false
	case msg := <-mb.outbound:
		return msg, true
	}
}

// Reply queues text for chatID. It satisfies the command router's replier.
func (mb *MessageBus) Reply(ctx context.Context, chatID string, text string) error {
	if !mb.PublishOutbound(ctx, OutboundMessage{ChatID: chatID, Content: text}) {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusClosed
	}
	return nil
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.observers {
			close(ch)
			delete(mb.observers, id)
		}
		mb.mu.Unlock()
	})
}
