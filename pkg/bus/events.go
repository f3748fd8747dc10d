package bus

import (
	"context"
	"sync"
	"time"
)

// PublishEvent appends event to the ordered stream, blocking while the
// consumer is behind, and offers a copy to every observer. Observers that
// are full miss the event.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
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
	case mb.events <- event:
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, ch := range mb.observers {
		select {
		case ch <- event:
		default:
		}
	}

	return true
}

// Observe registers a lossy event observer. The channel is closed on
// unsubscribe, ctx cancellation or bus close.
func (mb *MessageBus) Observe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextObserverID
	mb.nextObserverID++
	mb.observers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.observers[id]; ok {
				delete(mb.observers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
