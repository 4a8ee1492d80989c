package events

import (
	"context"
	"sync"

	"swapmarket/internal/domain/entity"
)

// Bus is an event publisher whose events can also be consumed in process.
type Bus interface {
	Publish(ctx context.Context, event entity.MessagingEvent) error
	Subscribe(handler func(entity.MessagingEvent)) (func(), error)
}

var (
	_ Bus = (*NATSPublisher)(nil)
	_ Bus = (*LocalBus)(nil)
)

// LocalBus delivers events synchronously to in-process subscribers. It is
// used when NATS is not configured and a single instance serves every socket.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[int]func(entity.MessagingEvent)
	next     int
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(entity.MessagingEvent))}
}

func (b *LocalBus) Publish(ctx context.Context, event entity.MessagingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	handlers := make([]func(entity.MessagingEvent), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *LocalBus) Subscribe(handler func(entity.MessagingEvent)) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}
